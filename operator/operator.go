// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package operator implements the polymorphic Operator capability set
// and its concrete variants. Operators are single threaded within a
// Driver (package driver); they communicate across Drivers only
// through the exchange and outputbuffer packages.
package operator

import (
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// Operator is the capability set every pipeline stage implements.
// Implementations are not safe for concurrent use — a Driver calls
// into exactly one Operator at a time.
type Operator interface {
	// NeedsInput reports whether AddInput may be called right now.
	NeedsInput() bool
	// AddInput hands the operator one Page of input. It must only be
	// called when NeedsInput() is true.
	AddInput(p *page.Page) error
	// GetOutput returns the next produced Page, or (nil, nil) if the
	// operator has no output ready without more input.
	GetOutput() (*page.Page, error)
	// Finish signals that no more input will arrive; subsequent
	// GetOutput calls drain any residual output.
	Finish() error
	// IsFinished reports whether the operator has no more output to
	// produce, ever.
	IsFinished() bool
	// IsBlocked returns a Future that resolves when progress is
	// possible again. A resolved Future never un-resolves for the
	// same blocking condition.
	IsBlocked() *memctl.Future
	// Close releases any resources the operator holds. It is
	// guaranteed to be called on every exit path.
	Close() error
}

// RowProcessor is the opaque "compiled row processor" ABI: the core
// calls compiled filter/project expressions through this stable
// interface without caring whether the
// implementation is a JIT, bytecode, or a plain interpreter. It is
// intentionally the only contact point with the (out of scope)
// expression compiler.
type RowProcessor interface {
	// Process evaluates the compiled expression(s) against src and
	// returns the resulting Page.
	Process(src *page.Page) (*page.Page, error)
}

// Base provides the "finished" bookkeeping and a default "never
// blocked" IsBlocked/no-op Close shared by most variants: small
// embeddable helper structs rather than a deep class hierarchy.
type Base struct {
	finished bool
}

func (b *Base) IsFinished() bool          { return b.finished }
func (b *Base) Finish() error             { b.finished = true; return nil }
func (b *Base) Close() error              { return nil }
func (b *Base) IsBlocked() *memctl.Future { return memctl.Resolved() }
