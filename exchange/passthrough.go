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

package exchange

import "github.com/sneller-query/qcore/memctl"

// Passthrough is the trivial local exchange: one writer, one reader,
// memory-bounded with backpressure.
type Passthrough struct {
	buf *sinkBuffer
}

// NewPassthrough returns a Passthrough exchange bounded by limitBytes
// (0 means unbounded).
func NewPassthrough(limitBytes int64) *Passthrough {
	return &Passthrough{buf: &sinkBuffer{mgr: memctl.NewManager(limitBytes)}}
}

func (p *Passthrough) Sink() *Sink     { return &Sink{buf: p.buf} }
func (p *Passthrough) Source() *Source { return &Source{buf: p.buf} }
