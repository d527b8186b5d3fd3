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

package operator

import (
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// OutputSink is the Task's output buffer, as seen by the terminal
// operator of a pipeline. Enqueue may block (return a
// not-yet-resolved Future from IsBlocked) when the buffer is at its
// memory limit.
type OutputSink interface {
	Enqueue(p *page.Page) error
	IsBlocked() *memctl.Future
}

// Output is the terminal operator of a pipeline that feeds a Task's
// OutputBuffer. It produces no Pages of its own; GetOutput always
// returns nil so the Driver treats it as a pure sink.
type Output struct {
	Base
	sink OutputSink
}

func NewOutput(sink OutputSink) *Output {
	return &Output{sink: sink}
}

func (o *Output) NeedsInput() bool { return !o.finished }

func (o *Output) AddInput(p *page.Page) error { return o.sink.Enqueue(p) }

func (o *Output) GetOutput() (*page.Page, error) { return nil, nil }

func (o *Output) IsBlocked() *memctl.Future { return o.sink.IsBlocked() }
