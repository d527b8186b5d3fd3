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

import "github.com/sneller-query/qcore/page"

// rowProcessingOperator is the shared shape of Filter and Project:
// both apply a compiled RowProcessor to one input Page at a time and
// produce zero or one output Page immediately (no buffering).
type rowProcessingOperator struct {
	Base
	proc    RowProcessor
	pending *page.Page
}

func (o *rowProcessingOperator) NeedsInput() bool { return o.pending == nil && !o.finished }

func (o *rowProcessingOperator) AddInput(p *page.Page) error {
	out, err := o.proc.Process(p)
	if err != nil {
		return err
	}
	o.pending = out
	return nil
}

func (o *rowProcessingOperator) GetOutput() (*page.Page, error) {
	p := o.pending
	o.pending = nil
	return p, nil
}

// Filter applies a compiled row processor that selects a subset of
// positions.
type Filter struct{ rowProcessingOperator }

func NewFilter(proc RowProcessor) *Filter {
	return &Filter{rowProcessingOperator{proc: proc}}
}

// Project applies a compiled row/page processor that computes output
// columns from input columns.
type Project struct{ rowProcessingOperator }

func NewProject(proc RowProcessor) *Project {
	return &Project{rowProcessingOperator{proc: proc}}
}
