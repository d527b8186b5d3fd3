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
	"sort"

	"github.com/sneller-query/qcore/page"
)

// RowLess orders two rows. Implementations are compiled by the planner
// from ORDER BY key expressions; the operator itself is agnostic to
// key types.
type RowLess interface {
	Less(a, b RowLocation) bool
}

// Sort is a fully blocking operator: it accumulates every input row,
// orders them once Finish is called, and then emits sorted Pages.
// Large inputs are expected to be handled by a Spill operator
// upstream; Sort itself holds its accumulated rows in memory and
// relies on the driver's memory context to apply backpressure.
type Sort struct {
	Base
	less  RowLess
	rows  []RowLocation
	queue pageQueue
	ready bool
}

func NewSort(less RowLess) *Sort {
	return &Sort{less: less}
}

func (s *Sort) NeedsInput() bool { return !s.ready }

func (s *Sort) AddInput(p *page.Page) error {
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		s.rows = append(s.rows, RowLocation{Page: p, Pos: i})
	}
	return nil
}

func (s *Sort) Finish() error {
	if s.ready {
		return nil
	}
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.less.Less(s.rows[i], s.rows[j])
	})
	pages, err := buildPages(s.rows, defaultChunkRows)
	if err != nil {
		return err
	}
	s.queue = pageQueue{pages: pages}
	s.ready = true
	s.rows = nil
	if len(pages) == 0 {
		s.finished = true
	}
	return nil
}

func (s *Sort) GetOutput() (*page.Page, error) {
	if !s.ready {
		return nil, nil
	}
	p := s.queue.next()
	if s.queue.drained() {
		s.finished = true
	}
	return p, nil
}
