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

// RowHasher computes a hashable, comparable key for a row, for use by
// MarkDistinct, HashBuild and HashProbe. The planner compiles keys
// from GROUP BY / join / DISTINCT expressions into a concrete Go
// value (string, or a fixed-size array) usable as a map key; the
// operator never inspects the key's contents.
type RowHasher interface {
	Key(loc RowLocation) (interface{}, error)
}

// MarkDistinct passes through only the first row seen for each
// distinct key, streaming rather than fully blocking: it
// emits output as soon as input arrives.
type MarkDistinct struct {
	Base
	hasher RowHasher
	seen   map[interface{}]struct{}
	queue  pageQueue
}

func NewMarkDistinct(hasher RowHasher) *MarkDistinct {
	return &MarkDistinct{hasher: hasher, seen: make(map[interface{}]struct{})}
}

func (m *MarkDistinct) NeedsInput() bool { return m.queue.drained() && !m.finished }

func (m *MarkDistinct) AddInput(p *page.Page) error {
	var kept []RowLocation
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		loc := RowLocation{Page: p, Pos: i}
		key, err := m.hasher.Key(loc)
		if err != nil {
			return err
		}
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}
		kept = append(kept, loc)
	}
	if len(kept) == 0 {
		return nil
	}
	pages, err := buildPages(kept, defaultChunkRows)
	if err != nil {
		return err
	}
	m.queue = pageQueue{pages: pages}
	return nil
}

func (m *MarkDistinct) GetOutput() (*page.Page, error) {
	return m.queue.next(), nil
}
