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
	"container/heap"
	"sort"

	"github.com/sneller-query/qcore/page"
)

// TopN keeps only the N least rows under a RowLess ordering, using a
// bounded max-heap of the worst-kept row so each input row costs
// O(log N) instead of a full sort.
type TopN struct {
	Base
	less  RowLess
	n     int
	heap  topNHeap
	queue pageQueue
	ready bool
}

func NewTopN(less RowLess, n int) *TopN {
	return &TopN{less: less, n: n, heap: topNHeap{less: less}}
}

func (t *TopN) NeedsInput() bool { return !t.ready }

func (t *TopN) AddInput(p *page.Page) error {
	if t.n <= 0 {
		return nil
	}
	count := p.PositionCount()
	for i := 0; i < count; i++ {
		loc := RowLocation{Page: p, Pos: i}
		if len(t.heap.items) < t.n {
			heap.Push(&t.heap, loc)
			continue
		}
		worst := t.heap.items[0]
		if t.less.Less(loc, worst) {
			t.heap.items[0] = loc
			heap.Fix(&t.heap, 0)
		}
	}
	return nil
}

func (t *TopN) Finish() error {
	if t.ready {
		return nil
	}
	rows := t.heap.items
	sort.SliceStable(rows, func(i, j int) bool { return t.less.Less(rows[i], rows[j]) })
	pages, err := buildPages(rows, defaultChunkRows)
	if err != nil {
		return err
	}
	t.queue = pageQueue{pages: pages}
	t.ready = true
	t.heap.items = nil
	if len(pages) == 0 {
		t.finished = true
	}
	return nil
}

func (t *TopN) GetOutput() (*page.Page, error) {
	if !t.ready {
		return nil, nil
	}
	p := t.queue.next()
	if t.queue.drained() {
		t.finished = true
	}
	return p, nil
}

// topNHeap is a max-heap ordered by "worst kept row first" (the
// inverse of less), so the root is always the row to evict when a
// better candidate arrives.
type topNHeap struct {
	items []RowLocation
	less  RowLess
}

func (h *topNHeap) Len() int { return len(h.items) }
func (h *topNHeap) Less(i, j int) bool {
	// The heap's root must be the worst kept row so it can be evicted
	// in O(log N); "worse" means greater under the caller's ordering.
	return h.less.Less(h.items[j], h.items[i])
}
func (h *topNHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topNHeap) Push(x interface{}) {
	h.items = append(h.items, x.(RowLocation))
}
func (h *topNHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
