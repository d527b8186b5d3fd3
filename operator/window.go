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

// WindowFunction computes one output value per row of a partition,
// given the partition's rows in frame order and the row's index
// within it. RANK, ROW_NUMBER and running aggregates are
// all expressed this way; the operator only drives the per-row call.
type WindowFunction interface {
	Compute(partition []RowLocation, index int, out *page.Builder) error
}

// Window is a fully blocking operator: it partitions all input rows
// by RowHasher.Key, orders each partition by RowLess, evaluates a
// WindowFunction per row, and emits the original columns followed by
// the computed window column. Partitions are emitted one after
// another; cross-partition row order is not preserved.
type Window struct {
	Base
	partitionKey RowHasher
	order        RowLess
	fn           WindowFunction
	outputEnc    page.Encoding

	partitions     map[interface{}][]RowLocation
	partitionOrder []interface{}

	queue pageQueue
	ready bool
}

func NewWindow(partitionKey RowHasher, order RowLess, fn WindowFunction, outputEnc page.Encoding) *Window {
	return &Window{
		partitionKey: partitionKey,
		order:        order,
		fn:           fn,
		outputEnc:    outputEnc,
		partitions:   make(map[interface{}][]RowLocation),
	}
}

func (w *Window) NeedsInput() bool { return !w.ready }

func (w *Window) AddInput(p *page.Page) error {
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		loc := RowLocation{Page: p, Pos: i}
		key, err := w.partitionKey.Key(loc)
		if err != nil {
			return err
		}
		if _, ok := w.partitions[key]; !ok {
			w.partitionOrder = append(w.partitionOrder, key)
		}
		w.partitions[key] = append(w.partitions[key], loc)
	}
	return nil
}

func (w *Window) Finish() error {
	if w.ready {
		return nil
	}
	var pending []partitionedRow
	for _, key := range w.partitionOrder {
		part := w.partitions[key]
		if w.order != nil {
			sort.SliceStable(part, func(i, j int) bool { return w.order.Less(part[i], part[j]) })
		}
		for i, loc := range part {
			pending = append(pending, partitionedRow{part: part, index: i, loc: loc})
		}
	}
	pages, err := w.buildWindowed(pending)
	if err != nil {
		return err
	}
	w.queue = pageQueue{pages: pages}
	w.ready = true
	w.partitions = nil
	w.partitionOrder = nil
	if len(pages) == 0 {
		w.finished = true
	}
	return nil
}

type partitionedRow struct {
	part  []RowLocation
	index int
	loc   RowLocation
}

func (w *Window) buildWindowed(rows []partitionedRow) ([]*page.Page, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	channels := rows[0].loc.Page.ChannelCount()
	var out []*page.Page
	for start := 0; start < len(rows); start += defaultChunkRows {
		end := start + defaultChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		builders := make([]*page.Builder, channels)
		for c := 0; c < channels; c++ {
			builders[c] = page.NewBuilder(rows[start].loc.Page.Channel(c).Encoding())
		}
		winBuilder := page.NewBuilder(w.outputEnc)
		for _, r := range rows[start:end] {
			for c := 0; c < channels; c++ {
				if err := builders[c].AppendFrom(r.loc.Page.Channel(c), r.loc.Pos); err != nil {
					return nil, err
				}
			}
			if err := w.fn.Compute(r.part, r.index, winBuilder); err != nil {
				return nil, err
			}
		}
		blocks := make([]*page.Block, 0, channels+1)
		for c := 0; c < channels; c++ {
			blocks = append(blocks, builders[c].Build())
		}
		blocks = append(blocks, winBuilder.Build())
		p, err := page.New(blocks)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (w *Window) GetOutput() (*page.Page, error) {
	if !w.ready {
		return nil, nil
	}
	p := w.queue.next()
	if w.queue.drained() {
		w.finished = true
	}
	return p, nil
}
