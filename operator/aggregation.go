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

// AggregateState accumulates one group's running aggregate values
// (SUM, COUNT, MIN, ...). The planner compiles a concrete
// implementation per query; Aggregation only drives Add/AppendResult.
type AggregateState interface {
	// Add folds one input row into the running state.
	Add(loc RowLocation) error
	// AppendResult appends this group's final aggregate values, one
	// per builder, in the order of AggregateOutputEncodings.
	AppendResult(builders []*page.Builder) error
}

// Aggregation is a fully blocking hash-grouped aggregation: it consumes all input, grouping rows by RowHasher.Key, then
// on Finish emits one output row per distinct group. Output Pages
// carry every input channel of one representative row per group (the
// group-key channels among them) followed by the aggregate channels.
type Aggregation struct {
	Base
	hasher          RowHasher
	newState        func() AggregateState
	outputEncodings []page.Encoding

	groups map[interface{}]*aggGroup
	order  []interface{}

	queue pageQueue
	ready bool
}

type aggGroup struct {
	key   RowLocation
	state AggregateState
}

func NewAggregation(hasher RowHasher, newState func() AggregateState, outputEncodings []page.Encoding) *Aggregation {
	return &Aggregation{
		hasher:          hasher,
		newState:        newState,
		outputEncodings: outputEncodings,
		groups:          make(map[interface{}]*aggGroup),
	}
}

func (a *Aggregation) NeedsInput() bool { return !a.ready }

func (a *Aggregation) AddInput(p *page.Page) error {
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		loc := RowLocation{Page: p, Pos: i}
		key, err := a.hasher.Key(loc)
		if err != nil {
			return err
		}
		g, ok := a.groups[key]
		if !ok {
			g = &aggGroup{key: loc, state: a.newState()}
			a.groups[key] = g
			a.order = append(a.order, key)
		}
		if err := g.state.Add(loc); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregation) Finish() error {
	if a.ready {
		return nil
	}
	keyLocs := make([]RowLocation, len(a.order))
	for i, k := range a.order {
		keyLocs[i] = a.groups[k].key
	}
	var keyPages []*page.Page
	var err error
	if len(keyLocs) > 0 {
		keyPages, err = buildPages(keyLocs, defaultChunkRows)
		if err != nil {
			return err
		}
	}
	pages := make([]*page.Page, 0, len(keyPages))
	pos := 0
	for _, kp := range keyPages {
		aggBuilders := make([]*page.Builder, len(a.outputEncodings))
		for i, enc := range a.outputEncodings {
			aggBuilders[i] = page.NewBuilder(enc)
		}
		n := kp.PositionCount()
		for i := 0; i < n; i++ {
			g := a.groups[a.order[pos+i]]
			if err := g.state.AppendResult(aggBuilders); err != nil {
				return err
			}
		}
		pos += n
		aggBlocks := make([]*page.Block, len(aggBuilders))
		for i, b := range aggBuilders {
			aggBlocks[i] = b.Build()
		}
		blocks := make([]*page.Block, 0, kp.ChannelCount()+len(aggBlocks))
		for c := 0; c < kp.ChannelCount(); c++ {
			blocks = append(blocks, kp.Channel(c))
		}
		blocks = append(blocks, aggBlocks...)
		merged, err := page.New(blocks)
		if err != nil {
			return err
		}
		pages = append(pages, merged)
	}
	a.queue = pageQueue{pages: pages}
	a.ready = true
	a.groups = nil
	a.order = nil
	if len(pages) == 0 {
		a.finished = true
	}
	return nil
}

func (a *Aggregation) GetOutput() (*page.Page, error) {
	if !a.ready {
		return nil, nil
	}
	p := a.queue.next()
	if a.queue.drained() {
		a.finished = true
	}
	return p, nil
}
