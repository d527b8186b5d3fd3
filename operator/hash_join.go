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

// JoinHashTable holds the build side of a hash join, keyed by
// RowHasher.Key. A build side key may map to several rows (a
// many-valued join key), so lookups return a slice.
type JoinHashTable struct {
	hasher RowHasher
	rows   map[interface{}][]RowLocation
}

// NewJoinHashTable returns an empty table keyed by hasher. HashBuild
// populates it; HashProbe only reads it, so the two operators must
// run in pipelines ordered so the build side finishes first.
func NewJoinHashTable(hasher RowHasher) *JoinHashTable {
	return &JoinHashTable{hasher: hasher, rows: make(map[interface{}][]RowLocation)}
}

func (t *JoinHashTable) add(loc RowLocation) error {
	key, err := t.hasher.Key(loc)
	if err != nil {
		return err
	}
	t.rows[key] = append(t.rows[key], loc)
	return nil
}

func (t *JoinHashTable) lookup(key interface{}) []RowLocation { return t.rows[key] }

// HashBuild consumes the build side of a join into a JoinHashTable. It
// never produces output; it exists purely to accumulate
// the build side's rows into the table the probe side reads.
type HashBuild struct {
	Base
	table *JoinHashTable
}

func NewHashBuild(table *JoinHashTable) *HashBuild {
	return &HashBuild{table: table}
}

func (b *HashBuild) NeedsInput() bool { return !b.finished }

func (b *HashBuild) AddInput(p *page.Page) error {
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		if err := b.table.add(RowLocation{Page: p, Pos: i}); err != nil {
			return err
		}
	}
	return nil
}

func (b *HashBuild) GetOutput() (*page.Page, error) { return nil, nil }

// HashProbe streams probe-side Pages against a JoinHashTable built by
// a preceding HashBuild, emitting one output row per (probe row,
// matched build row) pair. LeftOuter controls whether an unmatched
// probe row is still emitted, with null build-side columns.
type HashProbe struct {
	Base
	table          *JoinHashTable
	probeHasher    RowHasher
	buildEncodings []page.Encoding
	leftOuter      bool
	queue          pageQueue
}

func NewHashProbe(table *JoinHashTable, probeHasher RowHasher, buildEncodings []page.Encoding, leftOuter bool) *HashProbe {
	return &HashProbe{
		table:          table,
		probeHasher:    probeHasher,
		buildEncodings: buildEncodings,
		leftOuter:      leftOuter,
	}
}

func (h *HashProbe) NeedsInput() bool { return h.queue.drained() && !h.finished }

func (h *HashProbe) AddInput(p *page.Page) error {
	var probeLocs, buildLocs []RowLocation
	n := p.PositionCount()
	for i := 0; i < n; i++ {
		loc := RowLocation{Page: p, Pos: i}
		key, err := h.probeHasher.Key(loc)
		if err != nil {
			return err
		}
		matches := h.table.lookup(key)
		if len(matches) == 0 {
			if h.leftOuter {
				probeLocs = append(probeLocs, loc)
				buildLocs = append(buildLocs, RowLocation{})
			}
			continue
		}
		for _, m := range matches {
			probeLocs = append(probeLocs, loc)
			buildLocs = append(buildLocs, m)
		}
	}
	if len(probeLocs) == 0 {
		return nil
	}
	probePages, err := buildPages(probeLocs, defaultChunkRows)
	if err != nil {
		return err
	}
	var pages []*page.Page
	pos := 0
	for _, pp := range probePages {
		n := pp.PositionCount()
		buildBuilders := make([]*page.Builder, len(h.buildEncodings))
		for i, enc := range h.buildEncodings {
			buildBuilders[i] = page.NewBuilder(enc)
		}
		for i := 0; i < n; i++ {
			bl := buildLocs[pos+i]
			for c := range buildBuilders {
				if bl.Page == nil {
					buildBuilders[c].AppendNull()
					continue
				}
				if err := buildBuilders[c].AppendFrom(bl.Page.Channel(c), bl.Pos); err != nil {
					return err
				}
			}
		}
		pos += n
		blocks := make([]*page.Block, 0, pp.ChannelCount()+len(buildBuilders))
		for c := 0; c < pp.ChannelCount(); c++ {
			blocks = append(blocks, pp.Channel(c))
		}
		for _, b := range buildBuilders {
			blocks = append(blocks, b.Build())
		}
		merged, err := page.New(blocks)
		if err != nil {
			return err
		}
		pages = append(pages, merged)
	}
	h.queue = pageQueue{pages: pages}
	return nil
}

func (h *HashProbe) GetOutput() (*page.Page, error) {
	return h.queue.next(), nil
}
