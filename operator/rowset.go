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

// RowLocation identifies a single row by its source Page and position
// within that Page. The accumulating operators (Sort, TopN,
// MarkDistinct, Aggregation) retain input Pages and index into them
// by RowLocation rather than copying eagerly, since many rows are
// discarded (TopN, MarkDistinct) or grouped (Aggregation) before ever
// being materialized into output.
type RowLocation struct {
	Page *page.Page
	Pos  int
}

// defaultChunkRows bounds the position count of Pages built from a
// RowLocation list.
const defaultChunkRows = 4096

// buildPages materializes a RowLocation list into a sequence of
// output Pages of up to chunkRows positions each, by repeated
// Builder.AppendFrom per channel.
func buildPages(rows []RowLocation, chunkRows int) ([]*page.Page, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	channels := rows[0].Page.ChannelCount()
	var out []*page.Page
	for start := 0; start < len(rows); start += chunkRows {
		end := start + chunkRows
		if end > len(rows) {
			end = len(rows)
		}
		builders := make([]*page.Builder, channels)
		for c := 0; c < channels; c++ {
			builders[c] = page.NewBuilder(rows[start].Page.Channel(c).Encoding())
		}
		for _, r := range rows[start:end] {
			for c := 0; c < channels; c++ {
				if err := builders[c].AppendFrom(r.Page.Channel(c), r.Pos); err != nil {
					return nil, err
				}
			}
		}
		blocks := make([]*page.Block, channels)
		for c := 0; c < channels; c++ {
			blocks[c] = builders[c].Build()
		}
		p, err := page.New(blocks)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// pageQueue is the common GetOutput shape for operators that have
// finished accumulating and now hand back a precomputed slice of
// Pages one at a time.
type pageQueue struct {
	pages []*page.Page
	pos   int
}

func (q *pageQueue) next() *page.Page {
	if q.pos >= len(q.pages) {
		return nil
	}
	p := q.pages[q.pos]
	q.pos++
	return p
}

func (q *pageQueue) drained() bool { return q.pos >= len(q.pages) }
