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
	"testing"

	"github.com/sneller-query/qcore/page"
)

// sumState sums the value of a second int32 channel per group.
type sumState struct{ total int32 }

func (s *sumState) Add(loc RowLocation) error {
	v, err := loc.Page.Channel(1).GetInt(loc.Pos)
	if err != nil {
		return err
	}
	s.total += v
	return nil
}

func (s *sumState) AppendResult(builders []*page.Builder) error {
	builders[0].AppendInt(s.total)
	return nil
}

func twoColumnPage(t *testing.T, keys, vals []int32) *page.Page {
	t.Helper()
	kb := page.NewBuilder(page.IntArray)
	vb := page.NewBuilder(page.IntArray)
	for i := range keys {
		kb.AppendInt(keys[i])
		vb.AppendInt(vals[i])
	}
	p, err := page.New([]*page.Block{kb.Build(), vb.Build()})
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return p
}

func TestAggregationSumsPerGroup(t *testing.T) {
	agg := NewAggregation(intKeyHasher{}, func() AggregateState { return &sumState{} }, []page.Encoding{page.IntArray})

	p := twoColumnPage(t, []int32{1, 2, 1, 2, 1}, []int32{10, 20, 30, 40, 50})
	if err := agg.AddInput(p); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := agg.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	pages := drainFinished(t, agg)

	// Channel 0 is the group key, channel 1 is the representative row's
	// original value column (carried through from the key page), and
	// channel 2 is the computed sum.
	type row struct{ key, sum int32 }
	var rows []row
	for _, out := range pages {
		keys := intColumn(t, out, 0)
		sums := intColumn(t, out, 2)
		for i := range keys {
			rows = append(rows, row{keys[i], sums[i]})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })

	want := []row{{1, 90}, {2, 60}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("rows = %v, want %v", rows, want)
		}
	}
}

func TestAggregationWithNoInputFinishesEmpty(t *testing.T) {
	agg := NewAggregation(intKeyHasher{}, func() AggregateState { return &sumState{} }, []page.Encoding{page.IntArray})
	if err := agg.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !agg.IsFinished() {
		t.Fatal("Aggregation with no input should finish immediately")
	}
}
