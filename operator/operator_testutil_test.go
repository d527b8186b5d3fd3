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
	"testing"

	"github.com/sneller-query/qcore/page"
)

func intPage(t *testing.T, vals []int32) *page.Page {
	t.Helper()
	b := page.NewBuilder(page.IntArray)
	for _, v := range vals {
		b.AppendInt(v)
	}
	p, err := page.New([]*page.Block{b.Build()})
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return p
}

func intColumn(t *testing.T, p *page.Page, channel int) []int32 {
	t.Helper()
	blk := p.Channel(channel)
	out := make([]int32, p.PositionCount())
	for i := range out {
		v, err := blk.GetInt(i)
		if err != nil {
			t.Fatalf("GetInt(%d): %v", i, err)
		}
		out[i] = v
	}
	return out
}

// drainFinished runs GetOutput in a loop, collecting non-nil pages
// until the operator reports finished. It never calls AddInput, so it
// only fits operators that are already past the accumulation phase
// (Finish already called where required).
func drainFinished(t *testing.T, op Operator) []*page.Page {
	t.Helper()
	var out []*page.Page
	for i := 0; i < 1000 && !op.IsFinished(); i++ {
		p, err := op.GetOutput()
		if err != nil {
			t.Fatalf("GetOutput: %v", err)
		}
		if p != nil {
			out = append(out, p)
		}
	}
	if !op.IsFinished() {
		t.Fatal("operator never reported finished while draining")
	}
	return out
}

// intLess orders RowLocations by the int32 value in channel 0.
type intLess struct{}

func (intLess) Less(a, b RowLocation) bool {
	av, _ := a.Page.Channel(0).GetInt(a.Pos)
	bv, _ := b.Page.Channel(0).GetInt(b.Pos)
	return av < bv
}

// intKeyHasher hashes on the int32 value in channel 0.
type intKeyHasher struct{}

func (intKeyHasher) Key(loc RowLocation) (interface{}, error) {
	v, err := loc.Page.Channel(0).GetInt(loc.Pos)
	if err != nil {
		return nil, err
	}
	return v, nil
}
