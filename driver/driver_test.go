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

package driver

import (
	"testing"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/operator"
	"github.com/sneller-query/qcore/page"
)

// positiveFilter keeps only positions whose int value is > 0.
type positiveFilter struct{}

func (positiveFilter) Process(src *page.Page) (*page.Page, error) {
	blk := src.Channel(0)
	b := page.NewBuilder(page.IntArray)
	for i := 0; i < src.PositionCount(); i++ {
		if blk.IsNull(i) {
			continue
		}
		v, err := blk.GetInt(i)
		if err != nil {
			return nil, err
		}
		if v > 0 {
			b.AppendInt(v)
		}
	}
	return page.New([]*page.Block{b.Build()})
}

type collectingSink struct {
	pages []*page.Page
}

func (s *collectingSink) Enqueue(p *page.Page) error {
	s.pages = append(s.pages, p)
	return nil
}

func (s *collectingSink) IsBlocked() *memctl.Future { return memctl.Resolved() }

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

// TestDriverScanFilterOutput runs Values -> Filter(x>0) -> Output over a
// single input page [-1, 2, -3, 4] and expects one output page [2, 4]
// followed by a Finished driver.
func TestDriverScanFilterOutput(t *testing.T) {
	src := intPage(t, []int32{-1, 2, -3, 4})

	values := operator.NewValues([]*page.Page{src})
	filter := operator.NewFilter(positiveFilter{})
	sink := &collectingSink{}
	out := operator.NewOutput(sink)

	d := New([]operator.Operator{values, filter, out})

	var last State
	for i := 0; i < 10 && !d.IsFinished(); i++ {
		state, blocked, err := d.Process()
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		last = state
		if state == Blocked && blocked != nil && !blocked.IsResolved() {
			t.Fatalf("driver blocked on an unresolved future with no external input source")
		}
	}
	if !d.IsFinished() {
		t.Fatalf("driver never finished, last state = %v", last)
	}

	if len(sink.pages) != 1 {
		t.Fatalf("got %d output pages, want 1", len(sink.pages))
	}
	p := sink.pages[0]
	if p.PositionCount() != 2 {
		t.Fatalf("positionCount = %d, want 2", p.PositionCount())
	}
	blk := p.Channel(0)
	for i, want := range []int32{2, 4} {
		v, err := blk.GetInt(i)
		if err != nil || v != want {
			t.Fatalf("GetInt(%d) = %d, %v, want %d, nil", i, v, err, want)
		}
	}
}

// TestDriverEmptyChainFinishesImmediately covers the zero-operator edge
// case explicitly handled at the top of Process.
func TestDriverEmptyChainFinishesImmediately(t *testing.T) {
	d := New(nil)
	state, _, err := d.Process()
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if state != Finished {
		t.Fatalf("state = %v, want Finished", state)
	}
	if !d.IsFinished() {
		t.Fatal("IsFinished() = false for an empty chain")
	}
}

// TestDriverCloseVisitsEveryOperator checks that Close over a healthy
// Values -> Filter -> Output chain returns no error.
func TestDriverCloseVisitsEveryOperator(t *testing.T) {
	src := intPage(t, []int32{1})
	values := operator.NewValues([]*page.Page{src})
	filter := operator.NewFilter(positiveFilter{})
	sink := &collectingSink{}
	out := operator.NewOutput(sink)

	d := New([]operator.Operator{values, filter, out})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
