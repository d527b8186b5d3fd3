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

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

type fakeExchangeSink struct {
	pages    []*page.Page
	finished bool
}

func (s *fakeExchangeSink) AddPage(p *page.Page) error {
	s.pages = append(s.pages, p)
	return nil
}
func (s *fakeExchangeSink) Finish()                    { s.finished = true }
func (s *fakeExchangeSink) IsBlocked() *memctl.Future { return memctl.Resolved() }

func TestExchangeSinkOperatorForwardsAndFinishes(t *testing.T) {
	sink := &fakeExchangeSink{}
	op := NewExchangeSinkOperator(sink)
	if !op.NeedsInput() {
		t.Fatal("NeedsInput should be true before Finish")
	}
	if err := op.AddInput(intPage(t, []int32{1})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if len(sink.pages) != 1 {
		t.Fatalf("sink.pages = %d, want 1", len(sink.pages))
	}
	if err := op.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !sink.finished {
		t.Fatal("Finish should propagate to the underlying LocalExchangeSink")
	}
	if !op.IsFinished() {
		t.Fatal("IsFinished should be true after Finish")
	}
	out, err := op.GetOutput()
	if err != nil || out != nil {
		t.Fatalf("GetOutput = %v, %v, want nil, nil (pure sink)", out, err)
	}
}

type fakeConnectorSource struct {
	pages    []*page.Page
	pos      int
	canceled bool
}

func (f *fakeConnectorSource) GetNextPage() (*page.Page, error) {
	if f.pos >= len(f.pages) {
		return nil, nil
	}
	p := f.pages[f.pos]
	f.pos++
	return p, nil
}
func (f *fakeConnectorSource) IsFinished() bool          { return f.pos >= len(f.pages) }
func (f *fakeConnectorSource) IsBlocked() *memctl.Future { return memctl.Resolved() }
func (f *fakeConnectorSource) Cancel()                   { f.canceled = true }

func TestExchangeSourceOperatorPullsFromSource(t *testing.T) {
	src := &fakeConnectorSource{pages: []*page.Page{intPage(t, []int32{7})}}
	op := NewExchangeSourceOperator(src)
	if op.NeedsInput() {
		t.Fatal("a source operator should never need input")
	}
	if err := op.AddInput(intPage(t, []int32{0})); err == nil {
		t.Fatal("AddInput on a pure source should error")
	}

	out, err := op.GetOutput()
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if out == nil {
		t.Fatal("expected the one page from the underlying source")
	}
	if !op.IsFinished() {
		t.Fatal("should be finished once the source itself reports drained")
	}
	out2, err := op.GetOutput()
	if err != nil {
		t.Fatalf("GetOutput 2: %v", err)
	}
	if out2 != nil {
		t.Fatal("expected nil once the source is drained")
	}
	if !op.IsFinished() {
		t.Fatal("should report finished once the underlying source reports finished")
	}
}
