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
	"errors"
	"testing"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

type fakeOutputSink struct {
	pages     []*page.Page
	blocked   *memctl.Future
	enqueueErr error
}

func (s *fakeOutputSink) Enqueue(p *page.Page) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.pages = append(s.pages, p)
	return nil
}

func (s *fakeOutputSink) IsBlocked() *memctl.Future {
	if s.blocked != nil {
		return s.blocked
	}
	return memctl.Resolved()
}

func TestOutputEnqueuesAndNeverProducesOutput(t *testing.T) {
	sink := &fakeOutputSink{}
	o := NewOutput(sink)
	if !o.NeedsInput() {
		t.Fatal("NeedsInput should be true before Finish")
	}
	p := intPage(t, []int32{1})
	if err := o.AddInput(p); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if len(sink.pages) != 1 || sink.pages[0] != p {
		t.Fatalf("sink.pages = %v, want [p]", sink.pages)
	}
	out, err := o.GetOutput()
	if err != nil || out != nil {
		t.Fatalf("GetOutput = %v, %v, want nil, nil", out, err)
	}
}

func TestOutputSurfacesEnqueueError(t *testing.T) {
	sink := &fakeOutputSink{enqueueErr: errors.New("buffer destroyed")}
	o := NewOutput(sink)
	if err := o.AddInput(intPage(t, []int32{1})); err == nil {
		t.Fatal("expected AddInput to surface the sink's Enqueue error")
	}
}

func TestOutputIsBlockedDelegatesToSink(t *testing.T) {
	blocked := memctl.NewFuture()
	sink := &fakeOutputSink{blocked: blocked}
	o := NewOutput(sink)
	if o.IsBlocked().IsResolved() {
		t.Fatal("IsBlocked should reflect the sink's unresolved future")
	}
	blocked.Resolve()
	if !o.IsBlocked().IsResolved() {
		t.Fatal("IsBlocked should reflect the sink's future once resolved")
	}
}
