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

import "testing"

func TestSortOrdersAcrossMultipleInputPages(t *testing.T) {
	s := NewSort(intLess{})
	if !s.NeedsInput() {
		t.Fatal("NeedsInput should be true before Finish")
	}
	if err := s.AddInput(intPage(t, []int32{5, 1, 3})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := s.AddInput(intPage(t, []int32{4, 2})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if s.NeedsInput() {
		t.Fatal("NeedsInput should be false once sorted output is ready")
	}

	pages := drainFinished(t, s)
	var got []int32
	for _, p := range pages {
		got = append(got, intColumn(t, p, 0)...)
	}
	want := []int32{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortWithNoInputFinishesEmpty(t *testing.T) {
	s := NewSort(intLess{})
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !s.IsFinished() {
		t.Fatal("Sort with no rows should finish immediately")
	}
}

func TestSortFinishIsIdempotent(t *testing.T) {
	s := NewSort(intLess{})
	if err := s.AddInput(intPage(t, []int32{2, 1})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	pages := drainFinished(t, s)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
}
