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

func newSpill(t *testing.T) *Spill {
	t.Helper()
	cipher, err := page.RandomSpillCipher()
	if err != nil {
		t.Fatalf("RandomSpillCipher: %v", err)
	}
	return NewSpill(cipher)
}

func TestSpillPassesThroughWithoutRevoke(t *testing.T) {
	s := newSpill(t)
	if err := s.AddInput(intPage(t, []int32{1, 2})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	out, err := s.GetOutput()
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if out == nil {
		t.Fatal("expected the buffered page back unchanged")
	}
	got := intColumn(t, out, 0)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
	if !s.IsFinished() {
		t.Fatal("Spill should report finished once its single buffered page has drained and input is done")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestSpillRevokeRoundTripsThroughDisk exercises the revoked path:
// Revoke forces buffered Pages to an encrypted temp file, and
// GetOutput reads them back in original order afterward.
func TestSpillRevokeRoundTripsThroughDisk(t *testing.T) {
	s := newSpill(t)
	if err := s.AddInput(intPage(t, []int32{10, 20})); err != nil {
		t.Fatalf("AddInput 1: %v", err)
	}
	if err := s.AddInput(intPage(t, []int32{30})); err != nil {
		t.Fatalf("AddInput 2: %v", err)
	}
	if s.RevocableBytes() <= 0 {
		t.Fatal("RevocableBytes should reflect the buffered Pages before Revoke")
	}

	freed := s.Revoke(s.RevocableBytes())
	if freed <= 0 {
		t.Fatal("Revoke should report bytes freed")
	}
	if s.RevocableBytes() != 0 {
		t.Fatal("RevocableBytes should be 0 once spilled")
	}

	// Further input after spilling goes straight to disk.
	if err := s.AddInput(intPage(t, []int32{40})); err != nil {
		t.Fatalf("AddInput after spill: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var got []int32
	for i := 0; i < 10 && !s.IsFinished(); i++ {
		p, err := s.GetOutput()
		if err != nil {
			t.Fatalf("GetOutput: %v", err)
		}
		if p != nil {
			got = append(got, intColumn(t, p, 0)...)
		}
	}
	if !s.IsFinished() {
		t.Fatal("Spill never reported finished while reading back")
	}
	want := []int32{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestSpillRevokeIsNoOpOnceSpilled checks Revoke's documented no-op
// behavior on a second call once already spilled.
func TestSpillRevokeIsNoOpOnceSpilled(t *testing.T) {
	s := newSpill(t)
	if err := s.AddInput(intPage(t, []int32{1})); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	s.Revoke(s.RevocableBytes())
	if freed := s.Revoke(100); freed != 0 {
		t.Fatalf("second Revoke should free 0 bytes, got %d", freed)
	}
	s.Finish()
	drainSpillToEnd(t, s)
	s.Close()
}

func drainSpillToEnd(t *testing.T, s *Spill) {
	t.Helper()
	for i := 0; i < 10 && !s.IsFinished(); i++ {
		if _, err := s.GetOutput(); err != nil {
			t.Fatalf("GetOutput: %v", err)
		}
	}
}
