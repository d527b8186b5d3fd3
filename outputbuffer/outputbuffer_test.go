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

package outputbuffer

import (
	"testing"

	"github.com/sneller-query/qcore/page"
)

func onePage(t *testing.T, v int32) *page.Page {
	t.Helper()
	b := page.NewBuilder(page.IntArray)
	b.AppendInt(v)
	p, err := page.New([]*page.Block{b.Build()})
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return p
}

// TestPartitionedTwoClients walks the 2-client Partitioned scenario:
// each enqueue targets exactly one client, and each client's Get sees
// only the pages routed to it.
func TestPartitionedTwoClients(t *testing.T) {
	buf := New(Partitioned, 2, 0)

	if err := buf.Enqueue(0, onePage(t, 1)); err != nil {
		t.Fatalf("Enqueue(0): %v", err)
	}
	if err := buf.Enqueue(1, onePage(t, 2)); err != nil {
		t.Fatalf("Enqueue(1): %v", err)
	}
	if err := buf.Enqueue(0, onePage(t, 3)); err != nil {
		t.Fatalf("Enqueue(0): %v", err)
	}
	buf.NoMoreData(0)
	buf.NoMoreData(1)

	pages, next, complete, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("client 0 got %d pages, want 2", len(pages))
	}
	if next != 2 {
		t.Fatalf("client 0 next seq = %d, want 2", next)
	}
	if !complete {
		t.Fatal("client 0 should be complete once drained and NoMoreData set")
	}
	v0, _ := pages[0].Channel(0).GetInt(0)
	v1, _ := pages[1].Channel(0).GetInt(0)
	if v0 != 1 || v1 != 3 {
		t.Fatalf("client 0 values = %d, %d, want 1, 3", v0, v1)
	}

	pages, next, complete, err = buf.Get(1, 0, 0)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("client 1 got %d pages, want 1", len(pages))
	}
	if next != 1 {
		t.Fatalf("client 1 next seq = %d, want 1", next)
	}
	if !complete {
		t.Fatal("client 1 should be complete once drained and NoMoreData set")
	}
	v, _ := pages[0].Channel(0).GetInt(0)
	if v != 2 {
		t.Fatalf("client 1 value = %d, want 2", v)
	}
}

// TestGetIsIdempotent calls Get twice with the same fromSeq and
// expects identical results both times.
func TestGetIsIdempotent(t *testing.T) {
	buf := New(Arbitrary, 1, 0)
	for _, v := range []int32{10, 20, 30} {
		if err := buf.Enqueue(0, onePage(t, v)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	p1, n1, c1, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p2, n2, c2, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n1 != n2 || c1 != c2 || len(p1) != len(p2) {
		t.Fatalf("repeated Get(0) diverged: (%d,%v,%d pages) vs (%d,%v,%d pages)", n1, c1, len(p1), n2, c2, len(p2))
	}
	for i := range p1 {
		a, _ := p1[i].Channel(0).GetInt(0)
		b, _ := p2[i].Channel(0).GetInt(0)
		if a != b {
			t.Fatalf("page %d diverged between calls: %d vs %d", i, a, b)
		}
	}
}

// TestSequenceNumbersAreDenseFromZero enqueues k pages and expects
// Get to report contiguous seq numbers covering exactly [0,k).
func TestSequenceNumbersAreDenseFromZero(t *testing.T) {
	buf := New(Arbitrary, 1, 0)
	const k = 7
	for i := 0; i < k; i++ {
		if err := buf.Enqueue(0, onePage(t, int32(i))); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	buf.NoMoreData(0)

	pages, next, complete, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(pages) != k {
		t.Fatalf("got %d pages, want %d", len(pages), k)
	}
	if next != k {
		t.Fatalf("next seq = %d, want %d", next, k)
	}
	if !complete {
		t.Fatal("buffer should be complete")
	}
}

// TestAcknowledgeReleasesMemory checks that acknowledging a prefix of
// a client's queue returns the manager's usage to the bytes still
// retained by the unacknowledged suffix.
func TestAcknowledgeReleasesMemory(t *testing.T) {
	buf := New(Arbitrary, 1, 0)
	for _, v := range []int32{1, 2, 3} {
		if err := buf.Enqueue(0, onePage(t, v)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	usageBefore := buf.mgr.Usage()
	if usageBefore == 0 {
		t.Fatal("expected nonzero usage after enqueuing pages")
	}
	if err := buf.Acknowledge(0, 2); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	usageAfter := buf.mgr.Usage()
	if usageAfter <= 0 || usageAfter >= usageBefore {
		t.Fatalf("usage after partial ack = %d, want strictly between 0 and %d", usageAfter, usageBefore)
	}

	pages, _, _, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages after acking the first 2, want 1", len(pages))
	}
	v, _ := pages[0].Channel(0).GetInt(0)
	if v != 3 {
		t.Fatalf("remaining page value = %d, want 3", v)
	}

	if err := buf.Acknowledge(0, 3); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := buf.mgr.Usage(); got != 0 {
		t.Fatalf("usage after fully acking = %d, want 0", got)
	}
}

// TestBroadcastCopiesToEveryClient ensures each client receives its
// own independent copy of every enqueued page.
func TestBroadcastCopiesToEveryClient(t *testing.T) {
	buf := New(Broadcast, 3, 0)
	if err := buf.Enqueue(0, onePage(t, 99)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for i := 0; i < 3; i++ {
		pages, _, _, err := buf.Get(i, 0, 0)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if len(pages) != 1 {
			t.Fatalf("client %d got %d pages, want 1", i, len(pages))
		}
	}
}

// TestTotalBacklogBytesTracksUnacknowledgedData checks that the
// summed backlog grows with enqueues, shrinks with acknowledgment,
// and is independent of which client the bytes are queued on.
func TestTotalBacklogBytesTracksUnacknowledgedData(t *testing.T) {
	buf := New(Partitioned, 2, 0)
	if got := buf.TotalBacklogBytes(); got != 0 {
		t.Fatalf("empty buffer backlog = %d, want 0", got)
	}

	if err := buf.Enqueue(0, onePage(t, 1)); err != nil {
		t.Fatalf("Enqueue(0): %v", err)
	}
	if err := buf.Enqueue(1, onePage(t, 2)); err != nil {
		t.Fatalf("Enqueue(1): %v", err)
	}
	backlog := buf.Backlog()
	if len(backlog) != 2 || backlog[0] == 0 || backlog[1] == 0 {
		t.Fatalf("Backlog = %v, want nonzero entries for both clients", backlog)
	}
	total := buf.TotalBacklogBytes()
	if total != backlog[0]+backlog[1] {
		t.Fatalf("TotalBacklogBytes = %d, want sum of Backlog %v", total, backlog)
	}

	if err := buf.Acknowledge(0, 1); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := buf.TotalBacklogBytes(); got != backlog[1] {
		t.Fatalf("backlog after acking client 0 = %d, want %d (client 1 only)", got, backlog[1])
	}
}

// TestDestroyMakesEnqueueANoOp checks that once a Buffer is
// destroyed, further Enqueue calls are silently dropped.
func TestDestroyMakesEnqueueANoOp(t *testing.T) {
	buf := New(Arbitrary, 1, 0)
	buf.Destroy()
	if err := buf.Enqueue(0, onePage(t, 1)); err != nil {
		t.Fatalf("Enqueue after Destroy: %v", err)
	}
	pages, _, complete, err := buf.Get(0, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("got %d pages after Destroy, want 0", len(pages))
	}
	if !complete {
		t.Fatal("a destroyed buffer's client should read as complete")
	}
}
