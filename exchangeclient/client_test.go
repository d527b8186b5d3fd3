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

package exchangeclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sneller-query/qcore/page"
	"github.com/sneller-query/qcore/qerr"
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

// fakeRemote serves a fixed, scripted sequence of batches for one
// Endpoint and records acknowledged sequence numbers.
type fakeRemote struct {
	mu      sync.Mutex
	batches []batch
	pos     int
	acked   []int64
	failErr error
	failAt  int
	calls   int
}

type batch struct {
	pages    []*page.Page
	nextSeq  int64
	complete bool
}

func (r *fakeRemote) Get(ctx context.Context, ep Endpoint, fromSeq int64, maxBytes int64) ([]*page.Page, int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failErr != nil && r.calls == r.failAt {
		return nil, 0, false, r.failErr
	}
	if r.pos >= len(r.batches) {
		return nil, fromSeq, true, nil
	}
	b := r.batches[r.pos]
	r.pos++
	return b.pages, b.nextSeq, b.complete, nil
}

func (r *fakeRemote) Acknowledge(ctx context.Context, ep Endpoint, uptoSeq int64) error {
	r.mu.Lock()
	r.acked = append(r.acked, uptoSeq)
	r.mu.Unlock()
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestClientDrainsAllBatchesAndFinishes(t *testing.T) {
	remote := &fakeRemote{batches: []batch{
		{pages: []*page.Page{onePage(t, 1), onePage(t, 2)}, nextSeq: 2, complete: false},
		{pages: []*page.Page{onePage(t, 3)}, nextSeq: 3, complete: true},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ctx, remote, Endpoint{TaskURI: "u", ClientID: 0}, 0)

	var got []int32
	waitUntil(t, 2*time.Second, func() bool {
		for {
			p, err := c.GetNextPage()
			if err != nil {
				t.Fatalf("GetNextPage: %v", err)
			}
			if p == nil {
				break
			}
			v, _ := p.Channel(0).GetInt(0)
			got = append(got, v)
		}
		return c.IsFinished()
	})

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("drained values = %v, want [1 2 3]", got)
	}
}

// TestClientRetriesTransientErrors checks that a transient (non-fatal)
// error from Remote.Get does not stop the client; it keeps polling
// until a subsequent call succeeds.
func TestClientRetriesTransientErrors(t *testing.T) {
	remote := &fakeRemote{
		failErr: qerr.New(qerr.Internal, qerr.CodeSchedulerBug, "Hiccup", "transient hiccup"),
		failAt:  1,
		batches: []batch{
			{pages: []*page.Page{onePage(t, 42)}, nextSeq: 1, complete: true},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ctx, remote, Endpoint{TaskURI: "u", ClientID: 0}, 0)

	var got int32 = -1
	waitUntil(t, 5*time.Second, func() bool {
		p, err := c.GetNextPage()
		if err != nil {
			t.Fatalf("GetNextPage: %v", err)
		}
		if p != nil {
			got, _ = p.Channel(0).GetInt(0)
		}
		return c.IsFinished()
	})
	if got != 42 {
		t.Fatalf("drained value = %d, want 42 (retry after the transient error should still deliver the batch)", got)
	}
}

// TestClientFatalErrorSurfacesFromGetNextPage checks that a
// non-retryable error reported by Remote.Get is surfaced through
// GetNextPage rather than retried forever.
func TestClientFatalErrorSurfacesFromGetNextPage(t *testing.T) {
	remote := &fakeRemote{
		failErr: qerr.New(qerr.User, qerr.CodeInvalidArgument, "BadRequest", "bad request"),
		failAt:  1,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ctx, remote, Endpoint{TaskURI: "u", ClientID: 0}, 0)

	waitUntil(t, 2*time.Second, func() bool { return c.IsFinished() })

	_, err := c.GetNextPage()
	if err == nil {
		t.Fatal("expected the fatal remote error to surface from GetNextPage")
	}
}

// TestClientCancelStopsPolling checks that Cancel stops the
// background loop and drops any buffered pages.
func TestClientCancelStopsPolling(t *testing.T) {
	remote := &fakeRemote{batches: []batch{
		{pages: []*page.Page{onePage(t, 1)}, nextSeq: 1, complete: false},
	}}
	ctx := context.Background()
	c := New(ctx, remote, Endpoint{TaskURI: "u", ClientID: 0}, 0)

	waitUntil(t, 2*time.Second, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.buffered) > 0
	})

	c.Cancel()

	c.mu.Lock()
	n := len(c.buffered)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("buffered pages after Cancel = %d, want 0", n)
	}
}
