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

// Package outputbuffer implements the per-Task Output Buffer: a set of per-client FIFOs of Pages keyed by monotonically
// increasing sequence numbers, with idempotent pulls and
// acknowledgment-based memory release.
package outputbuffer

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// Policy selects how an enqueued Page is distributed to clients.
type Policy int

const (
	// Partitioned routes each enqueue call to exactly one client,
	// selected by the caller (one client per downstream Task).
	Partitioned Policy = iota
	// Broadcast copies every enqueued Page to every client.
	Broadcast
	// Arbitrary routes every enqueue call to a single shared queue;
	// ties between waiting consumers break FIFO.
	Arbitrary
)

// entry is one buffered Page together with its sequence number.
type entry struct {
	seq  int64
	page *page.Page
}

// client is one consumer's FIFO. seq numbers start at 0 and are
// dense: entries[i].seq == firstSeq + i.
type client struct {
	mu       sync.Mutex
	entries  []entry
	firstSeq int64
	noMore   bool
}

// Buffer is a Task's Output Buffer.
type Buffer struct {
	policy Policy
	mgr    *memctl.Manager

	mu        sync.Mutex
	clients   []*client
	destroyed bool
}

// New returns an empty Buffer with numClients clients (1 for
// Arbitrary and Broadcast is still modeled as N independent named
// clients; the caller decides how many downstream consumers exist).
func New(policy Policy, numClients int, limitBytes int64) *Buffer {
	mgr := memctl.NewManager(limitBytes)
	clients := make([]*client, numClients)
	for i := range clients {
		clients[i] = &client{}
	}
	return &Buffer{policy: policy, mgr: mgr, clients: clients}
}

// Enqueue appends p according to the buffer's policy. For
// Partitioned, partition selects the target client; it is ignored
// for Broadcast and Arbitrary.
func (b *Buffer) Enqueue(partition int, p *page.Page) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	targets := b.targetsLocked(partition)
	b.mu.Unlock()

	sz := int64(p.RetainedSizeInBytes())
	for _, c := range targets {
		c.mu.Lock()
		seq := c.firstSeq + int64(len(c.entries))
		c.entries = append(c.entries, entry{seq: seq, page: p})
		c.mu.Unlock()
	}
	b.mgr.Update(sz * int64(len(targets)))
	return nil
}

func (b *Buffer) targetsLocked(partition int) []*client {
	switch b.policy {
	case Broadcast:
		out := make([]*client, len(b.clients))
		copy(out, b.clients)
		return out
	case Arbitrary:
		return b.clients[:1]
	default: // Partitioned
		if partition < 0 || partition >= len(b.clients) {
			return nil
		}
		return b.clients[partition : partition+1]
	}
}

// NoMoreData marks a client as complete: once its FIFO drains,
// Get reports bufferComplete.
func (b *Buffer) NoMoreData(clientID int) {
	c := b.clients[clientID]
	c.mu.Lock()
	c.noMore = true
	c.mu.Unlock()
}

// Get returns buffered Pages for clientID with seq >= fromSeq, up to
// maxBytes, the next seq to request, and whether the buffer is
// complete for this client. It is idempotent: calling it again with
// the same fromSeq returns the same Pages.
func (b *Buffer) Get(clientID int, fromSeq int64, maxBytes int64) ([]*page.Page, int64, bool, error) {
	c := b.clients[clientID]
	c.mu.Lock()
	defer c.mu.Unlock()

	start := fromSeq - c.firstSeq
	if start < 0 {
		start = 0
	}
	var out []*page.Page
	var used int64
	next := fromSeq
	for i := start; i < int64(len(c.entries)); i++ {
		e := c.entries[i]
		sz := int64(e.page.RetainedSizeInBytes())
		if len(out) > 0 && maxBytes > 0 && used+sz > maxBytes {
			break
		}
		out = append(out, e.page)
		used += sz
		next = e.seq + 1
	}
	complete := c.noMore && start >= int64(len(c.entries))
	return out, next, complete, nil
}

// Acknowledge releases retained memory for Pages with seq < uptoSeq
// for clientID.
func (b *Buffer) Acknowledge(clientID int, uptoSeq int64) error {
	c := b.clients[clientID]
	c.mu.Lock()
	n := uptoSeq - c.firstSeq
	if n <= 0 {
		c.mu.Unlock()
		return nil
	}
	if n > int64(len(c.entries)) {
		n = int64(len(c.entries))
	}
	var freed int64
	for i := int64(0); i < n; i++ {
		freed += int64(c.entries[i].page.RetainedSizeInBytes())
	}
	c.entries = c.entries[n:]
	c.firstSeq += n
	c.mu.Unlock()
	b.mgr.Update(-freed)
	return nil
}

// Abort discards all buffered and future Pages for clientID without
// requiring acknowledgment.
func (b *Buffer) Abort(clientID int) {
	c := b.clients[clientID]
	c.mu.Lock()
	var freed int64
	for _, e := range c.entries {
		freed += int64(e.page.RetainedSizeInBytes())
	}
	c.entries = nil
	c.noMore = true
	c.mu.Unlock()
	b.mgr.Update(-freed)
}

// Destroy releases every client's buffered Pages and marks the Buffer
// dead; subsequent Enqueue calls are no-ops.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	clients := b.clients
	b.mu.Unlock()
	for i := range clients {
		b.Abort(i)
	}
}

// IsBlocked resolves once the buffer's total usage is at or below its
// memory limit.
func (b *Buffer) IsBlocked() *memctl.Future { return b.mgr.NotFullFuture() }

// NumClients returns the configured client count.
func (b *Buffer) NumClients() int { return len(b.clients) }

// Backlog reports the buffered byte count per client, keyed by
// client id, as of the call.
func (b *Buffer) Backlog() map[int]int64 {
	b.mu.Lock()
	clients := b.clients
	b.mu.Unlock()

	out := make(map[int]int64, len(clients))
	for i, c := range clients {
		c.mu.Lock()
		var sz int64
		for _, e := range c.entries {
			sz += int64(e.page.RetainedSizeInBytes())
		}
		c.mu.Unlock()
		out[i] = sz
	}
	return out
}

// TotalBacklogBytes sums Backlog across every client. Keys are
// visited in sorted order so the accumulation is reproducible
// regardless of map iteration order, matching the client table
// walks in plan/pir.
func (b *Buffer) TotalBacklogBytes() int64 {
	backlog := b.Backlog()
	ids := maps.Keys(backlog)
	slices.Sort(ids)
	var total int64
	for _, id := range ids {
		total += backlog[id]
	}
	return total
}

// Writer adapts a Buffer into an operator.OutputSink bound to a fixed
// partition, for the terminal Output operator of a pipeline.
type Writer struct {
	buf       *Buffer
	partition int
}

// WriterFor returns a Writer that enqueues into the given partition
// (ignored for Broadcast/Arbitrary policies).
func (b *Buffer) WriterFor(partition int) *Writer {
	return &Writer{buf: b, partition: partition}
}

func (w *Writer) Enqueue(p *page.Page) error { return w.buf.Enqueue(w.partition, p) }
func (w *Writer) IsBlocked() *memctl.Future  { return w.buf.IsBlocked() }
