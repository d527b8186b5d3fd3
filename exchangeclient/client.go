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

// Package exchangeclient implements the consuming-Task side of a
// remote exchange pull: it polls an upstream Task's
// Output Buffer, retries transient transport errors with exponential
// backoff, and buffers results locally with backpressure.
package exchangeclient

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
	"github.com/sneller-query/qcore/qerr"
)

// Endpoint is one upstream (taskURI, clientID) source the client
// pulls from.
type Endpoint struct {
	TaskURI  string
	ClientID int
}

// Remote is the transport the client polls through. A fatal error
// (permanent HTTP failure, authentication failure) must be returned
// as a *qerr.Error with a non-retryable Category; anything else is
// treated as transient and retried with backoff.
type Remote interface {
	Get(ctx context.Context, ep Endpoint, fromSeq int64, maxBytes int64) (pages []*page.Page, nextSeq int64, complete bool, err error)
	Acknowledge(ctx context.Context, ep Endpoint, uptoSeq int64) error
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff      = 10 * time.Second
	backoffFactor   = 2.0
	jitterFraction  = 0.2
	defaultMaxBytes = 16 << 20
)

// Client pulls Pages from one Endpoint into a bounded local buffer,
// exposing IsBlocked for driver-level backpressure.
type Client struct {
	remote Remote
	ep     Endpoint
	mgr    *memctl.Manager

	mu       sync.Mutex
	buffered []*page.Page
	fromSeq  int64
	prevSeq  int64
	done     bool
	failed   error
	pending  *memctl.Future

	cancel context.CancelFunc
}

// New starts pulling from ep in a background goroutine, bounded by
// limitBytes of locally buffered Pages.
func New(ctx context.Context, remote Remote, ep Endpoint, limitBytes int64) *Client {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		remote: remote,
		ep:     ep,
		mgr:    memctl.NewManager(limitBytes),
		cancel: cancel,
	}
	go c.run(ctx)
	return c
}

func (c *Client) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := c.mgr.NotFullFuture().Wait(ctx); err != nil {
			return
		}
		pages, next, complete, err := c.remote.Get(ctx, c.ep, c.fromSeq, defaultMaxBytes)
		if err != nil {
			if isFatal(err) {
				c.setFailed(err)
				return
			}
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		c.prevSeq = c.fromSeq
		if c.prevSeq > 0 {
			// acknowledge the previous batch now that the next one
			// has landed.
			_ = c.remote.Acknowledge(ctx, c.ep, c.prevSeq)
		}
		c.fromSeq = next
		c.append(pages)
		if complete {
			c.setDone()
			return
		}
	}
}

func (c *Client) append(pages []*page.Page) {
	c.mu.Lock()
	for _, p := range pages {
		c.buffered = append(c.buffered, p)
		c.mgr.Update(int64(p.RetainedSizeInBytes()))
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		pending.Resolve()
	}
}

func (c *Client) setDone() {
	c.mu.Lock()
	c.done = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		pending.Resolve()
	}
}

func (c *Client) setFailed(err error) {
	c.mu.Lock()
	c.failed = err
	c.done = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		pending.Resolve()
	}
}

// GetNextPage satisfies operator.ConnectorPageSource.
func (c *Client) GetNextPage() (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return nil, c.failed
	}
	if len(c.buffered) == 0 {
		return nil, nil
	}
	p := c.buffered[0]
	c.buffered = c.buffered[1:]
	c.mgr.Update(-int64(p.RetainedSizeInBytes()))
	return p, nil
}

// IsFinished satisfies operator.ConnectorPageSource.
func (c *Client) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done && len(c.buffered) == 0
}

// IsBlocked satisfies operator.ConnectorPageSource. The returned
// Future resolves the next time the background poll loop appends
// Pages, finishes, or fails.
func (c *Client) IsBlocked() *memctl.Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffered) > 0 || c.done {
		return memctl.Resolved()
	}
	if c.pending == nil {
		c.pending = memctl.NewFuture()
	}
	return c.pending
}

// Cancel closes the endpoint and drops pending Pages.
func (c *Client) Cancel() {
	c.cancel()
	c.mu.Lock()
	c.buffered = nil
	c.mu.Unlock()
}

func isFatal(err error) bool {
	if qe, ok := err.(*qerr.Error); ok {
		return !qe.Category.Retryable()
	}
	return false
}

func nextBackoff(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * backoffFactor)
	if n > maxBackoff {
		n = maxBackoff
	}
	return n
}

func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(d))
	select {
	case <-time.After(d + jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
