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

package memctl

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sneller-query/qcore/qerr"
)

// Revocable is a spill-capable consumer of a Context: when the root
// of a memory-context tree is over its reservation, the tree asks its
// revocable consumers to give memory back (spill to disk) before
// failing the query.
type Revocable interface {
	// RevocableBytes reports how many bytes this consumer could free
	// right now if asked.
	RevocableBytes() int64
	// Revoke asks the consumer to spill and release up to n bytes,
	// returning the number of bytes actually released.
	Revoke(n int64) int64
}

// Context is one node of the per-Query root / per-Task subtree memory
// accounting tree. Every allocation updates the local leaf
// and propagates to the root; when the root exceeds its reservation
// the query is either blocked (revocable consumers spill) or failed
// with ExceededMemory.
type Context struct {
	parent *Context
	name   string
	limit  int64 // only meaningful on the root

	usage int64 // atomic, this node's own usage (not including children)

	mu        sync.Mutex
	children  []*Context
	revocable []Revocable
}

// NewRoot creates a root Context (typically one per Query) with the
// given byte reservation.
func NewRoot(name string, limit int64) *Context {
	return &Context{name: name, limit: limit}
}

// NewChild creates a subtree Context (typically one per Task) rooted
// at c.
func (c *Context) NewChild(name string) *Context {
	child := &Context{parent: c, name: name}
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child
}

// RegisterRevocable adds a spill-capable consumer to this Context's
// node; it will be asked to spill if the root ever exceeds its
// reservation because of allocations anywhere in the tree.
func (c *Context) RegisterRevocable(r Revocable) {
	c.mu.Lock()
	c.revocable = append(c.revocable, r)
	c.mu.Unlock()
}

func (c *Context) root() *Context {
	n := c
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// totalUsage sums this node's own usage and every descendant's,
// taking each node's lock only long enough to copy its child list, so the sum is not an atomic snapshot of the tree.
func (c *Context) totalUsage() int64 {
	total := atomic.LoadInt64(&c.usage)
	c.mu.Lock()
	children := append([]*Context(nil), c.children...)
	c.mu.Unlock()
	for _, ch := range children {
		total += ch.totalUsage()
	}
	return total
}

// Update adjusts this node's own usage by delta and, if the request
// is a growth that would push the root over its reservation, first
// tries to revoke memory from registered Revocable consumers across
// the tree before returning ExceededMemory.
func (c *Context) Update(delta int64) error {
	atomic.AddInt64(&c.usage, delta)
	if delta <= 0 {
		return nil
	}
	root := c.root()
	if root.limit <= 0 {
		return nil
	}
	over := root.totalUsage() - root.limit
	if over <= 0 {
		return nil
	}
	freed := root.revokeAtLeast(over)
	if freed >= over {
		return nil
	}
	atomic.AddInt64(&c.usage, -delta)
	return qerr.ExceededMemory("query exceeded its memory reservation and no further memory could be revoked")
}

// revokeAtLeast asks every Revocable consumer in the tree, largest
// first, to spill until at least n bytes have been freed or there is
// nothing left to revoke.
func (c *Context) revokeAtLeast(n int64) int64 {
	var all []Revocable
	var collect func(*Context)
	collect = func(node *Context) {
		node.mu.Lock()
		all = append(all, node.revocable...)
		children := append([]*Context(nil), node.children...)
		node.mu.Unlock()
		for _, ch := range children {
			collect(ch)
		}
	}
	collect(c)
	sort.Slice(all, func(i, j int) bool { return all[i].RevocableBytes() > all[j].RevocableBytes() })
	var freed int64
	for _, r := range all {
		if freed >= n {
			break
		}
		freed += r.Revoke(n - freed)
	}
	return freed
}

// Usage returns this node's own (non-cumulative) usage.
func (c *Context) Usage() int64 { return atomic.LoadInt64(&c.usage) }

// Close releases c from its parent's child list. It does not itself
// release any accounted bytes; callers must Update(-usage) first.
func (c *Context) Close() {
	if c.parent == nil {
		return
	}
	p := c.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ch := range p.children {
		if ch == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
}
