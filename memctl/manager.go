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
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager accounts for buffered bytes within a single exchange or
// pipeline context and provides cooperative backpressure. All updates are atomic; only one pending "not full" Future
// is kept at a time and shared across waiters.
type Manager struct {
	usage int64 // atomic
	limit int64

	mu      sync.Mutex
	pending *Future // non-nil only while usage > limit
}

// NewManager returns a Manager with the given byte limit. A limit of
// 0 means unbounded (NotFullFuture always resolves immediately).
func NewManager(limit int64) *Manager {
	return &Manager{limit: limit}
}

// Limit returns the configured byte limit.
func (m *Manager) Limit() int64 { return m.limit }

// Usage returns the current accounted usage.
func (m *Manager) Usage() int64 { return atomic.LoadInt64(&m.usage) }

// Update atomically adjusts usage by delta; delta may be negative on
// release. Going negative in steady state is a fatal bug and panics rather than silently wrapping.
func (m *Manager) Update(delta int64) {
	n := atomic.AddInt64(&m.usage, delta)
	if n < 0 {
		panic(fmt.Sprintf("memctl: usage underflow: %d (delta %d)", n, delta))
	}
	if m.limit <= 0 || n <= m.limit {
		m.resolvePending()
	}
}

func (m *Manager) resolvePending() {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	m.mu.Unlock()
	if p != nil {
		p.resolve()
	}
}

// NotFullFuture resolves when usage <= limit. If usage is currently
// at or below the limit it returns an already-resolved Future. A
// single pending Future is shared by all callers until it resolves.
func (m *Manager) NotFullFuture() *Future {
	if m.limit <= 0 || atomic.LoadInt64(&m.usage) <= m.limit {
		return Resolved()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// re-check under the lock: usage may have dropped between the
	// lock-free check above and acquiring the mutex.
	if atomic.LoadInt64(&m.usage) <= m.limit {
		return Resolved()
	}
	if m.pending == nil {
		m.pending = NewFuture()
	}
	return m.pending
}
