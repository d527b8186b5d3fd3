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

package exchange

import (
	"sync"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// RoundRobin distributes Pages cyclically across N fixed sinks. All N share one memory manager.
type RoundRobin struct {
	mu   sync.Mutex
	bufs []*sinkBuffer
	next int
}

// NewRoundRobin returns a RoundRobin exchange with n downstream
// readers, jointly bounded by limitBytes.
func NewRoundRobin(n int, limitBytes int64) *RoundRobin {
	mgr := memctl.NewManager(limitBytes)
	bufs := make([]*sinkBuffer, n)
	for i := range bufs {
		bufs[i] = &sinkBuffer{mgr: mgr}
	}
	return &RoundRobin{bufs: bufs}
}

// Writer returns the single writer-side sink; calls to AddPage cycle
// through the downstream readers in order.
func (r *RoundRobin) Writer() *roundRobinSink { return &roundRobinSink{r: r} }

// Source returns the reader endpoint for downstream index i.
func (r *RoundRobin) Source(i int) *Source { return &Source{buf: r.bufs[i]} }

// FinishAll closes every downstream reader; call once the writer side
// is done.
func (r *RoundRobin) FinishAll() {
	for _, b := range r.bufs {
		b.close()
	}
}

type roundRobinSink struct{ r *RoundRobin }

func (s *roundRobinSink) AddPage(p *page.Page) error {
	s.r.mu.Lock()
	i := s.r.next
	s.r.next = (s.r.next + 1) % len(s.r.bufs)
	s.r.mu.Unlock()
	s.r.bufs[i].push(p)
	return nil
}

func (s *roundRobinSink) Finish() { s.r.FinishAll() }

func (s *roundRobinSink) IsBlocked() *memctl.Future {
	return s.r.bufs[0].mgr.NotFullFuture()
}
