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

// Package exchange implements the Local Exchange variants that
// redistribute Pages between pipelines on the same worker: Passthrough, Round-robin, Partitioned and Scale-writer.
package exchange

import (
	"sync"

	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// sinkBuffer is a single FIFO queue of Pages with its own memory
// accounting against the exchange's shared Manager.
type sinkBuffer struct {
	mu     sync.Mutex
	pages  []*page.Page
	mgr    *memctl.Manager
	closed bool
}

func (b *sinkBuffer) push(p *page.Page) {
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	b.mgr.Update(int64(p.RetainedSizeInBytes()))
}

func (b *sinkBuffer) pop() *page.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	p := b.pages[0]
	b.pages = b.pages[1:]
	b.mgr.Update(-int64(p.RetainedSizeInBytes()))
	return p
}

func (b *sinkBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *sinkBuffer) isClosedAndEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && len(b.pages) == 0
}

// Sink is a local exchange writer endpoint.
type Sink struct {
	buf *sinkBuffer
}

func (s *Sink) AddPage(p *page.Page) error {
	s.buf.push(p)
	return nil
}

func (s *Sink) Finish() { s.buf.close() }

func (s *Sink) IsBlocked() *memctl.Future { return s.buf.mgr.NotFullFuture() }

// Source is a local exchange reader endpoint.
type Source struct {
	buf *sinkBuffer
}

func (s *Source) GetNextPage() (*page.Page, error) { return s.buf.pop(), nil }

func (s *Source) IsFinished() bool { return s.buf.isClosedAndEmpty() }

func (s *Source) IsBlocked() *memctl.Future { return memctl.Resolved() }
