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

// ScaleWriter is the scale-writer round-robin local exchange: it starts with a single active writer sink and grows the
// active writer count when (a) memory utilization reaches 50% of the
// buffer budget and (b) physical bytes written since the last scale
// event reach activeWriters * writerMinSize. The active count never
// shrinks. Index selection cycles as (index+1) mod activeWriters.
//
// Growth is checked and applied before routing the page that
// triggered it; that page still goes to the index chosen under the
// previous writer count, and the new writer first receives a page
// when the cycle reaches it.
type ScaleWriter struct {
	mu sync.Mutex

	bufs   []*sinkBuffer
	mgr    *memctl.Manager
	active int
	index  int

	bufferBudget    int64
	writerMinSize   int64
	bytesSinceScale int64
}

// NewScaleWriter returns a ScaleWriter exchange with up to maxWriters
// downstream readers, a shared memory budget of bufferBudget bytes,
// and a writerMinSize threshold governing how much traffic must pass
// before growing the writer count.
func NewScaleWriter(maxWriters int, bufferBudget, writerMinSize int64) *ScaleWriter {
	mgr := memctl.NewManager(bufferBudget)
	bufs := make([]*sinkBuffer, maxWriters)
	for i := range bufs {
		bufs[i] = &sinkBuffer{mgr: mgr}
	}
	return &ScaleWriter{
		bufs:          bufs,
		mgr:           mgr,
		active:        1,
		bufferBudget:  bufferBudget,
		writerMinSize: writerMinSize,
	}
}

func (s *ScaleWriter) Writer() *scaleWriterSink { return &scaleWriterSink{s: s} }
func (s *ScaleWriter) Source(i int) *Source      { return &Source{buf: s.bufs[i]} }

func (s *ScaleWriter) ActiveWriters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *ScaleWriter) FinishAll() {
	for _, b := range s.bufs {
		b.close()
	}
}

// maybeScale grows s.active by one if both growth conditions hold.
// Caller must hold s.mu.
func (s *ScaleWriter) maybeScale() {
	if s.active >= len(s.bufs) {
		return
	}
	if s.bufferBudget > 0 && s.mgr.Usage()*2 < s.bufferBudget {
		return
	}
	if s.bytesSinceScale < int64(s.active)*s.writerMinSize {
		return
	}
	s.active++
	s.bytesSinceScale = 0
}

type scaleWriterSink struct{ s *ScaleWriter }

func (w *scaleWriterSink) AddPage(p *page.Page) error {
	w.s.mu.Lock()
	w.s.maybeScale()
	idx := w.s.index
	w.s.index = (w.s.index + 1) % w.s.active
	w.s.bytesSinceScale += int64(p.RetainedSizeInBytes())
	w.s.mu.Unlock()
	w.s.bufs[idx].push(p)
	return nil
}

func (w *scaleWriterSink) Finish() { w.s.FinishAll() }

func (w *scaleWriterSink) IsBlocked() *memctl.Future { return w.s.mgr.NotFullFuture() }
