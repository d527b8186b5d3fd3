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

package driver

import (
	"context"
	"log"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/sneller-query/qcore/internal/atomicext"
)

// Quantum is the default time slice a Driver runs for before the
// scheduler voluntarily reclaims its worker thread.
const Quantum = time.Second

// Cancelable lets the scheduler ask whether a Driver's owning Task has
// reached a terminal state; it checks this at quantum boundaries.
type Cancelable interface {
	Canceled() bool
}

// entry pairs a Driver with the cancellation check for its Task.
type entry struct {
	d   *Driver
	tsk Cancelable
}

// Scheduler runs a FIFO ready queue of Drivers across a fixed pool of
// worker goroutines, sized to the number of cores by default. A Driver that blocks is parked on its Future and
// re-queued when the Future resolves.
type Scheduler struct {
	workers int
	ready   chan entry

	mu      sync.Mutex
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once

	// maxQuantumSeconds tracks the longest single quantum observed
	// across every worker goroutine. Workers update it concurrently
	// without ever taking a lock, since it is purely advisory (surfaced
	// through Stats for operational visibility, never read back into
	// scheduling decisions).
	maxQuantumSeconds float64
}

// NewScheduler returns a Scheduler with `workers` worker goroutines.
// A workers value <= 0 defaults to runtime.GOMAXPROCS(0).
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s := &Scheduler{
		workers: workers,
		ready:   make(chan entry, 4096),
		closing: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	return s
}

// Submit places a Driver on the ready queue for its first quantum.
func (s *Scheduler) Submit(d *Driver, tsk Cancelable) {
	select {
	case s.ready <- entry{d: d, tsk: tsk}:
	case <-s.closing:
	}
}

func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closing:
			return
		case e := <-s.ready:
			s.runQuantum(e)
		}
	}
}

// runQuantum drives one Driver for up to Quantum, stepping it
// repeatedly while it reports Progressed, yielding at a Blocked
// result (parking on the Future), a Finished result (closing the
// Driver), or the time slice elapsing (re-queuing immediately).
func (s *Scheduler) runQuantum(e entry) {
	start := time.Now()
	deadline := start.Add(Quantum)
	defer func() {
		atomicext.MaxFloat64(&s.maxQuantumSeconds, time.Since(start).Seconds())
	}()
	for {
		if e.tsk != nil && e.tsk.Canceled() {
			if err := e.d.Close(); err != nil {
				log.Printf("driver: close on cancel: %v", err)
			}
			return
		}
		state, blockedOn, err := e.d.Process()
		if err != nil {
			log.Printf("driver: operator error: %v", err)
			if cerr := e.d.Close(); cerr != nil {
				log.Printf("driver: close after error: %v", cerr)
			}
			return
		}
		switch state {
		case Finished:
			if cerr := e.d.Close(); cerr != nil {
				log.Printf("driver: close on finish: %v", cerr)
			}
			return
		case Blocked:
			s.park(e, blockedOn)
			return
		case Progressed:
			if time.Now().After(deadline) {
				s.requeue(e)
				return
			}
		}
	}
}

// park waits for the blocking Future in a dedicated goroutine (rather
// than occupying a worker slot) and re-queues the Driver once
// unblocked, per the Driver "park and re-queue" fairness rule.
func (s *Scheduler) park(e entry, f interface{ Done() <-chan struct{} }) {
	if f == nil {
		s.requeue(e)
		return
	}
	go func() {
		select {
		case <-f.Done():
			s.requeue(e)
		case <-s.closing:
		}
	}()
}

func (s *Scheduler) requeue(e entry) {
	select {
	case s.ready <- e:
	case <-s.closing:
	}
}

// MaxQuantumSeconds returns the longest single quantum any worker has
// run so far, for operational monitoring.
func (s *Scheduler) MaxQuantumSeconds() float64 {
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.maxQuantumSeconds)))
	return math.Float64frombits(bits)
}

// Close stops accepting new work and waits for running workers to
// observe the shutdown signal. In-flight quanta finish their current
// Process() call before exiting.
func (s *Scheduler) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.closing) })
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
