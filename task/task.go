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

// Package task implements the worker-side Task: identity, split
// assignment, pipelines/drivers, memory context and the terminal
// state machine. A Task exclusively owns its Drivers and Output
// Buffer.
package task

import (
	"sync"
	"time"

	"github.com/sneller-query/qcore/driver"
	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/outputbuffer"
	"github.com/sneller-query/qcore/qerr"
)

// State is a Task's lifecycle stage. Once terminal, state is sticky.
type State int

const (
	Planned State = iota
	Running
	Finished
	Canceled
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Planned:
		return "PLANNED"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Canceled:
		return "CANCELED"
	case Aborted:
		return "ABORTED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool { return s != Planned && s != Running }

// Split is an opaque unit of source data assignment; the planner and
// connector define its contents (out of scope here).
type Split struct {
	ID      string
	Payload any
}

// Stats is the task-level and buffer-fill status reported on each
// heartbeat.
type Stats struct {
	State             State
	BlockedMillis     int64
	OutputBufferFill  int64
	MaxQuantumSeconds float64
	Error             error
}

// Task is the worker-side execution unit.
type Task struct {
	ID ids.TaskID

	mu           sync.Mutex
	state        State
	splits       []Split
	noMoreSplits bool
	err          error
	blockedSince time.Time
	blockedTotal time.Duration

	memCtx  *memctl.Context
	output  *outputbuffer.Buffer
	drivers []*driver.Driver
	sched   *driver.Scheduler
	stateCh chan struct{} // closed and replaced on every state change, for long-poll
}

// New creates a PLANNED Task. Drivers and the output buffer are
// attached once the fragment is built (see Configure).
func New(id ids.TaskID, memLimit int64) *Task {
	return &Task{
		ID:      id,
		state:   Planned,
		memCtx:  memctl.NewRoot(id.String(), memLimit),
		stateCh: make(chan struct{}),
	}
}

// Configure attaches the task's built pipelines and Output Buffer and
// transitions PLANNED -> RUNNING. It is a no-op, sticky
// terminal-state rule, once the task is already terminal.
func (t *Task) Configure(drivers []*driver.Driver, output *outputbuffer.Buffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return nil
	}
	t.drivers = drivers
	t.output = output
	t.setStateLocked(Running)
	return nil
}

// AttachScheduler records the worker process's shared Driver
// Scheduler so Stats can surface its longest-observed quantum
// alongside this task's own status; it is optional and has no effect
// on scheduling or pipeline ownership.
func (t *Task) AttachScheduler(s *driver.Scheduler) {
	t.mu.Lock()
	t.sched = s
	t.mu.Unlock()
}

// AddSplits appends splits for a source task.
func (t *Task) AddSplits(splits []Split) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return nil
	}
	if t.noMoreSplits {
		return qerr.Internal_("task %s: split assigned after noMoreSplits", t.ID)
	}
	t.splits = append(t.splits, splits...)
	return nil
}

// NoMoreSplits marks split assignment complete for this task.
func (t *Task) NoMoreSplits() {
	t.mu.Lock()
	t.noMoreSplits = true
	t.mu.Unlock()
}

// Splits returns a snapshot of the splits assigned so far and whether
// no more will arrive.
func (t *Task) Splits() ([]Split, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Split, len(t.splits))
	copy(out, t.splits)
	return out, t.noMoreSplits
}

// Cancel transitions the task to CANCELED, or to ABORTED when abort
// is set; abort additionally destroys the output buffer immediately
// rather than letting consumers drain it.
func (t *Task) Cancel(abort bool) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if abort {
		t.setStateLocked(Aborted)
	} else {
		t.setStateLocked(Canceled)
	}
	output := t.output
	t.mu.Unlock()
	t.closeDrivers()
	if abort && output != nil {
		output.Destroy()
	}
}

// Fail transitions the task to FAILED, recording err.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.err = err
	t.setStateLocked(Failed)
	t.mu.Unlock()
	t.closeDrivers()
}

// Canceled reports whether the task has reached a terminal state;
// it satisfies driver.Cancelable so the DriverScheduler can observe
// cancellation at quantum boundaries.
func (t *Task) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Terminal()
}

func (t *Task) closeDrivers() {
	t.mu.Lock()
	drivers := t.drivers
	t.mu.Unlock()
	for _, d := range drivers {
		_ = d.Close()
	}
}

// MaybeFinish transitions RUNNING -> FINISHED once every driver has
// finished and the output buffer has drained and acknowledged all
// clients.
func (t *Task) MaybeFinish(outputComplete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	for _, d := range t.drivers {
		if !d.IsFinished() {
			return
		}
	}
	if !outputComplete {
		return
	}
	t.setStateLocked(Finished)
}

// setStateLocked updates state and wakes any long-poll waiters.
// Caller must hold t.mu.
func (t *Task) setStateLocked(s State) {
	t.state = s
	close(t.stateCh)
	t.stateCh = make(chan struct{})
}

// Stats reports the task's current status for a heartbeat response.
func (t *Task) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var fill int64
	if t.output != nil {
		fill = t.output.TotalBacklogBytes()
	}
	var maxQuantum float64
	if t.sched != nil {
		maxQuantum = t.sched.MaxQuantumSeconds()
	}
	return Stats{
		State:             t.state,
		BlockedMillis:     t.blockedTotal.Milliseconds(),
		OutputBufferFill:  fill,
		MaxQuantumSeconds: maxQuantum,
		Error:             t.err,
	}
}

// WaitForStateChange blocks until the state differs from
// currentState or maxWait elapses, for the GET long-poll.
func (t *Task) WaitForStateChange(currentState State, maxWait time.Duration) State {
	t.mu.Lock()
	if t.state != currentState {
		s := t.state
		t.mu.Unlock()
		return s
	}
	ch := t.stateCh
	t.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MemoryContext returns the task's root memory-accounting context.
func (t *Task) MemoryContext() *memctl.Context { return t.memCtx }

// OutputBuffer returns the task's Output Buffer, or nil before
// Configure has run.
func (t *Task) OutputBuffer() *outputbuffer.Buffer { return t.output }
