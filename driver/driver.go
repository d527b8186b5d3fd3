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

// Package driver implements the Driver (a linear operator chain) and
// the cooperative DriverScheduler that multiplexes many Drivers onto
// a worker-wide pool of threads.
package driver

import (
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/operator"
)

// State is a Driver's progress classification for one Process call.
type State int

const (
	// Progressed means at least one Page moved between operators.
	Progressed State = iota
	// Blocked means every operator that could make progress is
	// currently blocked; Blocking() reports the future to wait on.
	Blocked
	// Finished means every operator in the chain is finished.
	Finished
)

// Driver is a linear chain of Operators sharing one thread of
// execution. It is not safe for concurrent use; the
// DriverScheduler guarantees only one goroutine calls Process at a
// time for a given Driver.
type Driver struct {
	ops []operator.Operator
}

// New builds a Driver from an ordered operator chain, source first,
// sink last.
func New(ops []operator.Operator) *Driver {
	return &Driver{ops: ops}
}

// Process runs the chain for up to one "step" of work per the
// the driver's process() algorithm:
//  1. if any operator is blocked, return its future immediately.
//  2. walk the chain moving Pages from upstream to downstream while
//     both sides are ready.
//  3. propagate finish() to the next operator once its upstream is
//     finished and fully drained.
//  4. report Finished once every operator reports isFinished().
func (d *Driver) Process() (State, *memctl.Future, error) {
	if len(d.ops) == 0 {
		return Finished, nil, nil
	}

	for _, op := range d.ops {
		if !op.IsFinished() {
			if f := op.IsBlocked(); f != nil && !f.IsResolved() {
				return Blocked, f, nil
			}
		}
	}

	progressed := false
	for i := 0; i < len(d.ops)-1; i++ {
		up, down := d.ops[i], d.ops[i+1]
		if !down.NeedsInput() {
			continue
		}
		if up.IsFinished() {
			if err := down.Finish(); err != nil {
				return Blocked, nil, err
			}
			continue
		}
		page, err := up.GetOutput()
		if err != nil {
			return Blocked, nil, err
		}
		if page == nil {
			if upstreamDrained(up) {
				if err := down.Finish(); err != nil {
					return Blocked, nil, err
				}
			}
			continue
		}
		if err := down.AddInput(page); err != nil {
			return Blocked, nil, err
		}
		progressed = true
	}

	if allFinished(d.ops) {
		return Finished, nil, nil
	}
	if progressed {
		return Progressed, nil, nil
	}
	// No operator is blocked and no Page moved: every ready operator
	// is waiting on its own upstream, which in turn is waiting on an
	// external source. Report the first unresolved blocking future we
	// can find, defaulting to a resolved one so the scheduler re-polls
	// promptly rather than parking forever.
	for _, op := range d.ops {
		if f := op.IsBlocked(); f != nil && !f.IsResolved() {
			return Blocked, f, nil
		}
	}
	return Blocked, memctl.Resolved(), nil
}

// upstreamDrained reports whether an operator that just returned a
// nil Page has truly finished (vs. merely having no output ready
// without more input).
func upstreamDrained(op operator.Operator) bool {
	return op.IsFinished()
}

func allFinished(ops []operator.Operator) bool {
	for _, op := range ops {
		if !op.IsFinished() {
			return false
		}
	}
	return true
}

// Close releases every operator in the chain, in order, continuing
// past individual errors so every operator gets a chance to release
// its resources.
func (d *Driver) Close() error {
	var first error
	for _, op := range d.ops {
		if err := op.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsFinished reports whether every operator in the chain is finished.
func (d *Driver) IsFinished() bool { return allFinished(d.ops) }
