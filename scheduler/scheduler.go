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

// Package scheduler implements the coordinator-side Stage Scheduler:
// per-stage task placement, split feeding, and the per-round
// ScheduleResult protocol.
package scheduler

import (
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/memctl"
)

// RetryPolicy governs how a stage's task failures are handled.
type RetryPolicy int

const (
	RetryNone RetryPolicy = iota
	RetryTask
	RetryQuery
)

// BlockedReason explains why a ScheduleResult is blocked.
type BlockedReason int

const (
	NoneBlocked BlockedReason = iota
	WriterScaling
	SplitQueuesFull
	WaitingForSource
)

// ScheduleResult is the per-round outcome of scheduling one stage.
// An unblocked, non-finished result must be re-called; a blocked
// result waits on Blocked before the next round.
type ScheduleResult struct {
	Finished        bool
	NewTasks        []ids.TaskID
	Blocked         *memctl.Future
	BlockedReason   BlockedReason
	SplitsScheduled uint32
}

// Node is a placement candidate: a worker identified by id, with a
// load score and the set of splits it has affinity for (colocation).
type Node struct {
	ID      string
	Load    int
	Affinity map[string]bool
}

// SelectNode picks the best node for a split. Tie-break order: most
// affinity, then least loaded, then lexicographic id.
func SelectNode(nodes []Node, splitID string) (Node, bool) {
	if len(nodes) == 0 {
		return Node{}, false
	}
	best := make([]Node, len(nodes))
	copy(best, nodes)
	sort.Slice(best, func(i, j int) bool {
		ai, aj := best[i].Affinity[splitID], best[j].Affinity[splitID]
		if ai != aj {
			return ai // true (has affinity) sorts first
		}
		if best[i].Load != best[j].Load {
			return best[i].Load < best[j].Load
		}
		return best[i].ID < best[j].ID
	})
	return best[0], true
}

// Split is the coordinator's view of a source split awaiting
// assignment to a task.
type Split struct {
	ID string
}

// TaskHandle is the scheduler's view of one scheduled task: enough to
// feed it splits and observe backpressure, without depending on the
// worker-side task package (coordinator and worker are separate
// processes; this is the RPC-facing shape).
type TaskHandle struct {
	ID      ids.TaskID
	NodeID  string
	Started bool
}

// Stage schedules the tasks of one query stage across the node pool,
// feeding splits to source stages and tracking retry state.
type Stage struct {
	Query       ids.QueryID
	StageID     ids.StageID
	Retry       RetryPolicy
	IsSource    bool
	MaxTasks    int
	Nodes       []Node

	tasks       []TaskHandle
	pending     []Split
	nextAttempt int32
	retries     map[int32]int
}

// NewStage returns an empty Stage ready to schedule.
func NewStage(query ids.QueryID, stage ids.StageID, retry RetryPolicy, isSource bool, maxTasks int, nodes []Node) *Stage {
	return &Stage{
		Query: query, StageID: stage, Retry: retry, IsSource: isSource,
		MaxTasks: maxTasks, Nodes: nodes, retries: make(map[int32]int),
	}
}

// AddSplits enqueues splits to be handed to source tasks on
// subsequent Schedule rounds.
func (s *Stage) AddSplits(splits []Split) {
	s.pending = append(s.pending, splits...)
}

// Schedule runs one round: places new tasks up to MaxTasks, assigns
// pending splits to source stages, and reports a ScheduleResult.
func (s *Stage) Schedule() ScheduleResult {
	var newTasks []ids.TaskID
	for len(s.tasks) < s.MaxTasks && (len(s.pending) > 0 || !s.IsSource) {
		node, ok := s.selectNodeForNext()
		if !ok {
			break
		}
		id := ids.TaskID{Query: s.Query, Stage: s.StageID, Task: int32(len(s.tasks)), AttemptID: 0}
		s.tasks = append(s.tasks, TaskHandle{ID: id, NodeID: node.ID, Started: true})
		newTasks = append(newTasks, id)
		if !s.IsSource {
			break // one task is enough for a non-source stage's initial wave
		}
	}

	var scheduled uint32
	if s.IsSource && len(s.tasks) > 0 {
		scheduled = uint32(len(s.pending))
		s.pending = nil
	}

	if len(s.pending) > 0 && len(s.tasks) >= s.MaxTasks {
		return ScheduleResult{NewTasks: newTasks, Blocked: memctl.NewFuture(), BlockedReason: SplitQueuesFull, SplitsScheduled: scheduled}
	}

	finished := !s.IsSource && len(s.tasks) >= s.MaxTasks
	if s.IsSource {
		finished = len(s.pending) == 0 && len(s.tasks) > 0
	}
	return ScheduleResult{Finished: finished, NewTasks: newTasks, SplitsScheduled: scheduled}
}

func (s *Stage) selectNodeForNext() (Node, bool) {
	splitID := ""
	if len(s.pending) > 0 {
		splitID = s.pending[0].ID
	}
	return SelectNode(s.weightedNodes(), splitID)
}

// NodeLoad is one node's task count within this stage, as of the
// call, with NodeID in sorted order.
type NodeLoad struct {
	NodeID string
	Tasks  int
}

// NodeLoadSnapshot tallies the tasks this stage has placed on each
// node, visiting node ids in sorted order so repeated calls are
// reproducible regardless of map iteration order, matching the
// node-table walks in plan/pir.
func (s *Stage) NodeLoadSnapshot() []NodeLoad {
	load := make(map[string]int, len(s.tasks))
	for _, th := range s.tasks {
		load[th.NodeID]++
	}
	nodeIDs := maps.Keys(load)
	slices.Sort(nodeIDs)
	out := make([]NodeLoad, len(nodeIDs))
	for i, id := range nodeIDs {
		out[i] = NodeLoad{NodeID: id, Tasks: load[id]}
	}
	return out
}

// weightedNodes returns a copy of s.Nodes with each Load increased by
// the tasks this stage has already placed on it, so later Schedule
// rounds spread new tasks across the pool instead of repeatedly
// picking whichever node the static input Load favored.
func (s *Stage) weightedNodes() []Node {
	out := make([]Node, len(s.Nodes))
	copy(out, s.Nodes)
	for _, nl := range s.NodeLoadSnapshot() {
		for i := range out {
			if out[i].ID == nl.NodeID {
				out[i].Load += nl.Tasks
				break
			}
		}
	}
	return out
}

// RetryTaskAttempt records a task failure and, if the retry policy
// allows it, returns the TaskID of the next attempt to schedule.
func (s *Stage) RetryTaskAttempt(failed ids.TaskID) (ids.TaskID, bool) {
	if s.Retry == RetryNone {
		return ids.TaskID{}, false
	}
	n := s.retries[failed.Task]
	const maxAttempts = 3
	if n >= maxAttempts {
		return ids.TaskID{}, false
	}
	s.retries[failed.Task] = n + 1
	failed.AttemptID = int32(n)
	return failed.NextAttempt(), true
}
