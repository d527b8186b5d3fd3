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

// Package ids defines the identity types shared by the coordinator
// and worker sides of a query: queries, stages, tasks and
// transactions are all identified by values from this package.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// QueryID identifies a query for its entire lifetime.
type QueryID uuid.UUID

// NewQueryID allocates a fresh, random QueryID.
func NewQueryID() QueryID { return QueryID(uuid.New()) }

func (q QueryID) String() string { return uuid.UUID(q).String() }

// StageID identifies a fragment within a query's stage DAG.
// Stage numbering is assigned by the planner (out of scope here);
// the core only needs it to be a small dense integer for indexing.
type StageID int32

// TaskID is the full worker-side identity of a task:
// (queryId, stageId, taskId, attemptId).
type TaskID struct {
	Query    QueryID
	Stage    StageID
	Task     int32
	AttemptID int32
}

func (t TaskID) String() string {
	return fmt.Sprintf("%s.%d.%d.%d", t.Query, t.Stage, t.Task, t.AttemptID)
}

// NextAttempt returns the TaskID for a fresh attempt of the same
// (query, stage, task), as created by a TASK-level retry.
func (t TaskID) NextAttempt() TaskID {
	t.AttemptID++
	return t
}

// TransactionID identifies a connector transaction bracketing a query.
type TransactionID uuid.UUID

// NewTransactionID allocates a fresh, random TransactionID.
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

func (t TransactionID) String() string { return uuid.UUID(t).String() }
