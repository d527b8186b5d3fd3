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

package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/task"
)

func newWorkerHandler(tsk *task.Task) *WorkerHandler {
	return &WorkerHandler{
		Tasks: func(id string) (*task.Task, bool) {
			if tsk == nil || id != tsk.ID.String() {
				return nil, false
			}
			return tsk, true
		},
	}
}

func newIDTask() *task.Task {
	id := ids.TaskID{Query: ids.NewQueryID(), Stage: 0, Task: 0, AttemptID: 0}
	return task.New(id, 1<<20)
}

func TestWorkerHandlerUnknownPathIs404(t *testing.T) {
	h := newWorkerHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/v2/whatever", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWorkerHandlerUnknownTaskIs404(t *testing.T) {
	h := newWorkerHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/task/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWorkerHandlerGetTaskReturnsState(t *testing.T) {
	tsk := newIDTask()
	h := newWorkerHandler(tsk)

	req := httptest.NewRequest(http.MethodGet, "/v1/task/"+tsk.ID.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info TaskInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != "PLANNED" {
		t.Fatalf("state = %q, want PLANNED", info.State)
	}
	if info.MaxQuantumSeconds != 0 {
		t.Fatalf("MaxQuantumSeconds = %v, want 0 for a task with no attached scheduler", info.MaxQuantumSeconds)
	}
}

func TestWorkerHandlerPutTaskAddsSplitsAndRuns(t *testing.T) {
	tsk := newIDTask()
	if err := tsk.Configure(nil, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	h := newWorkerHandler(tsk)

	body, _ := json.Marshal(TaskUpdate{Splits: []task.Split{{ID: "s1"}}, NoMoreSplits: true})
	req := httptest.NewRequest(http.MethodPut, "/v1/task/"+tsk.ID.String(), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	splits, noMore := tsk.Splits()
	if len(splits) != 1 || splits[0].ID != "s1" {
		t.Fatalf("splits = %v, want [s1]", splits)
	}
	if !noMore {
		t.Fatal("expected NoMoreSplits to be applied")
	}
}

func TestWorkerHandlerDeleteTaskCancels(t *testing.T) {
	tsk := newIDTask()
	if err := tsk.Configure(nil, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	h := newWorkerHandler(tsk)

	req := httptest.NewRequest(http.MethodDelete, "/v1/task/"+tsk.ID.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := tsk.Stats().State; got != task.Canceled {
		t.Fatalf("state = %v, want Canceled", got)
	}
}

func TestWorkerHandlerResultsRouting(t *testing.T) {
	tsk := newIDTask()
	h := newWorkerHandler(tsk)

	req := httptest.NewRequest(http.MethodGet, "/v1/task/"+tsk.ID.String()+"/results/0/0", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("results status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp ResultsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.NextSeq != 0 {
		t.Fatalf("NextSeq = %d, want 0 (no output buffer attached yet)", resp.NextSeq)
	}

	ackReq := httptest.NewRequest(http.MethodGet, "/v1/task/"+tsk.ID.String()+"/results/0/0/acknowledge", nil)
	ackRec := httptest.NewRecorder()
	h.ServeHTTP(ackRec, ackReq)
	if ackRec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, want 200", ackRec.Code)
	}
}

func TestWorkerHandlerBadClientIDIsBadRequest(t *testing.T) {
	tsk := newIDTask()
	h := newWorkerHandler(tsk)
	req := httptest.NewRequest(http.MethodGet, "/v1/task/"+tsk.ID.String()+"/results/notanumber/0", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
