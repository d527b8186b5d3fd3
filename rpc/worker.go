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

// Package rpc implements the HTTP-style worker and coordinator wire
// surface: task creation/status/cancel, result pulls and
// acknowledgment, and the coordinator's statement/query endpoints.
package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sneller-query/qcore/page"
	"github.com/sneller-query/qcore/qerr"
	"github.com/sneller-query/qcore/task"
)

// TaskInfo is the wire shape returned by task create/update/status.
type TaskInfo struct {
	TaskID            string            `json:"taskId"`
	State             string            `json:"state"`
	Blocked           int64             `json:"blockedMillis"`
	MaxQuantumSeconds float64           `json:"maxQuantumSeconds,omitempty"`
	Error             *qerr.FailureInfo `json:"error,omitempty"`
}

func infoOf(t *task.Task) TaskInfo {
	s := t.Stats()
	info := TaskInfo{
		TaskID:            t.ID.String(),
		State:             s.State.String(),
		Blocked:           s.BlockedMillis,
		MaxQuantumSeconds: s.MaxQuantumSeconds,
	}
	if s.Error != nil {
		fi := qerr.ToFailureInfo(s.Error)
		info.Error = &fi
	}
	return info
}

// TaskUpdate is the PUT /v1/task/{taskId} request body.
type TaskUpdate struct {
	Splits       []task.Split `json:"splits,omitempty"`
	NoMoreSplits bool         `json:"noMoreSplits,omitempty"`
}

// WorkerHandler implements the worker's HTTP surface. Tasks
// are looked up by the string form of their ids.TaskID.
type WorkerHandler struct {
	Tasks func(id string) (*task.Task, bool)
}

// ServeHTTP dispatches on method and path. Production routers would
// use a mux; this implementation matches the literal path shapes
// directly.
func (h *WorkerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts[0]=="v1", parts[1]=="task", parts[2]==taskId, ...
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "task" {
		http.NotFound(w, r)
		return
	}
	taskID := parts[2]
	t, ok := h.Tasks(taskID)

	switch {
	case len(parts) == 3 && r.Method == http.MethodPut:
		h.putTask(w, r, taskID, t, ok)
	case len(parts) == 3 && r.Method == http.MethodGet:
		h.getTask(w, r, t, ok)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		h.deleteTask(w, r, t, ok)
	case len(parts) == 6 && parts[3] == "results" && r.Method == http.MethodGet:
		h.getResults(w, r, t, ok, parts[4], parts[5])
	case len(parts) == 7 && parts[3] == "results" && parts[6] == "acknowledge" && r.Method == http.MethodGet:
		h.acknowledge(w, r, t, ok, parts[4], parts[5])
	default:
		http.NotFound(w, r)
	}
}

func (h *WorkerHandler) putTask(w http.ResponseWriter, r *http.Request, taskID string, t *task.Task, ok bool) {
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	var upd TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(upd.Splits) > 0 {
		if err := t.AddSplits(upd.Splits); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	}
	if upd.NoMoreSplits {
		t.NoMoreSplits()
	}
	writeJSON(w, infoOf(t))
}

func (h *WorkerHandler) getTask(w http.ResponseWriter, r *http.Request, t *task.Task, ok bool) {
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	maxWait := 0 * time.Second
	if v := r.Header.Get("maxWait"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			maxWait = time.Duration(ms) * time.Millisecond
		}
	}
	if maxWait > 0 {
		var cur task.State
		if v := r.Header.Get("currentState"); v != "" {
			cur = parseState(v)
		}
		t.WaitForStateChange(cur, maxWait)
	}
	writeJSON(w, infoOf(t))
}

func (h *WorkerHandler) deleteTask(w http.ResponseWriter, r *http.Request, t *task.Task, ok bool) {
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	abort := r.URL.Query().Get("abort") == "true"
	t.Cancel(abort)
	writeJSON(w, infoOf(t))
}

// ResultsResponse is the wire shape for a results pull (frames are
// serialized via the page codec; headers carry the rest).
type ResultsResponse struct {
	NextSeq        int64  `json:"nextSeq"`
	BufferComplete bool   `json:"bufferComplete"`
	Frames         [][]byte `json:"frames"`
}

func (h *WorkerHandler) getResults(w http.ResponseWriter, r *http.Request, t *task.Task, ok bool, clientIDStr, fromSeqStr string) {
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	clientID, err := strconv.Atoi(clientIDStr)
	if err != nil {
		http.Error(w, "bad clientId", http.StatusBadRequest)
		return
	}
	fromSeq, err := strconv.ParseInt(fromSeqStr, 10, 64)
	if err != nil {
		http.Error(w, "bad fromSeq", http.StatusBadRequest)
		return
	}
	maxBytes, _ := strconv.ParseInt(r.URL.Query().Get("maxBytes"), 10, 64)

	buf := t.OutputBuffer()
	if buf == nil {
		writeJSON(w, ResultsResponse{NextSeq: fromSeq})
		return
	}
	pages, next, complete, err := buf.Get(clientID, fromSeq, maxBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frames := make([][]byte, len(pages))
	for i, p := range pages {
		frame, err := page.Serialize(p, page.CodecOptions{Compress: true})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		frames[i] = frame
	}
	writeJSON(w, ResultsResponse{NextSeq: next, BufferComplete: complete, Frames: frames})
}

func (h *WorkerHandler) acknowledge(w http.ResponseWriter, r *http.Request, t *task.Task, ok bool, clientIDStr, upToSeqStr string) {
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	clientID, err := strconv.Atoi(clientIDStr)
	if err != nil {
		http.Error(w, "bad clientId", http.StatusBadRequest)
		return
	}
	upToSeq, err := strconv.ParseInt(upToSeqStr, 10, 64)
	if err != nil {
		http.Error(w, "bad upToSeq", http.StatusBadRequest)
		return
	}
	buf := t.OutputBuffer()
	if buf == nil {
		writeJSON(w, struct{}{})
		return
	}
	if err := buf.Acknowledge(clientID, upToSeq); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct{}{})
}

func parseState(s string) task.State {
	switch s {
	case "PLANNED":
		return task.Planned
	case "RUNNING":
		return task.Running
	case "FINISHED":
		return task.Finished
	case "CANCELED":
		return task.Canceled
	case "ABORTED":
		return task.Aborted
	case "FAILED":
		return task.Failed
	default:
		return task.Planned
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
