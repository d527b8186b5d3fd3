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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sneller-query/qcore/ids"
)

// QueryState is the coordinator-visible state of a query.
type QueryState int

const (
	Queued QueryState = iota
	Dispatching
	Planning
	Starting
	QueryRunning
	Finishing
	QueryFinished
	QueryFailed
	QueryCanceled
)

// StatementRequest is the POST /v1/statement body.
type StatementRequest struct {
	SQL     string `json:"sql"`
	Session string `json:"session,omitempty"`
}

// StatementResponse returns the assigned query id and polling URI.
type StatementResponse struct {
	QueryID  string `json:"queryId"`
	StatusURI string `json:"statusUri"`
}

// QueryInfo is the GET /v1/query/{queryId} response.
type QueryInfo struct {
	QueryID string `json:"queryId"`
	State   string `json:"state"`
}

// Coordinator is the minimal server-side contract the HTTP surface
// dispatches to; a full planner/scheduler implementation is out of
// scope here.
type Coordinator interface {
	Submit(sql, session string) (ids.QueryID, error)
	QueryState(id ids.QueryID) (QueryState, bool)
	CancelQuery(id ids.QueryID) error
	RequestShutdown()
}

// CoordinatorHandler implements the coordinator's HTTP surface: POST /v1/statement, GET/DELETE /v1/query/{id}, and the admin
// shutdown endpoint.
type CoordinatorHandler struct {
	Coord Coordinator
}

func (h *CoordinatorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "v1/statement" && r.Method == http.MethodPost:
		h.postStatement(w, r)
	case strings.HasPrefix(path, "v1/query/") && r.Method == http.MethodGet:
		h.getQuery(w, strings.TrimPrefix(path, "v1/query/"))
	case strings.HasPrefix(path, "v1/query/") && r.Method == http.MethodDelete:
		h.deleteQuery(w, strings.TrimPrefix(path, "v1/query/"))
	case path == "v1/info/state" && r.Method == http.MethodPut:
		h.Coord.RequestShutdown()
		writeJSON(w, struct{}{})
	default:
		http.NotFound(w, r)
	}
}

func (h *CoordinatorHandler) postStatement(w http.ResponseWriter, r *http.Request) {
	var req StatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.Coord.Submit(req.SQL, req.Session)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatementResponse{QueryID: id.String(), StatusURI: "/v1/query/" + id.String()})
}

func (h *CoordinatorHandler) getQuery(w http.ResponseWriter, idStr string) {
	id, err := parseQueryID(idStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, ok := h.Coord.QueryState(id)
	if !ok {
		http.Error(w, "unknown query", http.StatusNotFound)
		return
	}
	writeJSON(w, QueryInfo{QueryID: idStr, State: queryStateName(st)})
}

func (h *CoordinatorHandler) deleteQuery(w http.ResponseWriter, idStr string) {
	id, err := parseQueryID(idStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Coord.CancelQuery(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct{}{})
}

func parseQueryID(s string) (ids.QueryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ids.QueryID{}, err
	}
	return ids.QueryID(u), nil
}

func queryStateName(s QueryState) string {
	names := [...]string{"QUEUED", "DISPATCHING", "PLANNING", "STARTING", "RUNNING", "FINISHING", "FINISHED", "FAILED", "CANCELED"}
	if int(s) < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}
