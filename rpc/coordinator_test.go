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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sneller-query/qcore/ids"
)

type fakeCoordinator struct {
	submitted  []string
	nextID     ids.QueryID
	states     map[ids.QueryID]QueryState
	canceled   []ids.QueryID
	shutdowns  int
	submitErr  error
	cancelErr  error
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{nextID: ids.NewQueryID(), states: map[ids.QueryID]QueryState{}}
}

func (f *fakeCoordinator) Submit(sql, session string) (ids.QueryID, error) {
	if f.submitErr != nil {
		return ids.QueryID{}, f.submitErr
	}
	f.submitted = append(f.submitted, sql)
	f.states[f.nextID] = Queued
	return f.nextID, nil
}

func (f *fakeCoordinator) QueryState(id ids.QueryID) (QueryState, bool) {
	st, ok := f.states[id]
	return st, ok
}

func (f *fakeCoordinator) CancelQuery(id ids.QueryID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	f.states[id] = QueryCanceled
	return nil
}

func (f *fakeCoordinator) RequestShutdown() { f.shutdowns++ }

func TestCoordinatorHandlerPostStatementReturnsQueryID(t *testing.T) {
	coord := newFakeCoordinator()
	h := &CoordinatorHandler{Coord: coord}

	body, _ := json.Marshal(StatementRequest{SQL: "select 1", Session: "s1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/statement", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp StatementResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.QueryID != coord.nextID.String() {
		t.Fatalf("QueryID = %q, want %q", resp.QueryID, coord.nextID.String())
	}
	if resp.StatusURI != "/v1/query/"+coord.nextID.String() {
		t.Fatalf("StatusURI = %q", resp.StatusURI)
	}
	if len(coord.submitted) != 1 || coord.submitted[0] != "select 1" {
		t.Fatalf("submitted = %v, want [select 1]", coord.submitted)
	}
}

func TestCoordinatorHandlerPostStatementSubmitError(t *testing.T) {
	coord := newFakeCoordinator()
	coord.submitErr = errors.New("planner unavailable")
	h := &CoordinatorHandler{Coord: coord}

	body, _ := json.Marshal(StatementRequest{SQL: "select 1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/statement", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCoordinatorHandlerGetQueryReturnsState(t *testing.T) {
	coord := newFakeCoordinator()
	coord.states[coord.nextID] = QueryRunning
	h := &CoordinatorHandler{Coord: coord}

	req := httptest.NewRequest(http.MethodGet, "/v1/query/"+coord.nextID.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var info QueryInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != "RUNNING" {
		t.Fatalf("State = %q, want RUNNING", info.State)
	}
}

func TestCoordinatorHandlerGetQueryUnknownIsNotFound(t *testing.T) {
	coord := newFakeCoordinator()
	h := &CoordinatorHandler{Coord: coord}
	req := httptest.NewRequest(http.MethodGet, "/v1/query/"+ids.NewQueryID().String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCoordinatorHandlerGetQueryBadIDIsBadRequest(t *testing.T) {
	coord := newFakeCoordinator()
	h := &CoordinatorHandler{Coord: coord}
	req := httptest.NewRequest(http.MethodGet, "/v1/query/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCoordinatorHandlerDeleteQueryCancels(t *testing.T) {
	coord := newFakeCoordinator()
	coord.states[coord.nextID] = QueryRunning
	h := &CoordinatorHandler{Coord: coord}

	req := httptest.NewRequest(http.MethodDelete, "/v1/query/"+coord.nextID.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if len(coord.canceled) != 1 || coord.canceled[0] != coord.nextID {
		t.Fatalf("canceled = %v, want [%v]", coord.canceled, coord.nextID)
	}
}

func TestCoordinatorHandlerShutdownEndpoint(t *testing.T) {
	coord := newFakeCoordinator()
	h := &CoordinatorHandler{Coord: coord}

	req := httptest.NewRequest(http.MethodPut, "/v1/info/state", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if coord.shutdowns != 1 {
		t.Fatalf("shutdowns = %d, want 1", coord.shutdowns)
	}
}

func TestCoordinatorHandlerUnknownPathIs404(t *testing.T) {
	coord := newFakeCoordinator()
	h := &CoordinatorHandler{Coord: coord}
	req := httptest.NewRequest(http.MethodGet, "/v1/bogus", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
