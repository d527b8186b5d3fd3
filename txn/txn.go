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

// Package txn implements the coordinator-side Transaction Manager:
// it issues TransactionIds, tracks each transaction's
// active/inactive claim and the catalogs it has touched, and brackets
// commit/abort. A separate No-Op implementation serves worker nodes,
// which never own transactions.
package txn

import (
	"fmt"
	"sync"

	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/qerr"
)

// Isolation is the requested isolation level of a transaction.
type Isolation int

const (
	ReadCommitted Isolation = iota
	Serializable
)

// status is a Transaction's lifecycle stage (inactive, active, or one
// of the terminal states).
type status int

const (
	inactive status = iota
	active
	committed
	aborted
	failed
)

func (s status) terminal() bool { return s == committed || s == aborted || s == failed }

// Info is a read-only snapshot of a transaction's state.
type Info struct {
	ID          ids.TransactionID
	Isolation   Isolation
	ReadOnly    bool
	AutoCommit  bool
	Catalogs    []string
	WriteTarget string
}

type transaction struct {
	mu          sync.Mutex
	info        Info
	st          status
	activeClaim bool
}

// TransactionManager is the operation set; Manager
// implements it on the coordinator, NoOp implements it on workers.
type TransactionManager interface {
	Begin(isolation Isolation, readOnly, autoCommit bool) (ids.TransactionID, error)
	TransactionExists(id ids.TransactionID) bool
	GetInfo(id ids.TransactionID) (Info, error)
	CheckAndSetActive(id ids.TransactionID) error
	TrySetInactive(id ids.TransactionID) error
	AsyncCommit(id ids.TransactionID) (*memctl.Future, error)
	AsyncAbort(id ids.TransactionID) (*memctl.Future, error)
	Fail(id ids.TransactionID) error
}

// Manager is the coordinator's Transaction Manager.
type Manager struct {
	mu  sync.Mutex
	txs map[ids.TransactionID]*transaction
}

var _ TransactionManager = (*Manager)(nil)

// NewManager returns an empty coordinator-side Manager.
func NewManager() *Manager {
	return &Manager{txs: make(map[ids.TransactionID]*transaction)}
}

// Begin issues a new TransactionId in the INACTIVE state.
func (m *Manager) Begin(isolation Isolation, readOnly, autoCommit bool) (ids.TransactionID, error) {
	id := ids.NewTransactionID()
	tx := &transaction{
		info: Info{ID: id, Isolation: isolation, ReadOnly: readOnly, AutoCommit: autoCommit},
		st:   inactive,
	}
	m.mu.Lock()
	m.txs[id] = tx
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) lookup(id ids.TransactionID) (*transaction, error) {
	m.mu.Lock()
	tx, ok := m.txs[id]
	m.mu.Unlock()
	if !ok {
		return nil, qerr.New(qerr.User, qerr.CodeTransactionAlreadyComplete, "UnknownTransaction", fmt.Sprintf("txn: unknown transaction %s", id))
	}
	return tx, nil
}

// TransactionExists reports whether id was ever issued by Begin.
func (m *Manager) TransactionExists(id ids.TransactionID) bool {
	m.mu.Lock()
	_, ok := m.txs[id]
	m.mu.Unlock()
	return ok
}

// GetInfo returns a snapshot of id's state. It fails with
// TransactionAlreadyComplete once id has reached a terminal state.
func (m *Manager) GetInfo(id ids.TransactionID) (Info, error) {
	tx, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.st.terminal() {
		return Info{}, qerr.TransactionAlreadyComplete()
	}
	return tx.info, nil
}

// CheckAndSetActive claims id for the calling thread, failing if
// another thread already holds the active claim.
func (m *Manager) CheckAndSetActive(id ids.TransactionID) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.st.terminal() {
		return qerr.TransactionAlreadyComplete()
	}
	if tx.activeClaim {
		return qerr.New(qerr.User, qerr.CodeTransactionAlreadyActive, "TransactionAlreadyActive", fmt.Sprintf("txn: %s already active", id))
	}
	tx.activeClaim = true
	tx.st = active
	return nil
}

// TrySetInactive releases the active claim on id, if held.
func (m *Manager) TrySetInactive(id ids.TransactionID) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.st.terminal() {
		return qerr.TransactionAlreadyComplete()
	}
	tx.activeClaim = false
	tx.st = inactive
	return nil
}

// TouchCatalog records that id has read or written catalog. A
// non-empty write implies catalog becomes the transaction's single
// write target; a second distinct write target is rejected.
func (m *Manager) TouchCatalog(id ids.TransactionID, catalog string, write bool) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.st.terminal() {
		return qerr.TransactionAlreadyComplete()
	}
	found := false
	for _, c := range tx.info.Catalogs {
		if c == catalog {
			found = true
			break
		}
	}
	if write {
		if tx.info.WriteTarget != "" && tx.info.WriteTarget != catalog {
			return qerr.New(qerr.User, qerr.CodeMultipleWriteTargets, "MultipleWriteTargets", fmt.Sprintf("txn: %s already has write target %s", id, tx.info.WriteTarget))
		}
		tx.info.WriteTarget = catalog
	}
	if !found {
		tx.info.Catalogs = append(tx.info.Catalogs, catalog)
	}
	return nil
}

// AsyncCommit begins committing id, returning a Future that resolves
// once the commit lands. Commit is only valid for read-only
// transactions or ones with a single write catalog; both are represented identically here since at most one
// write target is ever recorded.
func (m *Manager) AsyncCommit(id ids.TransactionID) (*memctl.Future, error) {
	tx, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	tx.mu.Lock()
	if tx.st.terminal() {
		tx.mu.Unlock()
		return nil, qerr.TransactionAlreadyComplete()
	}
	tx.st = committed
	tx.mu.Unlock()
	return memctl.Resolved(), nil
}

// AsyncAbort begins aborting id, returning a Future that resolves
// once every touched connector has rolled back.
func (m *Manager) AsyncAbort(id ids.TransactionID) (*memctl.Future, error) {
	tx, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	tx.mu.Lock()
	if tx.st.terminal() {
		tx.mu.Unlock()
		return nil, qerr.TransactionAlreadyComplete()
	}
	tx.st = aborted
	tx.mu.Unlock()
	return memctl.Resolved(), nil
}

// Fail marks id as failed without attempting to roll back connectors
// a second time.
func (m *Manager) Fail(id ids.TransactionID) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.st.terminal() {
		return nil
	}
	tx.st = failed
	return nil
}
