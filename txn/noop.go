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

package txn

import (
	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/qerr"
)

// NoOp is the worker-side Transaction Manager: workers never own
// transactions, so every operation fails with UnsupportedOperation.
type NoOp struct{}

var _ TransactionManager = NoOp{}

func (NoOp) Begin(Isolation, bool, bool) (ids.TransactionID, error) {
	return ids.TransactionID{}, qerr.UnsupportedOperation("txn.Begin")
}

func (NoOp) TransactionExists(ids.TransactionID) bool { return false }

func (NoOp) GetInfo(ids.TransactionID) (Info, error) {
	return Info{}, qerr.UnsupportedOperation("txn.GetInfo")
}

func (NoOp) CheckAndSetActive(ids.TransactionID) error {
	return qerr.UnsupportedOperation("txn.CheckAndSetActive")
}

func (NoOp) TrySetInactive(ids.TransactionID) error {
	return qerr.UnsupportedOperation("txn.TrySetInactive")
}

func (NoOp) AsyncCommit(ids.TransactionID) (*memctl.Future, error) {
	return nil, qerr.UnsupportedOperation("txn.AsyncCommit")
}

func (NoOp) AsyncAbort(ids.TransactionID) (*memctl.Future, error) {
	return nil, qerr.UnsupportedOperation("txn.AsyncAbort")
}

func (NoOp) Fail(ids.TransactionID) error {
	return qerr.UnsupportedOperation("txn.Fail")
}
