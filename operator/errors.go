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

package operator

import "github.com/sneller-query/qcore/qerr"

// errNoInput reports a programmer error: the Driver called AddInput
// on an operator that never accepts input (a pure source). It is
// always a scheduler/driver bug, never a user or external condition.
func errNoInput(name string) error {
	return qerr.Internal_("%s: operator does not accept input", name)
}
