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

import "github.com/sneller-query/qcore/page"

// Values is a source operator that replays a fixed, pre-built list of
// Pages. It never needs input and is typically the leftmost operator
// of a pipeline in tests or for VALUES-clause plans.
type Values struct {
	Base
	pages []*page.Page
	pos   int
}

func NewValues(pages []*page.Page) *Values {
	return &Values{pages: pages}
}

func (v *Values) NeedsInput() bool        { return false }
func (v *Values) AddInput(*page.Page) error { return errNoInput("Values") }

func (v *Values) GetOutput() (*page.Page, error) {
	if v.pos >= len(v.pages) {
		v.finished = true
		return nil, nil
	}
	p := v.pages[v.pos]
	v.pos++
	if v.pos >= len(v.pages) {
		v.finished = true
	}
	return p, nil
}
