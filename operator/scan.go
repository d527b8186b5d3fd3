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

import (
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// ConnectorPageSource is the out-of-scope connector contract the core
// consumes: GetNextPage, IsFinished, IsBlocked.
type ConnectorPageSource interface {
	GetNextPage() (*page.Page, error)
	IsFinished() bool
	IsBlocked() *memctl.Future
}

// Scan pulls Pages from a connector page source. It is a
// pure source: it never accepts input.
type Scan struct {
	Base
	src ConnectorPageSource
}

func NewScan(src ConnectorPageSource) *Scan {
	return &Scan{src: src}
}

func (s *Scan) NeedsInput() bool          { return false }
func (s *Scan) AddInput(*page.Page) error { return errNoInput("Scan") }

func (s *Scan) GetOutput() (*page.Page, error) {
	if s.src.IsFinished() {
		s.finished = true
		return nil, nil
	}
	p, err := s.src.GetNextPage()
	if err != nil {
		return nil, err
	}
	if s.src.IsFinished() && p == nil {
		s.finished = true
	}
	return p, nil
}

func (s *Scan) IsFinished() bool { return s.finished || s.src.IsFinished() }

func (s *Scan) IsBlocked() *memctl.Future { return s.src.IsBlocked() }
