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

// Limit passes through Pages until it has emitted `n` rows total,
// truncating the final Page with GetRegion.
type Limit struct {
	Base
	remaining int64
	pending   *page.Page
}

func NewLimit(n int64) *Limit {
	return &Limit{remaining: n}
}

func (l *Limit) NeedsInput() bool { return l.pending == nil && l.remaining > 0 && !l.finished }

func (l *Limit) AddInput(p *page.Page) error {
	n := int64(p.PositionCount())
	if n <= l.remaining {
		l.pending = p
		l.remaining -= n
		if l.remaining == 0 {
			l.finished = true
		}
		return nil
	}
	truncated, err := p.GetRegion(0, int(l.remaining))
	if err != nil {
		return err
	}
	l.pending = truncated
	l.remaining = 0
	l.finished = true
	return nil
}

func (l *Limit) GetOutput() (*page.Page, error) {
	p := l.pending
	l.pending = nil
	return p, nil
}
