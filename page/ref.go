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

package page

import "sync/atomic"

// Ref is a reference-counted Page shared between a producer and its
// consumers. When the last reference is
// released, onRelease runs exactly once, which is how the producing
// Task informs its Local Memory Manager that the bytes are free.
type Ref struct {
	page      *Page
	count     int32
	onRelease func(*Page)
}

// NewRef wraps p with an initial reference count of 1. onRelease, if
// non-nil, runs exactly once when the count reaches zero.
func NewRef(p *Page, onRelease func(*Page)) *Ref {
	return &Ref{page: p, count: 1, onRelease: onRelease}
}

// Page returns the underlying Page. It remains valid only while the
// caller holds a reference.
func (r *Ref) Page() *Page { return r.page }

// Retain increments the reference count and returns the same Ref, so
// that callers can pass a Retain()'d handle to each of several
// downstream consumers.
func (r *Ref) Retain() *Ref {
	atomic.AddInt32(&r.count, 1)
	return r
}

// Release decrements the reference count. When it reaches zero the
// release listener fires and the Ref becomes unusable.
func (r *Ref) Release() {
	if atomic.AddInt32(&r.count, -1) == 0 {
		if r.onRelease != nil {
			r.onRelease(r.page)
		}
		r.page = nil
	}
}
