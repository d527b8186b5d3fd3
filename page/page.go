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

import "fmt"

// Page is an ordered sequence of Blocks, all with identical
// PositionCount. Pages are immutable; New, GetRegion and
// GetLoadedPage all produce new Pages.
type Page struct {
	blocks        []*Block
	positionCount int
}

// New validates page.channelCount = len(blocks) and that every block
// shares the same PositionCount, Page invariant.
func New(blocks []*Block) (*Page, error) {
	if len(blocks) == 0 {
		return &Page{blocks: blocks}, nil
	}
	n := blocks[0].PositionCount()
	for i, b := range blocks {
		if b.PositionCount() != n {
			return nil, fmt.Errorf("page: block %d has positionCount %d, want %d", i, b.PositionCount(), n)
		}
	}
	return &Page{blocks: blocks, positionCount: n}, nil
}

func (p *Page) PositionCount() int { return p.positionCount }
func (p *Page) ChannelCount() int  { return len(p.blocks) }

// Channel returns the Block at the given channel index.
func (p *Page) Channel(i int) *Block {
	return p.blocks[i]
}

// GetRegion returns a new Page covering positions [offset,
// offset+length) of every channel. Like Block.GetRegion this is an
// O(1) slice operation.
func (p *Page) GetRegion(offset, length int) (*Page, error) {
	blocks := make([]*Block, len(p.blocks))
	for i, b := range p.blocks {
		rb, err := b.GetRegion(offset, length)
		if err != nil {
			return nil, err
		}
		blocks[i] = rb
	}
	return &Page{blocks: blocks, positionCount: length}, nil
}

// GetLoadedPage forces any LazyBlock channels in this Page (and only
// this Page — it does not recurse into nested child blocks).
func (p *Page) GetLoadedPage() (*Page, error) {
	changed := false
	blocks := make([]*Block, len(p.blocks))
	for i, b := range p.blocks {
		if b.Encoding() == LazyEncoding {
			loaded, err := b.Load()
			if err != nil {
				return nil, err
			}
			blocks[i] = loaded
			changed = true
		} else {
			blocks[i] = b
		}
	}
	if !changed {
		return p, nil
	}
	return &Page{blocks: blocks, positionCount: p.positionCount}, nil
}

// SizeInBytes returns the sum of each channel's logical size.
func (p *Page) SizeInBytes() uint64 {
	var sum uint64
	for _, b := range p.blocks {
		sum += b.GetSizeInBytes()
	}
	return sum
}

// RetainedSizeInBytes returns the sum of each channel's retained size.
func (p *Page) RetainedSizeInBytes() uint64 {
	var sum uint64
	for _, b := range p.blocks {
		sum += b.GetRetainedSizeInBytes()
	}
	return sum
}

// Project returns a new Page containing only the given channel
// indices, in order. Like GetRegion, this shares Block storage.
func (p *Page) Project(channels []int) (*Page, error) {
	blocks := make([]*Block, len(channels))
	for i, c := range channels {
		if c < 0 || c >= len(p.blocks) {
			return nil, &IndexOutOfRange{Index: c, PositionCount: len(p.blocks)}
		}
		blocks[i] = p.blocks[c]
	}
	return &Page{blocks: blocks, positionCount: p.positionCount}, nil
}

// Equal compares two Pages channel-by-channel, by value. Tests only.
func (p *Page) Equal(o *Page) bool {
	if p.ChannelCount() != o.ChannelCount() || p.PositionCount() != o.PositionCount() {
		return false
	}
	for i := range p.blocks {
		if !p.blocks[i].Equal(o.blocks[i]) {
			return false
		}
	}
	return true
}
