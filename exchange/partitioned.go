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

package exchange

import (
	"fmt"

	"github.com/dchest/siphash"
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// KeyChannels hashes the given channels of each row with SipHash to
// pick a partition. Values are hashed via their generic
// representation (page.Block.GetObject), not their raw encoding, so
// the same logical key always lands on the same partition regardless
// of how it happens to be encoded.
type KeyChannels struct {
	Channels []int
	N        int
	k0, k1   uint64
}

// NewKeyChannels returns a KeyChannels partitioner over n partitions,
// keyed by the given channel indices.
func NewKeyChannels(channels []int, n int, k0, k1 uint64) *KeyChannels {
	return &KeyChannels{Channels: channels, N: n, k0: k0, k1: k1}
}

func (k *KeyChannels) Partition(p *page.Page, pos int) (int, error) {
	var buf []byte
	for _, c := range k.Channels {
		v, err := p.Channel(c).GetObject(pos)
		if err != nil {
			return 0, err
		}
		buf = append(buf, fmt.Sprintf("%v|", v)...)
	}
	h := siphash.Hash(k.k0, k.k1, buf)
	return int(h % uint64(k.N)), nil
}

// Partitioned routes each row of an incoming Page to one of N
// downstream readers based on a Partitioner, splitting Pages across
// partition boundaries as needed.
type Partitioned struct {
	bufs []*sinkBuffer
	part Partitioner
}

// Partitioner assigns each row of a Page to a partition index.
type Partitioner interface {
	Partition(p *page.Page, pos int) (int, error)
}

// NewPartitioned returns a Partitioned exchange with n downstream
// readers, jointly bounded by limitBytes.
func NewPartitioned(n int, part Partitioner, limitBytes int64) *Partitioned {
	mgr := memctl.NewManager(limitBytes)
	bufs := make([]*sinkBuffer, n)
	for i := range bufs {
		bufs[i] = &sinkBuffer{mgr: mgr}
	}
	return &Partitioned{bufs: bufs, part: part}
}

func (p *Partitioned) Writer() *partitionedSink { return &partitionedSink{p: p} }
func (p *Partitioned) Source(i int) *Source      { return &Source{buf: p.bufs[i]} }

func (p *Partitioned) FinishAll() {
	for _, b := range p.bufs {
		b.close()
	}
}

type partitionedSink struct{ p *Partitioned }

func (s *partitionedSink) AddPage(in *page.Page) error {
	n := in.ChannelCount()
	byPartition := make(map[int][]int) // partition -> positions
	count := in.PositionCount()
	for i := 0; i < count; i++ {
		idx, err := s.p.part.Partition(in, i)
		if err != nil {
			return err
		}
		byPartition[idx] = append(byPartition[idx], i)
	}
	for idx, positions := range byPartition {
		builders := make([]*page.Builder, n)
		for c := 0; c < n; c++ {
			builders[c] = page.NewBuilder(in.Channel(c).Encoding())
		}
		for _, pos := range positions {
			for c := 0; c < n; c++ {
				if err := builders[c].AppendFrom(in.Channel(c), pos); err != nil {
					return err
				}
			}
		}
		blocks := make([]*page.Block, n)
		for c := 0; c < n; c++ {
			blocks[c] = builders[c].Build()
		}
		out, err := page.New(blocks)
		if err != nil {
			return err
		}
		s.p.bufs[idx].push(out)
	}
	return nil
}

func (s *partitionedSink) Finish() { s.p.FinishAll() }

func (s *partitionedSink) IsBlocked() *memctl.Future {
	return s.p.bufs[0].mgr.NotFullFuture()
}
