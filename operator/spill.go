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
	"encoding/binary"
	"io"
	"os"

	"github.com/sneller-query/qcore/page"
	"github.com/sneller-query/qcore/qerr"
)

// Spill is a pass-through operator that buffers Pages in memory until
// its Revoke method is called by a memory context under pressure, at
// which point it writes every buffered Page to a temp file, encrypted
// with a per-Spill SpillCipher, and frees the in-memory copies. Once spilled, GetOutput
// reads pages back off disk in original order.
//
// Spill registers itself as a memctl.Revocable with the Task's memory
// context; the context (not this type) decides when to call Revoke.
type Spill struct {
	Base
	codecOpts page.CodecOptions

	buffered []*page.Page
	bufBytes int64

	file    *os.File
	path    string
	spilled bool

	readPos  int
	readFile *os.File

	inputDone bool
}

// NewSpill creates a Spill operator that encrypts its spilled bytes
// with cipher (typically page.RandomSpillCipher()).
func NewSpill(cipher page.Cipher) *Spill {
	return &Spill{codecOpts: page.CodecOptions{Compress: true, Cipher: cipher}}
}

func (s *Spill) NeedsInput() bool { return !s.inputDone }

// Finish marks input as exhausted without forcing IsFinished: Spill
// may still hold several buffered or spilled Pages that GetOutput
// has not drained yet, unlike the single-pending-Page operators.
func (s *Spill) Finish() error {
	s.inputDone = true
	return nil
}

func (s *Spill) AddInput(p *page.Page) error {
	if s.spilled {
		return s.writePage(p)
	}
	s.buffered = append(s.buffered, p)
	s.bufBytes += int64(p.RetainedSizeInBytes())
	return nil
}

func (s *Spill) GetOutput() (*page.Page, error) {
	if !s.spilled {
		if len(s.buffered) == 0 {
			if s.inputDone {
				s.finished = true
			}
			return nil, nil
		}
		p := s.buffered[0]
		s.buffered = s.buffered[1:]
		s.bufBytes -= int64(p.RetainedSizeInBytes())
		if len(s.buffered) == 0 && s.inputDone {
			s.finished = true
		}
		return p, nil
	}
	return s.readPage()
}

// RevocableBytes reports the in-memory buffered size (memctl.Revocable).
func (s *Spill) RevocableBytes() int64 { return s.bufBytes }

// Revoke writes every buffered Page to a temp file and frees the
// in-memory copies, returning the number of bytes freed. It is a
// no-op once the operator has already spilled.
func (s *Spill) Revoke(n int64) int64 {
	if s.spilled || len(s.buffered) == 0 {
		return 0
	}
	freed := s.bufBytes
	if err := s.spillAll(); err != nil {
		return 0
	}
	return freed
}

func (s *Spill) spillAll() error {
	f, err := os.CreateTemp("", "qcore-spill-*.bin")
	if err != nil {
		return err
	}
	s.file = f
	s.path = f.Name()
	for _, p := range s.buffered {
		if err := s.writePage(p); err != nil {
			return err
		}
	}
	s.buffered = nil
	s.bufBytes = 0
	s.spilled = true
	return nil
}

func (s *Spill) writePage(p *page.Page) error {
	if s.file == nil {
		f, err := os.CreateTemp("", "qcore-spill-*.bin")
		if err != nil {
			return err
		}
		s.file = f
		s.path = f.Name()
		s.spilled = true
	}
	buf, err := page.Serialize(p, s.codecOpts)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := s.file.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = s.file.Write(buf)
	return err
}

func (s *Spill) readPage() (*page.Page, error) {
	if s.readFile == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, err
		}
		s.readFile = f
	}
	var lenPrefix [4]byte
	_, err := io.ReadFull(s.readFile, lenPrefix[:])
	if err == io.EOF {
		s.finished = true
		s.readFile.Close()
		os.Remove(s.path)
		return nil, nil
	}
	if err != nil {
		return nil, qerr.Internal_("spill: reading length prefix: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.readFile, buf); err != nil {
		return nil, qerr.Internal_("spill: reading page body: %v", err)
	}
	return page.Deserialize(buf, s.codecOpts)
}

func (s *Spill) Close() error {
	if s.readFile != nil {
		s.readFile.Close()
	}
	if s.file != nil {
		s.file.Close()
	}
	if s.path != "" {
		os.Remove(s.path)
	}
	return nil
}
