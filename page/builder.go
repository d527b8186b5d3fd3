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

// Builder accumulates positions and produces a new, immutable Block.
// Blocks never mutate in place; "appending" always goes through a
// Builder.
type Builder struct {
	enc Encoding
	n   int

	nulls *NullBitmap // lazily grown; nil means "no nulls seen yet"

	fixed []byte

	varData    []byte
	varOffsets []int32

	arrayOffsets []int32
	child        *Builder

	fields []*Builder

	mapOffsets []int32
	mapKeys    *Builder
	mapValues  *Builder

	dict    *Block
	dictIDs []int32
}

// NewBuilder returns an empty Builder for the given Encoding. Array,
// Row, Map and Dictionary builders infer their child shape from the
// first AppendFrom call.
func NewBuilder(enc Encoding) *Builder {
	b := &Builder{enc: enc}
	switch enc {
	case ArrayEncoding, MapEncoding:
		b.arrayOffsets = []int32{0}
		b.mapOffsets = []int32{0}
	}
	return b
}

func (b *Builder) growNulls() {
	if b.nulls != nil {
		return
	}
	b.nulls = newNullBitmap(b.n)
	for i := 0; i < b.n; i++ {
		b.nulls.Set(i, false)
	}
}

func (b *Builder) markPosition(null bool) {
	if null && b.nulls == nil {
		b.growNulls()
	}
	if b.nulls != nil {
		if b.n >= b.nulls.Len() {
			grown := newNullBitmap(b.n + 1)
			for i := 0; i < b.n; i++ {
				grown.Set(i, b.nulls.Get(i))
			}
			b.nulls = grown
		}
		b.nulls.Set(b.n, null)
	}
	b.n++
}

// AppendNull appends a null value of the Builder's Encoding.
func (b *Builder) AppendNull() {
	switch b.enc {
	case ByteArray, ShortArray, IntArray, LongArray, Int128Array:
		b.fixed = append(b.fixed, make([]byte, widthOf(b.enc))...)
	case VariableWidth:
		b.varOffsets = append(b.varOffsets, b.varOffsets[len(b.varOffsets)-1])
		if len(b.varOffsets) == 1 {
			b.varOffsets = []int32{0, 0}
		}
	case DictionaryEncoding:
		b.dictIDs = append(b.dictIDs, 0)
	}
	if len(b.varOffsets) == 0 && b.enc == VariableWidth {
		b.varOffsets = append(b.varOffsets, 0)
	}
	b.markPosition(true)
}

func (b *Builder) appendFixed(val uint64, w int) {
	var buf [16]byte
	for i := 0; i < w; i++ {
		buf[i] = byte(val >> (8 * uint(i)))
	}
	b.fixed = append(b.fixed, buf[:w]...)
	b.markPosition(false)
}

func (b *Builder) AppendByte(v byte)   { b.appendFixed(uint64(v), 1) }
func (b *Builder) AppendShort(v int16) { b.appendFixed(uint64(uint16(v)), 2) }
func (b *Builder) AppendInt(v int32)   { b.appendFixed(uint64(uint32(v)), 4) }
func (b *Builder) AppendLong(v int64)  { b.appendFixed(uint64(v), 8) }

func (b *Builder) AppendInt128(v [16]byte) {
	b.fixed = append(b.fixed, v[:]...)
	b.markPosition(false)
}

// AppendSlice appends a VariableWidth value.
func (b *Builder) AppendSlice(v []byte) {
	if len(b.varOffsets) == 0 {
		b.varOffsets = []int32{0}
	}
	b.varData = append(b.varData, v...)
	b.varOffsets = append(b.varOffsets, int32(len(b.varData)))
	b.markPosition(false)
}

// AppendDictionaryID appends a dictionary-encoded value; dict must be
// the same shared dictionary Block across a run of appends.
func (b *Builder) AppendDictionaryID(id int32, dict *Block) {
	b.dict = dict
	b.dictIDs = append(b.dictIDs, id)
	b.markPosition(false)
}

// AppendFrom copies position pos of src into the Builder, handling
// Array/Row/Map/Dictionary recursively. It is the fallback path used
// by Block.CopyPositions for the nested encodings.
func (b *Builder) AppendFrom(src *Block, pos int) error {
	if src.enc == LazyEncoding {
		resolved, err := src.resolve()
		if err != nil {
			return err
		}
		return b.AppendFrom(resolved, pos)
	}
	if src.IsNull(pos) {
		b.appendNullOfShape(src)
		return nil
	}
	switch b.enc {
	case ByteArray:
		v, err := src.GetByte(pos)
		if err != nil {
			return err
		}
		b.AppendByte(v)
	case ShortArray:
		v, err := src.GetShort(pos)
		if err != nil {
			return err
		}
		b.AppendShort(v)
	case IntArray:
		v, err := src.GetInt(pos)
		if err != nil {
			return err
		}
		b.AppendInt(v)
	case LongArray:
		v, err := src.GetLong(pos)
		if err != nil {
			return err
		}
		b.AppendLong(v)
	case Int128Array:
		v, err := src.GetInt128(pos)
		if err != nil {
			return err
		}
		b.AppendInt128(v)
	case VariableWidth:
		v, err := src.GetSlice(pos)
		if err != nil {
			return err
		}
		b.AppendSlice(v)
	case DictionaryEncoding:
		id, dict, err := src.GetDictionaryID(pos)
		if err != nil {
			return err
		}
		b.AppendDictionaryID(id, dict)
	case ArrayEncoding:
		lo, hi := src.arrayOffsets[pos], src.arrayOffsets[pos+1]
		if b.child == nil {
			b.child = NewBuilder(src.child.enc)
		}
		for j := lo; j < hi; j++ {
			if err := b.child.AppendFrom(src.child, int(j)); err != nil {
				return err
			}
		}
		b.arrayOffsets = append(b.arrayOffsets, b.arrayOffsets[len(b.arrayOffsets)-1]+(hi-lo))
		b.markPosition(false)
	case RowEncoding:
		if b.fields == nil {
			b.fields = make([]*Builder, len(src.fields))
			for i, f := range src.fields {
				b.fields[i] = NewBuilder(f.enc)
			}
		}
		for i, f := range src.fields {
			if err := b.fields[i].AppendFrom(f, pos); err != nil {
				return err
			}
		}
		b.markPosition(false)
	case MapEncoding:
		lo, hi := src.mapOffsets[pos], src.mapOffsets[pos+1]
		if b.mapKeys == nil {
			b.mapKeys = NewBuilder(src.mapKeys.enc)
			b.mapValues = NewBuilder(src.mapValues.enc)
		}
		for j := lo; j < hi; j++ {
			if err := b.mapKeys.AppendFrom(src.mapKeys, int(j)); err != nil {
				return err
			}
			if err := b.mapValues.AppendFrom(src.mapValues, int(j)); err != nil {
				return err
			}
		}
		b.mapOffsets = append(b.mapOffsets, b.mapOffsets[len(b.mapOffsets)-1]+(hi-lo))
		b.markPosition(false)
	case RunLengthEncoding:
		if b.child == nil {
			b.child = NewBuilder(src.rlValue.enc)
			if err := b.child.AppendFrom(src.rlValue, 0); err != nil {
				return err
			}
		}
		b.markPosition(false)
	default:
		return &TypeMismatch{Want: b.enc, Got: src.enc}
	}
	return nil
}

func (b *Builder) appendNullOfShape(src *Block) {
	switch b.enc {
	case ArrayEncoding:
		if b.child == nil && src.child != nil {
			b.child = NewBuilder(src.child.enc)
		}
		b.arrayOffsets = append(b.arrayOffsets, b.arrayOffsets[len(b.arrayOffsets)-1])
		b.markPosition(true)
	case RowEncoding:
		if b.fields == nil {
			b.fields = make([]*Builder, len(src.fields))
			for i, f := range src.fields {
				b.fields[i] = NewBuilder(f.enc)
			}
		}
		for _, f := range b.fields {
			f.AppendNull()
		}
		b.markPosition(true)
	case MapEncoding:
		b.mapOffsets = append(b.mapOffsets, b.mapOffsets[len(b.mapOffsets)-1])
		b.markPosition(true)
	default:
		b.AppendNull()
	}
}

// Build finalizes the Builder into an immutable Block.
func (b *Builder) Build() *Block {
	out := &Block{enc: b.enc, positionCount: b.n, nulls: b.nulls}
	switch b.enc {
	case ByteArray, ShortArray, IntArray, LongArray, Int128Array:
		out.fixed = b.fixed
	case VariableWidth:
		out.varData = b.varData
		out.varOffsets = b.varOffsets
		if out.varOffsets == nil {
			out.varOffsets = []int32{0}
		}
	case ArrayEncoding:
		out.arrayOffsets = b.arrayOffsets
		if b.child != nil {
			out.child = b.child.Build()
		}
	case RowEncoding:
		out.fields = make([]*Block, len(b.fields))
		for i, f := range b.fields {
			out.fields[i] = f.Build()
		}
	case MapEncoding:
		out.mapOffsets = b.mapOffsets
		if b.mapKeys != nil {
			out.mapKeys = b.mapKeys.Build()
			out.mapValues = b.mapValues.Build()
		}
	case DictionaryEncoding:
		out.dictIDs = b.dictIDs
		out.dict = b.dict
	case RunLengthEncoding:
		if b.child != nil {
			out.rlValue = b.child.Build()
		}
		out.rlLength = b.n
	}
	return out
}
