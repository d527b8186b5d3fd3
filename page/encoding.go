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

import "encoding/binary"

// encodeBlock appends the tagged-variant wire encoding of b to dst,
// step 2. All integer fields are little-endian signed,
// "Numeric semantics".
func encodeBlock(dst []byte, b *Block) []byte {
	if b.Encoding() == LazyEncoding {
		resolved, err := b.resolve()
		if err != nil {
			// a Block that fails to resolve can't be serialized;
			// callers are expected to call Page.GetLoadedPage first.
			resolved = &Block{enc: ByteArray}
		}
		dst = append(dst, byte(LazyEncoding))
		return encodeBlock(dst, resolved)
	}
	dst = append(dst, byte(b.enc))
	dst = appendI32(dst, int32(b.positionCount))
	if b.nulls == nil {
		dst = append(dst, 0)
	} else {
		dst = append(dst, 1)
		dst = append(dst, b.nulls.bits...)
	}
	switch b.enc {
	case ByteArray, ShortArray, IntArray, LongArray, Int128Array:
		dst = append(dst, b.fixed...)
	case VariableWidth:
		dst = appendI32(dst, int32(len(b.varData)))
		dst = append(dst, b.varData...)
		for _, o := range b.varOffsets {
			dst = appendI32(dst, o)
		}
	case ArrayEncoding:
		for _, o := range b.arrayOffsets {
			dst = appendI32(dst, o)
		}
		dst = encodeBlock(dst, b.child)
	case RowEncoding:
		dst = appendI32(dst, int32(len(b.fields)))
		for _, f := range b.fields {
			dst = encodeBlock(dst, f)
		}
	case MapEncoding:
		for _, o := range b.mapOffsets {
			dst = appendI32(dst, o)
		}
		dst = encodeBlock(dst, b.mapKeys)
		dst = encodeBlock(dst, b.mapValues)
	case DictionaryEncoding:
		for _, id := range b.dictIDs {
			dst = appendI32(dst, id)
		}
		dst = encodeBlock(dst, b.dict)
	case RunLengthEncoding:
		dst = appendI32(dst, int32(b.rlLength))
		dst = encodeBlock(dst, b.rlValue)
	}
	return dst
}

// decodeBlock is the inverse of encodeBlock. It returns the decoded
// Block and the number of bytes consumed from src.
func decodeBlock(src []byte) (*Block, int, error) {
	if len(src) < 1 {
		return nil, 0, &MalformedBlock{Reason: "truncated encoding tag"}
	}
	enc := Encoding(src[0])
	off := 1
	if enc == LazyEncoding {
		inner, n, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		// the wire format never carries a real deferred loader, so a
		// decoded LazyBlock is immediately "loaded".
		return &Block{enc: LazyEncoding, positionCount: inner.PositionCount(), loaded: inner}, off, nil
	}
	if off+4 > len(src) {
		return nil, 0, &MalformedBlock{Reason: "truncated positionCount"}
	}
	n := int(readI32(src[off:]))
	off += 4
	if n < 0 {
		return nil, 0, &MalformedBlock{Reason: "negative positionCount"}
	}
	if off >= len(src) {
		return nil, 0, &MalformedBlock{Reason: "truncated null flag"}
	}
	hasNulls := src[off] != 0
	off++
	var nulls *NullBitmap
	if hasNulls {
		nbytes := (n + 7) / 8
		if off+nbytes > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated null bitmap"}
		}
		nulls = &NullBitmap{bits: append([]byte(nil), src[off:off+nbytes]...), n: n}
		off += nbytes
	}
	b := &Block{enc: enc, positionCount: n, nulls: nulls}
	switch enc {
	case ByteArray, ShortArray, IntArray, LongArray, Int128Array:
		w := widthOf(enc)
		need := n * w
		if off+need > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated fixed array"}
		}
		b.fixed = append([]byte(nil), src[off:off+need]...)
		off += need
	case VariableWidth:
		if off+4 > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated variable-width length"}
		}
		dataLen := int(readI32(src[off:]))
		off += 4
		if dataLen < 0 || off+dataLen > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated variable-width data"}
		}
		b.varData = append([]byte(nil), src[off:off+dataLen]...)
		off += dataLen
		b.varOffsets = make([]int32, n+1)
		for i := 0; i <= n; i++ {
			if off+4 > len(src) {
				return nil, 0, &MalformedBlock{Reason: "truncated variable-width offsets"}
			}
			b.varOffsets[i] = readI32(src[off:])
			off += 4
		}
		if err := checkMonotonic(b.varOffsets); err != nil {
			return nil, 0, err
		}
	case ArrayEncoding:
		b.arrayOffsets = make([]int32, n+1)
		for i := 0; i <= n; i++ {
			if off+4 > len(src) {
				return nil, 0, &MalformedBlock{Reason: "truncated array offsets"}
			}
			b.arrayOffsets[i] = readI32(src[off:])
			off += 4
		}
		if err := checkMonotonic(b.arrayOffsets); err != nil {
			return nil, 0, err
		}
		child, cn, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		b.child = child
		off += cn
	case RowEncoding:
		if off+4 > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated field count"}
		}
		fc := int(readI32(src[off:]))
		off += 4
		if fc < 0 {
			return nil, 0, &MalformedBlock{Reason: "negative field count"}
		}
		b.fields = make([]*Block, fc)
		for i := 0; i < fc; i++ {
			f, fn, err := decodeBlock(src[off:])
			if err != nil {
				return nil, 0, err
			}
			b.fields[i] = f
			off += fn
		}
	case MapEncoding:
		b.mapOffsets = make([]int32, n+1)
		for i := 0; i <= n; i++ {
			if off+4 > len(src) {
				return nil, 0, &MalformedBlock{Reason: "truncated map offsets"}
			}
			b.mapOffsets[i] = readI32(src[off:])
			off += 4
		}
		if err := checkMonotonic(b.mapOffsets); err != nil {
			return nil, 0, err
		}
		keys, kn, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		off += kn
		values, vn, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		off += vn
		b.mapKeys, b.mapValues = keys, values
	case DictionaryEncoding:
		b.dictIDs = make([]int32, n)
		for i := 0; i < n; i++ {
			if off+4 > len(src) {
				return nil, 0, &MalformedBlock{Reason: "truncated dictionary ids"}
			}
			b.dictIDs[i] = readI32(src[off:])
			off += 4
		}
		dict, dn, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		b.dict = dict
		off += dn
		for _, id := range b.dictIDs {
			if id < 0 || int(id) >= dict.PositionCount() {
				return nil, 0, &MalformedBlock{Reason: "dictionary id out of range"}
			}
		}
	case RunLengthEncoding:
		if off+4 > len(src) {
			return nil, 0, &MalformedBlock{Reason: "truncated run length"}
		}
		b.rlLength = int(readI32(src[off:]))
		off += 4
		val, vn, err := decodeBlock(src[off:])
		if err != nil {
			return nil, 0, err
		}
		b.rlValue = val
		off += vn
	default:
		return nil, 0, &MalformedBlock{Reason: "unknown block encoding"}
	}
	return b, off, nil
}

func checkMonotonic(offsets []int32) error {
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return &MalformedBlock{Reason: "offsets are not monotonically non-decreasing"}
		}
	}
	return nil
}

func appendI32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func readI32(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}
