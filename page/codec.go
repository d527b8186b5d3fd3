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

import (
	"fmt"

	"github.com/sneller-query/qcore/compr"
)

// MalformedKind classifies why Deserialize failed.
type MalformedKind uint8

const (
	HeaderMismatch MalformedKind = iota
	UnknownEncoding
	DecompressionFailed
	DecryptionFailed
)

func (k MalformedKind) String() string {
	switch k {
	case HeaderMismatch:
		return "HeaderMismatch"
	case UnknownEncoding:
		return "UnknownEncoding"
	case DecompressionFailed:
		return "DecompressionFailed"
	case DecryptionFailed:
		return "DecryptionFailed"
	default:
		return "Unknown"
	}
}

// MalformedPage is returned by Deserialize.
type MalformedPage struct {
	Kind  MalformedKind
	Cause error
}

func (e *MalformedPage) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed page (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("malformed page (%s)", e.Kind)
}

func (e *MalformedPage) Unwrap() error { return e.Cause }

const (
	codecBitCompressed = 1 << 0
	codecBitEncrypted  = 1 << 1
	headerSize         = 4 + 1 + 4 + 4 // positionCount, codecMark, uncompressedSize, serializedSize
)

// CodecOptions configures Serialize/Deserialize. The same options
// (compression algorithm name, cipher) must be used on both ends of
// a connection: unlike the compressed bit, the algorithm name is not
// carried on the wire, so it
// is negotiated out of band exactly like the cipher.
type CodecOptions struct {
	Compress        bool
	CompressionName string // defaults to "lz4" when Compress is true
	Cipher          Cipher
}

func (o CodecOptions) compressionName() string {
	if o.CompressionName != "" {
		return o.CompressionName
	}
	return "lz4"
}

// Serialize turns a Page into its wire/disk byte representation.
func Serialize(p *Page, opts CodecOptions) ([]byte, error) {
	loaded, err := p.GetLoadedPage()
	if err != nil {
		return nil, err
	}
	payload := appendI32(nil, int32(loaded.ChannelCount()))
	for _, b := range loaded.blocks {
		payload = encodeBlock(payload, b)
	}
	uncompressedSize := len(payload)

	var codecMark byte
	final := payload
	if opts.Compress {
		c := compr.Compression(opts.compressionName())
		if c == nil {
			return nil, fmt.Errorf("page: unknown compression algorithm %q", opts.CompressionName)
		}
		compressed := c.Compress(payload, nil)
		threshold := 128
		if uncompressedSize/8 < threshold {
			threshold = uncompressedSize / 8
		}
		if len(compressed) < uncompressedSize-threshold {
			final = compressed
			codecMark |= codecBitCompressed
		}
	}
	if opts.Cipher != nil {
		final = opts.Cipher.Encrypt(final)
		codecMark |= codecBitEncrypted
	}

	out := make([]byte, 0, headerSize+len(final))
	out = appendI32(out, int32(loaded.PositionCount()))
	out = append(out, codecMark)
	out = appendI32(out, int32(uncompressedSize))
	out = appendI32(out, int32(len(final)))
	out = append(out, final...)
	return out, nil
}

// Deserialize is the inverse of Serialize, applied in reverse order
// (decrypt, decompress, decode).
func Deserialize(data []byte, opts CodecOptions) (*Page, error) {
	if len(data) < headerSize {
		return nil, &MalformedPage{Kind: HeaderMismatch, Cause: fmt.Errorf("short header: %d bytes", len(data))}
	}
	positionCount := readI32(data[0:4])
	codecMark := data[4]
	uncompressedSize := int(readI32(data[5:9]))
	serializedSize := int(readI32(data[9:13]))
	if positionCount < 0 || uncompressedSize < 0 || serializedSize < 0 {
		return nil, &MalformedPage{Kind: HeaderMismatch, Cause: fmt.Errorf("negative header field")}
	}
	if len(data) < headerSize+serializedSize {
		return nil, &MalformedPage{Kind: HeaderMismatch, Cause: fmt.Errorf("truncated payload: want %d have %d", serializedSize, len(data)-headerSize)}
	}
	payload := data[headerSize : headerSize+serializedSize]

	if codecMark&codecBitEncrypted != 0 {
		if opts.Cipher == nil {
			return nil, &MalformedPage{Kind: DecryptionFailed, Cause: fmt.Errorf("no cipher configured")}
		}
		dec, err := opts.Cipher.Decrypt(payload)
		if err != nil {
			return nil, &MalformedPage{Kind: DecryptionFailed, Cause: err}
		}
		payload = dec
	}

	if codecMark&codecBitCompressed != 0 {
		d := compr.Decompression(opts.compressionName())
		if d == nil {
			return nil, &MalformedPage{Kind: DecompressionFailed, Cause: fmt.Errorf("unknown compression algorithm %q", opts.CompressionName)}
		}
		dst := make([]byte, uncompressedSize)
		if err := d.Decompress(payload, dst); err != nil {
			kind := DecompressionFailed
			if codecMark&codecBitEncrypted != 0 {
				kind = DecryptionFailed
			}
			return nil, &MalformedPage{Kind: kind, Cause: err}
		}
		payload = dst
	}

	if len(payload) < 4 {
		return nil, &MalformedPage{Kind: UnknownEncoding, Cause: fmt.Errorf("truncated channel count")}
	}
	channelCount := int(readI32(payload[0:4]))
	off := 4
	if channelCount < 0 {
		return nil, &MalformedPage{Kind: UnknownEncoding, Cause: fmt.Errorf("negative channel count")}
	}
	blocks := make([]*Block, channelCount)
	for i := 0; i < channelCount; i++ {
		b, n, err := decodeBlock(payload[off:])
		if err != nil {
			return nil, &MalformedPage{Kind: UnknownEncoding, Cause: err}
		}
		blocks[i] = b
		off += n
	}
	out, err := New(blocks)
	if err != nil {
		return nil, &MalformedPage{Kind: HeaderMismatch, Cause: err}
	}
	if out.PositionCount() != int(positionCount) && channelCount > 0 {
		return nil, &MalformedPage{Kind: HeaderMismatch, Cause: fmt.Errorf("decoded positionCount %d != header %d", out.PositionCount(), positionCount)}
	}
	if channelCount == 0 {
		out.positionCount = int(positionCount)
	}
	return out, nil
}
