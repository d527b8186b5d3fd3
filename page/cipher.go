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
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Cipher is the "caller-supplied stream cipher" the page codec uses
// to encrypt spilled Pages. It is deliberately narrow: a
// stream cipher XORs a keystream over the payload, so Encrypt and
// Decrypt are the same operation run with the same key/nonce.
type Cipher interface {
	Encrypt(src []byte) []byte
	Decrypt(src []byte) ([]byte, error)
}

// SpillCipher implements Cipher with ChaCha20, the stream cipher the
// core's one crypto dependency (golang.org/x/crypto, already used
// elsewhere in this lineage for key derivation) provides off the
// shelf.
type SpillCipher struct {
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
}

// NewSpillCipher constructs a SpillCipher from a caller-supplied key
// and nonce. The same (key, nonce) pair must never be reused across
// two different plaintexts.
func NewSpillCipher(key [chacha20.KeySize]byte, nonce [chacha20.NonceSize]byte) *SpillCipher {
	return &SpillCipher{key: key, nonce: nonce}
}

// RandomSpillCipher generates a fresh random key and nonce, suitable
// for encrypting one spill file's worth of Pages.
func RandomSpillCipher() (*SpillCipher, error) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return NewSpillCipher(key, nonce), nil
}

func (c *SpillCipher) stream() (*chacha20.Cipher, error) {
	return chacha20.NewUnauthenticatedCipher(c.key[:], c.nonce[:])
}

// Encrypt XORs src with the keystream starting at the cipher's
// configured counter. The returned slice is freshly allocated; src is
// left unmodified.
func (c *SpillCipher) Encrypt(src []byte) []byte {
	s, err := c.stream()
	if err != nil {
		panic(fmt.Sprintf("page: invalid spill cipher: %v", err))
	}
	dst := make([]byte, len(src))
	s.XORKeyStream(dst, src)
	return dst
}

// Decrypt reverses Encrypt; for an unauthenticated stream cipher this
// never itself fails — corruption surfaces later as a MalformedPage
// when the decrypted bytes fail to decode.
func (c *SpillCipher) Decrypt(src []byte) ([]byte, error) {
	return c.Encrypt(src), nil
}
