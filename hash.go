// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"github.com/chmduquesne/rollinghash"
	"github.com/chmduquesne/rollinghash/rabinkarp64"
	sha256 "github.com/minio/sha256-simd"
	"github.com/smtc/rollsum"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/md4"
)

// weakHash is the rolling-checksum capability shared by the signature builder
// and the delta scanner. Rotate must update the digest in O(1) when the window
// slides forward by one byte; out is the byte leaving the window and in the
// byte entering it. Each scan owns its own weakHash, state is never shared.
type weakHash interface {
	Reset()
	Update(p []byte)
	Rotate(out, in byte)
	Digest() uint32
}

// rollsumHash is the rsync/librsync rolling checksum.
type rollsumHash struct {
	rs rollsum.Rollsum
}

func (h *rollsumHash) Reset()              { h.rs.Init() }
func (h *rollsumHash) Update(p []byte)     { h.rs.Update(p) }
func (h *rollsumHash) Rotate(out, in byte) { h.rs.Rotate(out, in) }
func (h *rollsumHash) Digest() uint32      { return h.rs.Digest() }

// rabinKarpHash adapts the rabinkarp64 roller, which keeps its own copy of
// the window: Update sets it after a Reset, Rotate feeds it the entering byte
// only. The 64-bit digest is truncated to the 32-bit wire field; producer and
// consumer truncate identically.
type rabinKarpHash struct {
	h rollinghash.Hash64
}

func newRabinKarpHash() *rabinKarpHash {
	return &rabinKarpHash{h: rabinkarp64.New()}
}

func (h *rabinKarpHash) Reset()            { h.h.Reset() }
func (h *rabinKarpHash) Update(p []byte)   { h.h.Write(p) }
func (h *rabinKarpHash) Rotate(_, in byte) { h.h.Roll(in) }
func (h *rabinKarpHash) Digest() uint32    { return uint32(h.h.Sum64()) }

func (f SignatureFormat) newWeakHash() weakHash {
	switch f {
	case RabinKarpMD4Format, RabinKarpBlake2Format:
		return newRabinKarpHash()
	}
	return &rollsumHash{}
}

// weakSum computes the one-shot weak checksum of a whole block.
func (f SignatureFormat) weakSum(p []byte) uint32 {
	h := f.newWeakHash()
	h.Reset()
	h.Update(p)
	return h.Digest()
}

// strongSum computes the strong hash of a block, truncated to strongLen bytes.
// strongLen must have been validated against strongLenMax.
func (f SignatureFormat) strongSum(p []byte, strongLen uint32) []byte {
	switch f {
	case MD4Format, RabinKarpMD4Format:
		h := md4.New()
		h.Write(p)
		return h.Sum(nil)[:strongLen]
	case SHA256Format:
		sum := sha256.Sum256(p)
		return sum[:strongLen]
	}
	sum := blake2b.Sum256(p)
	return sum[:strongLen]
}

// strongLenMax is the native output length of the format's strong hash.
func (f SignatureFormat) strongLenMax() uint32 {
	switch f {
	case MD4Format, RabinKarpMD4Format:
		return md4.Size
	}
	return blake2b.Size256
}
