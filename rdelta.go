// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package rdelta implements the rsync delta-encoding algorithm: it generates
// compact per-block signatures of a basis file and, given such a signature,
// computes a delta describing an arbitrary target file as a sequence of
// copy/literal instructions. A receiver holding the basis and the delta can
// reconstruct the target without the two files ever being compared directly.
package rdelta

import (
	"github.com/pkg/errors"
)

const (
	// DefaultBlockLen is the default signature block length.
	DefaultBlockLen = 2048

	// DefaultStrongLen is the default number of strong hash bytes stored per
	// block. Truncating the strong hash keeps signatures small at the cost of
	// collision resistance.
	DefaultStrongLen = 8
)

// DeltaMagic identifies a delta stream.
const DeltaMagic uint32 = 0x72730236

// SignatureFormat identifies an on-wire signature format by its magic number.
// Each format implies a (weak checksum, strong hash) algorithm pair.
type SignatureFormat uint32

const (
	// MD4Format uses the rolling checksum and MD4 strong hashes.
	MD4Format SignatureFormat = 0x72730136

	// Blake2Format uses the rolling checksum and BLAKE2b-256 strong hashes.
	// This is the default format.
	Blake2Format SignatureFormat = 0x72730137

	// SHA256Format uses the rolling checksum and SHA-256 strong hashes. The
	// magic is a local assignment outside the librsync range.
	SHA256Format SignatureFormat = 0x72730138

	// RabinKarpMD4Format uses the Rabin-Karp rolling checksum and MD4.
	RabinKarpMD4Format SignatureFormat = 0x72730146

	// RabinKarpBlake2Format uses the Rabin-Karp rolling checksum and BLAKE2b-256.
	RabinKarpBlake2Format SignatureFormat = 0x72730147
)

var (
	// ErrUnknownFormat reports a signature magic outside the supported set.
	ErrUnknownFormat = errors.New("rdelta: unknown signature format")

	// ErrInvalidBlockLen reports a zero block length.
	ErrInvalidBlockLen = errors.New("rdelta: block length must be positive")

	// ErrInvalidStrongLen reports a strong hash length of zero or beyond the
	// native output length of the format's strong hash.
	ErrInvalidStrongLen = errors.New("rdelta: strong hash length out of range")

	// ErrCorruptSignature reports a truncated or malformed signature stream.
	ErrCorruptSignature = errors.New("rdelta: corrupt signature")

	// ErrCorruptDelta reports a truncated or malformed delta stream.
	ErrCorruptDelta = errors.New("rdelta: corrupt delta")
)

func (f SignatureFormat) String() string {
	switch f {
	case MD4Format:
		return "md4"
	case Blake2Format:
		return "blake2"
	case SHA256Format:
		return "sha256"
	case RabinKarpMD4Format:
		return "rk-md4"
	case RabinKarpBlake2Format:
		return "rk-blake2"
	}
	return "unknown"
}

func (f SignatureFormat) known() bool {
	switch f {
	case MD4Format, Blake2Format, SHA256Format, RabinKarpMD4Format, RabinKarpBlake2Format:
		return true
	}
	return false
}

// SignatureOptions configures signature generation. The values are fixed for
// the lifetime of one signature and must match between the signature producer
// and the delta-computing consumer.
type SignatureOptions struct {
	// Magic selects the signature format.
	Magic SignatureFormat

	// BlockLen is the length of a basis block in bytes. Smaller blocks produce
	// larger signatures but let smaller common regions match.
	BlockLen uint32

	// StrongLen is the number of strong hash bytes kept per block.
	StrongLen uint32
}

// DefaultSignatureOptions returns the options most applications want: the
// BLAKE2 format with 2KiB blocks and 8-byte strong hashes.
func DefaultSignatureOptions() SignatureOptions {
	return SignatureOptions{
		Magic:     Blake2Format,
		BlockLen:  DefaultBlockLen,
		StrongLen: DefaultStrongLen,
	}
}

// Validate rejects unusable options before any I/O is attempted.
func (o SignatureOptions) Validate() error {
	if !o.Magic.known() {
		return errors.Wrapf(ErrUnknownFormat, "magic %#08x", uint32(o.Magic))
	}
	if o.BlockLen == 0 {
		return ErrInvalidBlockLen
	}
	if o.StrongLen == 0 || o.StrongLen > o.Magic.strongLenMax() {
		return errors.Wrapf(ErrInvalidStrongLen, "strong length %d, format %s allows 1..%d",
			o.StrongLen, o.Magic, o.Magic.strongLenMax())
	}
	return nil
}
