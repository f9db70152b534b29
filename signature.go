// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// BlockSignature is the per-block fingerprint stored in a signature.
type BlockSignature struct {
	// Index is the 0-based, sequential block index in the basis.
	Index uint32
	// Weak is the fast rolling checksum of the block.
	Weak uint32
	// Strong is the truncated strong hash of the block.
	Strong []byte
}

// Signature is an in-memory signature indexed for block lookup during
// scanning: weak checksum to candidate blocks, collisions resolved by strong
// hash comparison. It is immutable once loaded and safe to share across
// concurrent delta computations.
type Signature struct {
	opts   SignatureOptions
	blocks []BlockSignature
	table  map[uint32][]int
}

// LoadSignature parses a signature stream produced by GenerateSignature and
// builds the lookup table. The whole stream is validated eagerly: an unknown
// magic, a header shorter than 12 bytes or a record stream that is not a
// multiple of 4+StrongLen bytes fail with a format error and no table is
// returned.
func LoadSignature(r io.Reader) (*Signature, error) {
	var hdr [12]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrCorruptSignature, "header truncated after %d of 12 bytes", n)
		}
		return nil, errors.Wrap(err, "failed reading signature header")
	}

	opts := SignatureOptions{
		Magic:     SignatureFormat(binary.BigEndian.Uint32(hdr[0:4])),
		BlockLen:  binary.BigEndian.Uint32(hdr[4:8]),
		StrongLen: binary.BigEndian.Uint32(hdr[8:12]),
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Signature{
		opts:  opts,
		table: make(map[uint32][]int),
	}

	recLen := 4 + int(opts.StrongLen)
	rec := make([]byte, recLen)
	offset := int64(len(hdr))
	for index := 0; ; index++ {
		n, err := io.ReadFull(r, rec)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrCorruptSignature,
				"block record %d truncated after %d of %d bytes at offset %d", index, n, recLen, offset)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed reading block record %d", index)
		}

		b := BlockSignature{
			Index:  uint32(index),
			Weak:   binary.BigEndian.Uint32(rec[:4]),
			Strong: append([]byte(nil), rec[4:]...),
		}
		s.blocks = append(s.blocks, b)
		s.table[b.Weak] = append(s.table[b.Weak], index)
		offset += int64(recLen)
	}

	return s, nil
}

// Format returns the signature's on-wire format.
func (s *Signature) Format() SignatureFormat { return s.opts.Magic }

// BlockLen returns the basis block length the signature was generated with.
func (s *Signature) BlockLen() uint32 { return s.opts.BlockLen }

// StrongLen returns the stored strong hash length in bytes.
func (s *Signature) StrongLen() uint32 { return s.opts.StrongLen }

// Blocks returns the number of block records in the signature.
func (s *Signature) Blocks() int { return len(s.blocks) }

// Lookup returns the blocks sharing the given weak checksum, in ascending
// block index order. Collisions are expected, especially for low-entropy
// basis data; callers confirm candidates with the strong hash.
func (s *Signature) Lookup(weak uint32) []BlockSignature {
	idxs := s.table[weak]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]BlockSignature, len(idxs))
	for i, idx := range idxs {
		out[i] = s.blocks[idx]
	}
	return out
}

// findMatch confirms a weak checksum hit against the window bytes. The strong
// hash is computed once per window, only when there is at least one candidate.
// Candidates are tried in ascending block index order and the first strong
// match wins.
func (s *Signature) findMatch(window []byte, weak uint32) (BlockSignature, bool) {
	idxs := s.table[weak]
	if len(idxs) == 0 {
		return BlockSignature{}, false
	}
	strong := s.opts.Magic.strongSum(window, s.opts.StrongLen)
	for _, idx := range idxs {
		if bytes.Equal(strong, s.blocks[idx].Strong) {
			return s.blocks[idx], true
		}
	}
	return BlockSignature{}, false
}
