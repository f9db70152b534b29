// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Patch reconstructs a target file from the basis and a delta stream, writing
// it to out. The basis must be fully available and random-access; the delta is
// consumed in one forward pass. A stream that ends before its end command, an
// unknown command byte or a copy reaching past the end of the basis fail with
// a format error.
func Patch(basis io.ReaderAt, delta io.Reader, out io.Writer) error {
	r := bufio.NewReader(delta)

	var hdr [4]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		return errors.Wrapf(ErrCorruptDelta, "header truncated after %d of 4 bytes", n)
	}
	if magic := binary.BigEndian.Uint32(hdr[:]); magic != DeltaMagic {
		return errors.Wrapf(ErrCorruptDelta, "bad magic %#08x, want %#08x", magic, DeltaMagic)
	}

	w := bufio.NewWriter(out)
	for {
		cmd, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(ErrCorruptDelta, "stream ends before end command")
		}

		switch {
		case cmd == opEnd:
			return errors.Wrap(w.Flush(), "failed flushing patched output")

		case cmd <= 0x40:
			// Immediate literal, length is the command byte.
			if err := pipeLiteral(w, r, uint64(cmd)); err != nil {
				return err
			}

		case cmd >= opLiteralN1 && cmd <= opLiteralN8:
			length, err := readUint(r, 1<<(cmd-opLiteralN1))
			if err != nil {
				return errors.Wrap(ErrCorruptDelta, "literal length truncated")
			}
			if err := pipeLiteral(w, r, length); err != nil {
				return err
			}

		case cmd >= opCopyN1N1 && cmd <= opCopyN8N8:
			idx := cmd - opCopyN1N1
			offset, err := readUint(r, 1<<(idx/4))
			if err != nil {
				return errors.Wrap(ErrCorruptDelta, "copy offset truncated")
			}
			length, err := readUint(r, 1<<(idx%4))
			if err != nil {
				return errors.Wrap(ErrCorruptDelta, "copy length truncated")
			}
			if err := copyBasis(w, basis, offset, length); err != nil {
				return err
			}

		default:
			return errors.Wrapf(ErrCorruptDelta, "unknown command %#02x", cmd)
		}
	}
}

// pipeLiteral streams n literal bytes from the delta into the output.
func pipeLiteral(w io.Writer, r io.Reader, n uint64) error {
	if n > math.MaxInt64 {
		return errors.Wrapf(ErrCorruptDelta, "literal length %#x overflows", n)
	}
	copied, err := io.CopyN(w, r, int64(n))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrCorruptDelta, "literal data truncated after %d of %d bytes", copied, n)
	}
	return errors.Wrap(err, "failed copying literal data")
}

// copyBasis streams length basis bytes at offset into the output.
func copyBasis(w io.Writer, basis io.ReaderAt, offset, length uint64) error {
	if offset > math.MaxInt64 || length > math.MaxInt64 || offset+length > math.MaxInt64 {
		return errors.Wrapf(ErrCorruptDelta, "copy parameters overflow (offset %#x, length %#x)", offset, length)
	}
	sr := io.NewSectionReader(basis, int64(offset), int64(length))
	copied, err := io.Copy(w, sr)
	if err != nil {
		return errors.Wrapf(err, "failed copying %d basis bytes at offset %d", length, offset)
	}
	if uint64(copied) != length {
		return errors.Wrapf(ErrCorruptDelta, "copy reaches past end of basis (offset %d, length %d)", offset, length)
	}
	return nil
}
