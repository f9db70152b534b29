// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// GenerateSignature reads the basis stream in consecutive blocks of
// opts.BlockLen bytes and writes a signature to sig: a 12-byte header (magic,
// block length, strong length, all big-endian) followed by one record per
// block holding the 4-byte weak checksum and the truncated strong hash. The
// final block may be shorter than BlockLen and is hashed at its true length.
// An empty basis produces just the header.
func GenerateSignature(basis io.Reader, opts SignatureOptions, sig io.Writer) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	w := bufio.NewWriter(sig)

	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(opts.Magic))
	binary.BigEndian.PutUint32(hdr[4:8], opts.BlockLen)
	binary.BigEndian.PutUint32(hdr[8:12], opts.StrongLen)
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "failed writing signature header")
	}

	buf := make([]byte, opts.BlockLen)
	var rec [4]byte
	for index := uint32(0); ; index++ {
		n, err := io.ReadFull(basis, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return errors.Wrapf(err, "failed reading basis block %d", index)
		}

		block := buf[:n]
		binary.BigEndian.PutUint32(rec[:], opts.Magic.weakSum(block))
		if _, werr := w.Write(rec[:]); werr != nil {
			return errors.Wrapf(werr, "failed writing weak checksum of block %d", index)
		}
		if _, werr := w.Write(opts.Magic.strongSum(block, opts.StrongLen)); werr != nil {
			return errors.Wrapf(werr, "failed writing strong hash of block %d", index)
		}

		if err == io.ErrUnexpectedEOF {
			// Short final block, nothing left to read.
			break
		}
	}

	return errors.Wrap(w.Flush(), "failed flushing signature")
}
