// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Delta stream commands. A delta is the 4-byte DeltaMagic followed by
// commands until opEnd. Copy commands carry a basis offset and a length,
// literal commands a length and the payload; multi-byte parameters are
// big-endian and use the smallest of 1, 2, 4 or 8 bytes, selected by the
// command byte. Commands 0x01..0x40 are immediate literals whose length is
// the command byte itself; the encoder never emits them but the decoder
// accepts them.
const (
	opEnd byte = 0x00

	opLiteralN1 byte = 0x41
	opLiteralN2 byte = 0x42
	opLiteralN4 byte = 0x43
	opLiteralN8 byte = 0x44

	// Copy commands 0x45..0x54: (offset width, length width) pairs in
	// row-major order over 1/2/4/8 bytes.
	opCopyN1N1 byte = 0x45
	opCopyN8N8 byte = 0x54
)

// byteWidth returns the smallest supported encoding width for v: 1, 2, 4 or 8.
func byteWidth(v uint64) int {
	switch {
	case v > 0xffffffff:
		return 8
	case v > 0xffff:
		return 4
	case v > 0xff:
		return 2
	}
	return 1
}

// widthIndex maps a width of 1/2/4/8 bytes to its command offset 0..3.
func widthIndex(w int) byte {
	switch w {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	return 3
}

func appendUint(b []byte, v uint64, width int) []byte {
	for shift := (width - 1) * 8; shift >= 0; shift -= 8 {
		b = append(b, byte(v>>uint(shift)))
	}
	return b
}

func readUint(r io.Reader, width int) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:width]); err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b[:width] {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// deltaEncoder writes the delta wire format.
type deltaEncoder struct {
	w io.Writer
}

func newDeltaEncoder(w io.Writer) *deltaEncoder {
	return &deltaEncoder{w: w}
}

func (e *deltaEncoder) writeHeader() error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], DeltaMagic)
	_, err := e.w.Write(b[:])
	return errors.Wrap(err, "failed writing delta header")
}

func (e *deltaEncoder) writeOp(op Op) error {
	switch op.Kind {
	case OpCopy:
		return e.writeCopy(op.Offset, op.Len)
	case OpLiteral:
		return e.writeLiteral(op.Data)
	}
	return errors.Errorf("rdelta: unknown instruction kind %d", op.Kind)
}

func (e *deltaEncoder) writeCopy(offset, length uint64) error {
	ow, lw := byteWidth(offset), byteWidth(length)
	buf := make([]byte, 0, 1+ow+lw)
	buf = append(buf, opCopyN1N1+widthIndex(ow)*4+widthIndex(lw))
	buf = appendUint(buf, offset, ow)
	buf = appendUint(buf, length, lw)
	_, err := e.w.Write(buf)
	return errors.Wrapf(err, "failed writing copy command (offset %d, length %d)", offset, length)
}

func (e *deltaEncoder) writeLiteral(data []byte) error {
	lw := byteWidth(uint64(len(data)))
	buf := make([]byte, 0, 1+lw)
	buf = append(buf, opLiteralN1+widthIndex(lw))
	buf = appendUint(buf, uint64(len(data)), lw)
	if _, err := e.w.Write(buf); err != nil {
		return errors.Wrapf(err, "failed writing literal command (%d bytes)", len(data))
	}
	_, err := e.w.Write(data)
	return errors.Wrap(err, "failed writing literal data")
}

func (e *deltaEncoder) writeEnd() error {
	_, err := e.w.Write([]byte{opEnd})
	return errors.Wrap(err, "failed writing end command")
}
