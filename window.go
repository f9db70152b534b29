// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import "io"

// rotateBuffer keeps a sliding window of up to blockLen bytes over a forward
// reader. The buffer is compacted in place when the window reaches its end, so
// the reader is consumed in one pass and never seeked.
type rotateBuffer struct {
	buf      []byte
	start    int
	end      int
	blockLen int
	rd       io.Reader
	eof      bool
}

func newRotateBuffer(rd io.Reader, blockLen int) *rotateBuffer {
	size := blockLen + 32*1024
	if size < 2*blockLen {
		size = 2 * blockLen
	}
	return &rotateBuffer{
		buf:      make([]byte, size),
		blockLen: blockLen,
		rd:       rd,
	}
}

// fill reads until at least n bytes are buffered or the reader is exhausted.
// n must not exceed the buffer size.
func (rb *rotateBuffer) fill(n int) error {
	for rb.end-rb.start < n && !rb.eof {
		if rb.end == len(rb.buf) {
			copy(rb.buf, rb.buf[rb.start:rb.end])
			rb.end -= rb.start
			rb.start = 0
		}
		m, err := rb.rd.Read(rb.buf[rb.end:])
		rb.end += m
		if err == io.EOF {
			rb.eof = true
		} else if err != nil {
			return err
		}
	}
	return nil
}

// window returns the current scan window: blockLen bytes, or whatever remains
// once the reader runs out. An empty slice means the stream is consumed. The
// slice aliases the buffer and is only valid until the next skip.
func (rb *rotateBuffer) window() ([]byte, error) {
	if err := rb.fill(rb.blockLen); err != nil {
		return nil, err
	}
	n := rb.end - rb.start
	if n > rb.blockLen {
		n = rb.blockLen
	}
	return rb.buf[rb.start : rb.start+n], nil
}

// next reports the byte that enters a full window when it slides forward by
// one. ok is false when the stream has no byte beyond the current window.
func (rb *rotateBuffer) next() (in byte, ok bool, err error) {
	if err := rb.fill(rb.blockLen + 1); err != nil {
		return 0, false, err
	}
	if rb.end-rb.start < rb.blockLen+1 {
		return 0, false, nil
	}
	return rb.buf[rb.start+rb.blockLen], true, nil
}

// skip advances the window start by n bytes. n must not exceed the current
// window length.
func (rb *rotateBuffer) skip(n int) {
	rb.start += n
}
