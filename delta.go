// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
)

// OpKind tags a delta instruction.
type OpKind uint8

const (
	// OpCopy instructs the applier to copy Len bytes from the basis at Offset.
	OpCopy OpKind = iota
	// OpLiteral carries target bytes not present in any matched basis block.
	OpLiteral
)

// Op is a single target-reconstruction instruction. Concatenating the bytes
// the instructions denote, in emission order, reproduces the target exactly.
type Op struct {
	Kind   OpKind
	Offset uint64
	Len    uint64
	Data   []byte
	// Err reports a failure during scanning when Op is delivered on a channel.
	Err error
}

// ComputeDelta scans the target stream against a loaded signature and writes
// the encoded delta to delta. The signature is read-only here and may be
// shared by any number of concurrent ComputeDelta calls.
func ComputeDelta(sig *Signature, target io.Reader, delta io.Writer) error {
	w := bufio.NewWriter(delta)
	enc := newDeltaEncoder(w)
	if err := enc.writeHeader(); err != nil {
		return err
	}
	if err := scan(sig, target, enc.writeOp); err != nil {
		return err
	}
	if err := enc.writeEnd(); err != nil {
		return err
	}
	return errors.Wrap(w.Flush(), "failed flushing delta")
}

// Operations scans the target against the signature and pipes out instructions
// on the returned channel, closing it when done. This function does not block
// and returns immediately; it is the fan-out point for serving deltas of one
// basis to many targets, one goroutine per target. A scan failure or context
// cancellation is delivered as a final Op with Err set.
func Operations(ctx context.Context, sig *Signature, target io.Reader) <-chan Op {
	c := make(chan Op)

	go func() {
		defer close(c)

		emit := func(op Op) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c <- op:
				return nil
			}
		}
		if err := scan(sig, target, emit); err != nil {
			select {
			case c <- Op{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return c
}

// scan is the rolling-match loop. It slides a window of BlockLen bytes over
// the target, updating the weak checksum in O(1) per byte, and asks the
// signature for a strong-confirmed block match at each position. A match
// flushes the pending literal run, emits a copy and restarts the window right
// after the matched bytes; a miss moves the window's oldest byte onto the
// literal run. Near the end of the stream the window shrinks, so the short
// final basis block can still match.
func scan(sig *Signature, target io.Reader, emit func(Op) error) error {
	blockLen := int(sig.BlockLen())
	rb := newRotateBuffer(target, blockLen)
	weak := sig.Format().newWeakHash()

	var lit []byte
	flush := func() error {
		if len(lit) == 0 {
			return nil
		}
		op := Op{Kind: OpLiteral, Data: lit}
		lit = nil
		return emit(op)
	}

	// rolled is true when weak already holds the digest of the current window
	// from an incremental update.
	rolled := false

	for {
		p, err := rb.window()
		if err != nil {
			return errors.Wrap(err, "failed reading target")
		}
		if len(p) == 0 {
			break
		}

		if !rolled {
			weak.Reset()
			weak.Update(p)
		}
		rolled = false

		if b, ok := sig.findMatch(p, weak.Digest()); ok {
			if err := flush(); err != nil {
				return err
			}
			op := Op{
				Kind:   OpCopy,
				Offset: uint64(b.Index) * uint64(sig.BlockLen()),
				Len:    uint64(len(p)),
			}
			if err := emit(op); err != nil {
				return err
			}
			rb.skip(len(p))
			continue
		}

		// No match: the oldest window byte becomes pending literal data. It
		// must be taken before next(), whose refill may compact the buffer
		// the window slice points into.
		out := p[0]
		in, ok, err := rb.next()
		if err != nil {
			return errors.Wrap(err, "failed reading target")
		}
		lit = append(lit, out)
		rb.skip(1)

		if ok && len(p) == blockLen {
			weak.Rotate(out, in)
			rolled = true
		}
	}

	return flush()
}
