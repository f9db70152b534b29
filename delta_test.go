// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rdelta

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/hooklift/assert"
	"github.com/pkg/profile"
)

// roundTrip verifies the central law: applying the delta between a basis and a
// target to the basis reproduces the target byte for byte.
func roundTrip(t *testing.T, basis, target []byte, opts SignatureOptions) {
	s := mustSign(t, basis, opts)

	delta := new(bytes.Buffer)
	assert.Ok(t, ComputeDelta(s, bytes.NewReader(target), delta))

	out := new(bytes.Buffer)
	assert.Ok(t, Patch(bytes.NewReader(basis), delta, out))
	assert.Cond(t, bytes.Equal(target, out.Bytes()), "reconstructed target differs from original")
}

func collectOps(t *testing.T, s *Signature, target []byte) []Op {
	var ops []Op
	for op := range Operations(context.Background(), s, bytes.NewReader(target)) {
		assert.Ok(t, op.Err)
		ops = append(ops, op)
	}
	return ops
}

func TestRoundTrip(t *testing.T) {
	basis := srand(20, 64*1024)

	edited := append([]byte(nil), basis...)
	copy(edited[30*1024:], []byte("some freshly edited bytes in the middle of the file"))

	tests := []struct {
		desc   string
		basis  []byte
		target []byte
	}{
		{"identical files", basis, basis},
		{"edit in the middle", basis, edited},
		{"prepended data", basis, append(srand(21, 777), basis...)},
		{"appended data", basis, append(append([]byte(nil), basis...), srand(22, 777)...)},
		{"truncated target", basis, basis[:41*1024]},
		{"disjoint content", basis, bytes.Repeat([]byte{0x00, 0xff}, 8*1024)},
		{"empty target", basis, nil},
		{"empty basis", nil, basis},
		{"empty basis and target", nil, nil},
		{"basis not a block multiple", srand(23, 64*1024+311), srand(23, 64*1024+311)},
	}

	for _, f := range []SignatureFormat{MD4Format, Blake2Format, SHA256Format, RabinKarpMD4Format, RabinKarpBlake2Format} {
		opts := SignatureOptions{Magic: f, BlockLen: 512, StrongLen: 8}
		for _, tt := range tests {
			t.Run(f.String()+"/"+tt.desc, func(t *testing.T) {
				roundTrip(t, tt.basis, tt.target, opts)
			})
		}
	}
}

func TestRoundTripLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 5MB round trip in short mode")
	}
	defer profile.Start().Stop()

	basis := srand(30, (5*1024)*1024)
	target := append([]byte(nil), basis...)
	copy(target[1024*1024:], srand(31, 256*1024))

	roundTrip(t, basis, target, DefaultSignatureOptions())
}

// TestRoundTripDeepLiteralRuns: unmatched runs that sit deep inside the target
// make the scanner slide byte by byte while its window buffer wraps and is
// compacted in place; the literal bytes collected across those refills must
// still be the target's own.
func TestRoundTripDeepLiteralRuns(t *testing.T) {
	const blockLen = 1024
	basis := srand(90, 256*1024)
	opts := SignatureOptions{Magic: Blake2Format, BlockLen: blockLen, StrongLen: 8}

	edited := append([]byte(nil), basis...)
	copy(edited[128*1024:], bytes.Repeat([]byte{0x01, 0x02}, 5*1024))

	tests := []struct {
		desc   string
		target []byte
	}{
		{"edit far past the first buffer fill", edited},
		{"unmatched tail after 200KiB of matches", append(append([]byte(nil), basis[:200*1024]...), bytes.Repeat([]byte{0x03}, 40*1024)...)},
		{"interleaved edits every 48KiB", func() []byte {
			target := append([]byte(nil), basis...)
			for off := 10 * 1024; off+512 < len(target); off += 48 * 1024 {
				copy(target[off:], bytes.Repeat([]byte{0x04}, 512))
			}
			return target
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			roundTrip(t, basis, tt.target, opts)

			// The literal instructions must carry target bytes, not stale
			// buffer content.
			s := mustSign(t, basis, opts)
			var rebuilt []byte
			for _, op := range collectOps(t, s, tt.target) {
				switch op.Kind {
				case OpCopy:
					rebuilt = append(rebuilt, basis[op.Offset:op.Offset+op.Len]...)
				case OpLiteral:
					rebuilt = append(rebuilt, op.Data...)
				}
			}
			assert.Cond(t, bytes.Equal(tt.target, rebuilt), "instruction stream does not reproduce the target")
		})
	}
}

// TestDeltaIdempotence: a delta of the basis against itself is pure copies, one
// per block, in order, including the short final block.
func TestDeltaIdempotence(t *testing.T) {
	const blockLen = 512
	basis := srand(40, 5*blockLen+123)
	s := mustSign(t, basis, SignatureOptions{Magic: Blake2Format, BlockLen: blockLen, StrongLen: 8})

	ops := collectOps(t, s, basis)
	assert.Equals(t, s.Blocks(), len(ops))
	for i, op := range ops {
		assert.Equals(t, OpCopy, op.Kind)
		assert.Equals(t, uint64(i*blockLen), op.Offset)
		if i < len(ops)-1 {
			assert.Equals(t, uint64(blockLen), op.Len)
		} else {
			assert.Equals(t, uint64(123), op.Len)
		}
	}
}

// TestDeltaDisjoint: a target sharing nothing with the basis is exactly one
// literal holding the whole target.
func TestDeltaDisjoint(t *testing.T) {
	basis := srand(50, 8*1024)
	target := bytes.Repeat([]byte{0x7f}, 3*1024)
	s := mustSign(t, basis, SignatureOptions{Magic: Blake2Format, BlockLen: 512, StrongLen: 8})

	ops := collectOps(t, s, target)
	assert.Equals(t, 1, len(ops))
	assert.Equals(t, OpLiteral, ops[0].Kind)
	assert.Equals(t, target, ops[0].Data)
}

func TestDeltaEmptyTarget(t *testing.T) {
	s := mustSign(t, srand(51, 4*1024), DefaultSignatureOptions())
	assert.Equals(t, 0, len(collectOps(t, s, nil)))
}

// TestWeakCollisionRejected: the three-byte blocks {0,2,0} and {1,0,1} have
// equal rolling checksums but different content. The scanner must pick the
// right block via the strong hash and never emit a copy of the wrong one.
func TestWeakCollisionRejected(t *testing.T) {
	blockA := []byte{0, 2, 0}
	blockB := []byte{1, 0, 1}
	assert.Equals(t, Blake2Format.weakSum(blockA), Blake2Format.weakSum(blockB))

	basis := append(append([]byte(nil), blockA...), blockB...)
	s := mustSign(t, basis, SignatureOptions{Magic: Blake2Format, BlockLen: 3, StrongLen: 8})
	assert.Equals(t, 2, len(s.Lookup(Blake2Format.weakSum(blockA))))

	ops := collectOps(t, s, blockB)
	assert.Equals(t, 1, len(ops))
	assert.Equals(t, OpCopy, ops[0].Kind)
	assert.Equals(t, uint64(3), ops[0].Offset)

	ops = collectOps(t, s, blockA)
	assert.Equals(t, 1, len(ops))
	assert.Equals(t, OpCopy, ops[0].Kind)
	assert.Equals(t, uint64(0), ops[0].Offset)
}

// TestSharedSignatureConcurrentScans: one loaded signature serves several
// concurrent delta computations, each with its own target and output.
func TestSharedSignatureConcurrentScans(t *testing.T) {
	basis := srand(60, 256*1024)
	s := mustSign(t, basis, SignatureOptions{Magic: Blake2Format, BlockLen: 1024, StrongLen: 8})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			target := append([]byte(nil), basis...)
			copy(target[len(target)/2:], srand(seed, 10*1024))

			delta := new(bytes.Buffer)
			assert.Ok(t, ComputeDelta(s, bytes.NewReader(target), delta))

			out := new(bytes.Buffer)
			assert.Ok(t, Patch(bytes.NewReader(basis), delta, out))
			assert.Cond(t, bytes.Equal(target, out.Bytes()), "concurrent scan produced a wrong delta")
		}(int64(100 + i))
	}
	wg.Wait()
}

func TestOperationsCancellation(t *testing.T) {
	s := mustSign(t, srand(70, 64*1024), SignatureOptions{Magic: Blake2Format, BlockLen: 512, StrongLen: 8})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The channel must still drain and close; a delivered error, if any, is
	// the context's.
	for op := range Operations(ctx, s, bytes.NewReader(srand(71, 64*1024))) {
		if op.Err != nil {
			assert.Equals(t, context.Canceled, op.Err)
		}
	}
}

func BenchmarkGenerateSignature(b *testing.B) {
	basis := srand(80, 1024*1024)
	opts := DefaultSignatureOptions()
	b.SetBytes(int64(len(basis)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := GenerateSignature(bytes.NewReader(basis), opts, new(bytes.Buffer)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputeDelta(b *testing.B) {
	basis := srand(81, 1024*1024)
	target := append([]byte(nil), basis...)
	copy(target[300*1024:], srand(82, 64*1024))

	sigBuf := new(bytes.Buffer)
	if err := GenerateSignature(bytes.NewReader(basis), DefaultSignatureOptions(), sigBuf); err != nil {
		b.Fatal(err)
	}
	s, err := LoadSignature(sigBuf)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(target)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ComputeDelta(s, bytes.NewReader(target), new(bytes.Buffer)); err != nil {
			b.Fatal(err)
		}
	}
}
