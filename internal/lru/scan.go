// Package lru implements the linear recurrent unit: a diagonal complex
// recurrence s[t] = λ·s[t-1]·valid[t-1] + h0[t] evaluated with a masked
// associative scan in log2(L) levels.
package lru

import (
	"errors"
	"fmt"

	"lrurec/internal/parallel"
	"lrurec/internal/tensor"
)

var (
	ErrNotPowerOfTwo = errors.New("sequence length is not a power of two")
	ErrShapeMismatch = errors.New("shape mismatch")
)

type ScanOptions struct {
	// Workers bounds how many batch rows are processed concurrently within a
	// level. Zero or one runs rows sequentially.
	Workers int
}

// levelState is the per-level scan state: λ^1..λ^half for every channel
// (index k*H+c holds λ_c^(k+1)) and, per position, whether every step from
// the start of its current block up to the position is valid.
type levelState struct {
	half int
	pows []complex128
	gate tensor.Mask
}

func newLevelState(lambda []complex128, batch, time int) *levelState {
	gate := tensor.AllValid(batch, time)
	return &levelState{half: 1, pows: append([]complex128(nil), lambda...), gate: gate}
}

// advance doubles the block size, extending the power table by
// pows·pows[last] so that it holds λ^1..λ^(2·half).
func (s *levelState) advance(hidden int) {
	last := s.pows[(s.half-1)*hidden : s.half*hidden]
	next := make([]complex128, 2*s.half*hidden)
	copy(next, s.pows)
	for k := 0; k < s.half; k++ {
		src := s.pows[k*hidden : (k+1)*hidden]
		dst := next[(s.half+k)*hidden : (s.half+k+1)*hidden]
		for c := range dst {
			dst[c] = src[c] * last[c]
		}
	}
	s.pows = next
	s.half *= 2
}

// Scan evaluates the masked recurrence over h in place. h holds the
// gain-scaled projected input [B, L, H]; L must be a power of two.
//
// At each level the sequence is cut into blocks of 2·half steps. The last
// state of a block's first half is carried into every step k of its second
// half as λ^(k+1)·h1[last], but only when the steps between them are valid,
// so no state crosses a padding position.
func Scan(h tensor.Complex, mask tensor.Mask, lambda []complex128, opts ScanOptions) error {
	if err := checkShapes(h, mask, lambda); err != nil {
		return err
	}
	if !isPowerOfTwo(h.Time) {
		return fmt.Errorf("%w: %d", ErrNotPowerOfTwo, h.Time)
	}

	levels := LevelCount(h.Time)
	state := newLevelState(lambda, h.Batch, h.Time)
	for i := 1; i <= levels; i++ {
		if i > 1 {
			state.advance(h.Width)
		}
		parallel.ForEach(h.Batch, opts.Workers, func(b int) {
			scanLevel(h.Sequence(b), mask.Sequence(b), state.gate.Sequence(b), state.pows, state.half, h.Width)
		})
	}
	return nil
}

func scanLevel(seq []complex128, valid, gate []bool, pows []complex128, half, hidden int) {
	time := len(valid)
	for start := 0; start < time; start += 2 * half {
		boundary := start + half - 1
		carry := seq[boundary*hidden : (boundary+1)*hidden]
		for k := 0; k < half; k++ {
			t := boundary + 1 + k
			open := valid[boundary] && gate[t]
			if open {
				row := seq[t*hidden : (t+1)*hidden]
				p := pows[k*hidden : (k+1)*hidden]
				for c := range row {
					row[c] += p[c] * carry[c]
				}
			}
			gate[t] = gate[boundary] && open
		}
	}
}

// SequentialScan evaluates the same recurrence one step at a time. It
// accepts any sequence length and serves as the reference for Scan.
func SequentialScan(h tensor.Complex, mask tensor.Mask, lambda []complex128) error {
	if err := checkShapes(h, mask, lambda); err != nil {
		return err
	}
	for b := 0; b < h.Batch; b++ {
		for t := 1; t < h.Time; t++ {
			if !mask.At(b, t-1) {
				continue
			}
			prev := h.Row(b, t-1)
			row := h.Row(b, t)
			for c := range row {
				row[c] += lambda[c] * prev[c]
			}
		}
	}
	return nil
}

func checkShapes(h tensor.Complex, mask tensor.Mask, lambda []complex128) error {
	if len(h.Data) != h.Batch*h.Time*h.Width {
		return fmt.Errorf("%w: state %s holds %d values", ErrShapeMismatch, h, len(h.Data))
	}
	if mask.Batch != h.Batch || mask.Time != h.Time || len(mask.Data) != mask.Batch*mask.Time {
		return fmt.Errorf("%w: mask [%d,%d] vs state %s", ErrShapeMismatch, mask.Batch, mask.Time, h)
	}
	if len(lambda) != h.Width {
		return fmt.Errorf("%w: %d eigenvalues vs state %s", ErrShapeMismatch, len(lambda), h)
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
