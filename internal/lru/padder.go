package lru

import (
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"

	"lrurec/internal/tensor"
)

var ErrEmptySequence = errors.New("sequence length must be positive")

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
func NextPowerOfTwo[T constraints.Integer](n T) T {
	p := T(1)
	for p < n {
		p <<= 1
	}
	return p
}

// LevelCount is ceil(log2(n)), the number of scan levels for length n.
func LevelCount(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// PadLength is the number of left padding steps that bring n to a power of two.
func PadLength(n int) int {
	return NextPowerOfTwo(n) - n
}

// PadLeft prepends zero vectors and invalid mask entries until the time axis
// is a power of two. It returns the padded tensors and the pad length.
func PadLeft(x tensor.Real, mask tensor.Mask) (tensor.Real, tensor.Mask, int, error) {
	if x.Time <= 0 {
		return tensor.Real{}, tensor.Mask{}, 0, ErrEmptySequence
	}
	if mask.Batch != x.Batch || mask.Time != x.Time {
		return tensor.Real{}, tensor.Mask{}, 0, fmt.Errorf("%w: mask [%d,%d] vs input %s", ErrShapeMismatch, mask.Batch, mask.Time, x)
	}

	pad := PadLength(x.Time)
	if pad == 0 {
		return x.Clone(), mask.Clone(), 0, nil
	}
	length := x.Time + pad
	px := tensor.NewReal(x.Batch, length, x.Width)
	pm := tensor.NewMask(x.Batch, length)
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Time; t++ {
			copy(px.Row(b, pad+t), x.Row(b, t))
			pm.Set(b, pad+t, mask.At(b, t))
		}
	}
	return px, pm, pad, nil
}

// TruncateLeft keeps the trailing seqLen steps of x.
func TruncateLeft(x tensor.Real, seqLen int) (tensor.Real, error) {
	if seqLen <= 0 {
		return tensor.Real{}, ErrEmptySequence
	}
	if seqLen > x.Time {
		return tensor.Real{}, fmt.Errorf("%w: cannot keep %d steps of %s", ErrShapeMismatch, seqLen, x)
	}
	if seqLen == x.Time {
		return x, nil
	}
	out := tensor.NewReal(x.Batch, seqLen, x.Width)
	skip := x.Time - seqLen
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < seqLen; t++ {
			copy(out.Row(b, t), x.Row(b, skip+t))
		}
	}
	return out, nil
}

// TruncateMaskLeft keeps the trailing seqLen steps of mask.
func TruncateMaskLeft(mask tensor.Mask, seqLen int) (tensor.Mask, error) {
	if seqLen <= 0 {
		return tensor.Mask{}, ErrEmptySequence
	}
	if seqLen > mask.Time {
		return tensor.Mask{}, fmt.Errorf("%w: cannot keep %d of %d mask steps", ErrShapeMismatch, seqLen, mask.Time)
	}
	out := tensor.NewMask(mask.Batch, seqLen)
	skip := mask.Time - seqLen
	for b := 0; b < mask.Batch; b++ {
		copy(out.Sequence(b), mask.Sequence(b)[skip:])
	}
	return out, nil
}
