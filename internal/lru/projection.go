package lru

import (
	"fmt"

	"lrurec/internal/tensor"
)

// ComplexLinear is a complex affine map with Weight stored Out×In row-major.
type ComplexLinear struct {
	In     int
	Out    int
	Weight []complex128
	Bias   []complex128
}

func NewComplexLinear(in, out int, bias bool) ComplexLinear {
	l := ComplexLinear{In: in, Out: out, Weight: make([]complex128, in*out)}
	if bias {
		l.Bias = make([]complex128, out)
	}
	return l
}

func (l ComplexLinear) validate(width int) error {
	if width != l.In {
		return fmt.Errorf("%w: projection expects width %d, got %d", ErrShapeMismatch, l.In, width)
	}
	if len(l.Weight) != l.In*l.Out {
		return fmt.Errorf("%w: projection weight has %d values, want %d", ErrShapeMismatch, len(l.Weight), l.In*l.Out)
	}
	if l.Bias != nil && len(l.Bias) != l.Out {
		return fmt.Errorf("%w: projection bias has %d values, want %d", ErrShapeMismatch, len(l.Bias), l.Out)
	}
	return nil
}

// ApplyReal maps a real input, read as complex with zero imaginary part.
func (l ComplexLinear) ApplyReal(x tensor.Real) (tensor.Complex, error) {
	if err := l.validate(x.Width); err != nil {
		return tensor.Complex{}, err
	}
	out := tensor.NewComplex(x.Batch, x.Time, l.Out)
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Time; t++ {
			in := x.Row(b, t)
			row := out.Row(b, t)
			for o := range row {
				w := l.Weight[o*l.In : (o+1)*l.In]
				var re, im float64
				for i, v := range in {
					re += real(w[i]) * v
					im += imag(w[i]) * v
				}
				acc := complex(re, im)
				if l.Bias != nil {
					acc += l.Bias[o]
				}
				row[o] = acc
			}
		}
	}
	return out, nil
}

// ApplyRealPart maps a complex input and keeps only the real part of the result.
func (l ComplexLinear) ApplyRealPart(h tensor.Complex) (tensor.Real, error) {
	if err := l.validate(h.Width); err != nil {
		return tensor.Real{}, err
	}
	out := tensor.NewReal(h.Batch, h.Time, l.Out)
	for b := 0; b < h.Batch; b++ {
		for t := 0; t < h.Time; t++ {
			in := h.Row(b, t)
			row := out.Row(b, t)
			for o := range row {
				w := l.Weight[o*l.In : (o+1)*l.In]
				acc := 0.0
				for i, v := range in {
					acc += real(w[i])*real(v) - imag(w[i])*imag(v)
				}
				if l.Bias != nil {
					acc += real(l.Bias[o])
				}
				row[o] = acc
			}
		}
	}
	return out, nil
}
