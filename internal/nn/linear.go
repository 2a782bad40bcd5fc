package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lrurec/internal/tensor"
)

var ErrShapeMismatch = errors.New("shape mismatch")

// Linear is a real affine map y = x·Wᵀ + b with Weight stored Out×In row-major.
type Linear struct {
	In     int
	Out    int
	Weight []float64
	Bias   []float64
}

func NewLinear(in, out int, bias bool) Linear {
	l := Linear{In: in, Out: out, Weight: make([]float64, in*out)}
	if bias {
		l.Bias = make([]float64, out)
	}
	return l
}

func (l Linear) Apply(x tensor.Real) (tensor.Real, error) {
	if x.Width != l.In {
		return tensor.Real{}, fmt.Errorf("%w: linear expects width %d, got %s", ErrShapeMismatch, l.In, x)
	}
	if len(l.Weight) != l.In*l.Out {
		return tensor.Real{}, fmt.Errorf("%w: linear weight has %d values, want %d", ErrShapeMismatch, len(l.Weight), l.In*l.Out)
	}
	if l.Bias != nil && len(l.Bias) != l.Out {
		return tensor.Real{}, fmt.Errorf("%w: linear bias has %d values, want %d", ErrShapeMismatch, len(l.Bias), l.Out)
	}

	out := tensor.NewReal(x.Batch, x.Time, l.Out)
	rows := x.Batch * x.Time
	if rows == 0 || l.Out == 0 {
		return out, nil
	}
	if l.In > 0 {
		xm := mat.NewDense(rows, l.In, x.Data)
		wm := mat.NewDense(l.Out, l.In, l.Weight)
		om := mat.NewDense(rows, l.Out, out.Data)
		om.Mul(xm, wm.T())
	}
	if l.Bias != nil {
		for r := 0; r < rows; r++ {
			floats.Add(out.Data[r*l.Out:(r+1)*l.Out], l.Bias)
		}
	}
	return out, nil
}
