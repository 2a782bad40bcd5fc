package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"lrurec/internal/tensor"
)

const defaultLayerNormEps = 1e-5

// LayerNorm normalizes each position over the width axis, then applies a
// per-feature scale and shift.
type LayerNorm struct {
	Gamma []float64
	Beta  []float64
	Eps   float64
}

func NewLayerNorm(width int) LayerNorm {
	n := LayerNorm{Gamma: make([]float64, width), Beta: make([]float64, width), Eps: defaultLayerNormEps}
	for i := range n.Gamma {
		n.Gamma[i] = 1
	}
	return n
}

// ApplyInPlace normalizes x row by row.
func (n LayerNorm) ApplyInPlace(x tensor.Real) error {
	if len(n.Gamma) != x.Width || len(n.Beta) != x.Width {
		return fmt.Errorf("%w: layer norm width %d, input %s", ErrShapeMismatch, len(n.Gamma), x)
	}
	if x.Width == 0 {
		return nil
	}
	eps := n.Eps
	if eps <= 0 {
		eps = defaultLayerNormEps
	}
	for b := 0; b < x.Batch; b++ {
		for t := 0; t < x.Time; t++ {
			row := x.Row(b, t)
			mean, variance := stat.PopMeanVariance(row, nil)
			inv := 1 / math.Sqrt(variance+eps)
			for i, v := range row {
				row[i] = (v-mean)*inv*n.Gamma[i] + n.Beta[i]
			}
		}
	}
	return nil
}

// Mode selects training behaviour. The zero value is evaluation mode.
type Mode struct {
	Training bool
	Rng      *rand.Rand
}

// Dropout zeroes activations with probability P in training mode and scales
// the survivors by 1/(1-P). It is the identity in evaluation mode.
type Dropout struct {
	P float64
}

func (d Dropout) ApplyInPlace(x tensor.Real, mode Mode) {
	if !mode.Training || mode.Rng == nil || d.P <= 0 {
		return
	}
	if d.P >= 1 {
		for i := range x.Data {
			x.Data[i] = 0
		}
		return
	}
	scale := 1 / (1 - d.P)
	for i := range x.Data {
		if mode.Rng.Float64() < d.P {
			x.Data[i] = 0
		} else {
			x.Data[i] *= scale
		}
	}
}
