package nn

import (
	"math"
	"math/rand"
)

// GELU is the exact (erf based) Gaussian error linear unit.
func GELU(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

// GELUTanh is the tanh approximation of GELU.
func GELUTanh(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(x+0.044715*x*x*x)))
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// InitSpec describes a normal distribution truncated to [Lower, Upper].
type InitSpec struct {
	Mean  float64
	Std   float64
	Lower float64
	Upper float64
}

// DefaultInit is the truncated normal used for every projection, embedding
// and feed-forward weight.
var DefaultInit = InitSpec{Mean: 0, Std: 0.02, Lower: -0.04, Upper: 0.04}

// TruncatedNormal draws one value by inverting the normal CDF restricted to
// [Lower, Upper].
func TruncatedNormal(rng *rand.Rand, spec InitSpec) float64 {
	l := (1 + math.Erf((spec.Lower-spec.Mean)/spec.Std/math.Sqrt2)) / 2
	u := (1 + math.Erf((spec.Upper-spec.Mean)/spec.Std/math.Sqrt2)) / 2
	v := (2*l - 1) + rng.Float64()*((2*u-1)-(2*l-1))
	v = math.Erfinv(v)*spec.Std*math.Sqrt2 + spec.Mean
	// Erfinv returns ±Inf at the open ends of its domain.
	if v < spec.Lower {
		return spec.Lower
	}
	if v > spec.Upper {
		return spec.Upper
	}
	return v
}

func FillTruncatedNormal(rng *rand.Rand, dst []float64, spec InitSpec) {
	for i := range dst {
		dst[i] = TruncatedNormal(rng, spec)
	}
}

// FillTruncatedNormalComplex initializes real and imaginary parts independently.
func FillTruncatedNormalComplex(rng *rand.Rand, dst []complex128, spec InitSpec) {
	for i := range dst {
		re := TruncatedNormal(rng, spec)
		im := TruncatedNormal(rng, spec)
		dst[i] = complex(re, im)
	}
}
