package lru

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
)

const (
	DefaultRMin = 0.8
	DefaultRMax = 0.99
)

var (
	ErrUnstable      = errors.New("recurrence eigenvalue outside the open unit disk")
	ErrInvalidRadius = errors.New("invalid eigenvalue radius bounds")
)

// Params holds the per-channel recurrence parameters in log space. Channel c
// has eigenvalue exp(-exp(NuLog[c]) + i·exp(ThetaLog[c])) and input gain
// exp(GammaLog[c]).
type Params struct {
	NuLog    []float64
	ThetaLog []float64
	GammaLog []float64
}

// NewParams draws parameters so that |λ|² is uniform on [rMin², rMax²] and
// the phase is uniform on (0, 2π]. The gain normalizes the stationary
// variance of a unit-variance input to one.
func NewParams(hidden int, rMin, rMax float64, rng *rand.Rand) (Params, error) {
	if hidden <= 0 {
		return Params{}, fmt.Errorf("%w: hidden width %d", ErrShapeMismatch, hidden)
	}
	if !(rMin >= 0 && rMin < rMax && rMax < 1) {
		return Params{}, fmt.Errorf("%w: r_min=%g r_max=%g", ErrInvalidRadius, rMin, rMax)
	}

	p := Params{
		NuLog:    make([]float64, hidden),
		ThetaLog: make([]float64, hidden),
		GammaLog: make([]float64, hidden),
	}
	for c := 0; c < hidden; c++ {
		u1 := rng.Float64()
		u2 := 1 - rng.Float64()
		p.NuLog[c] = math.Log(-0.5 * math.Log(u1*(rMax*rMax-rMin*rMin)+rMin*rMin))
		p.ThetaLog[c] = math.Log(2 * math.Pi * u2)
		modulus := math.Exp(-math.Exp(p.NuLog[c]))
		p.GammaLog[c] = 0.5 * math.Log(1-modulus*modulus)
	}
	return p, nil
}

func (p Params) Hidden() int {
	return len(p.NuLog)
}

// Eigenvalues derives λ and the gain from the stored log parameters. It is
// evaluated on every forward pass.
func (p Params) Eigenvalues() ([]complex128, []float64) {
	lambda := make([]complex128, len(p.NuLog))
	gain := make([]float64, len(p.GammaLog))
	for c := range p.NuLog {
		lambda[c] = cmplx.Rect(math.Exp(-math.Exp(p.NuLog[c])), math.Exp(p.ThetaLog[c]))
	}
	for c := range p.GammaLog {
		gain[c] = math.Exp(p.GammaLog[c])
	}
	return lambda, gain
}

// Validate reports shape errors and any channel whose eigenvalue is not
// strictly inside the unit disk. It should be re-run after every external
// parameter update.
func (p Params) Validate() error {
	h := len(p.NuLog)
	if len(p.ThetaLog) != h || len(p.GammaLog) != h {
		return fmt.Errorf("%w: params nu=%d theta=%d gamma=%d", ErrShapeMismatch, h, len(p.ThetaLog), len(p.GammaLog))
	}
	lambda, gain := p.Eigenvalues()
	for c, l := range lambda {
		m := cmplx.Abs(l)
		if math.IsNaN(m) || m >= 1 {
			return fmt.Errorf("%w: channel %d has |λ|=%g", ErrUnstable, c, m)
		}
		if math.IsNaN(gain[c]) || math.IsInf(gain[c], 0) {
			return fmt.Errorf("%w: channel %d has gain %g", ErrUnstable, c, gain[c])
		}
	}
	return nil
}

// Reproject pulls every channel whose modulus exceeds maxModulus back onto
// the circle of that radius, keeping its phase and gain. It returns the
// number of channels changed.
func (p Params) Reproject(maxModulus float64) (int, error) {
	if !(maxModulus > 0 && maxModulus < 1) {
		return 0, fmt.Errorf("%w: max modulus %g", ErrInvalidRadius, maxModulus)
	}
	limit := math.Log(-math.Log(maxModulus))
	changed := 0
	for c, nu := range p.NuLog {
		// modulus = exp(-exp(nu)) grows as nu decreases.
		if math.IsNaN(nu) || nu < limit {
			p.NuLog[c] = limit
			changed++
		}
	}
	return changed, nil
}

// Moduli returns |λ| per channel.
func (p Params) Moduli() []float64 {
	out := make([]float64, len(p.NuLog))
	for c, nu := range p.NuLog {
		out[c] = math.Exp(-math.Exp(nu))
	}
	return out
}

func (p Params) Clone() Params {
	return Params{
		NuLog:    append([]float64(nil), p.NuLog...),
		ThetaLog: append([]float64(nil), p.ThetaLog...),
		GammaLog: append([]float64(nil), p.GammaLog...),
	}
}
