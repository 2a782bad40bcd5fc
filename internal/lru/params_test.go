package lru

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"
)

func TestNewParamsStableAcrossSeeds(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		p, err := NewParams(32, DefaultRMin, DefaultRMax, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		lambda, gain := p.Eigenvalues()
		for c, l := range lambda {
			m := cmplx.Abs(l)
			if m < DefaultRMin-1e-12 || m > DefaultRMax+1e-12 {
				t.Fatalf("seed %d channel %d: |λ|=%f outside [r_min, r_max]", seed, c, m)
			}
			wantGain := math.Sqrt(1 - m*m)
			if math.Abs(gain[c]-wantGain) > 1e-12 {
				t.Fatalf("seed %d channel %d: gain=%f want=%f", seed, c, gain[c], wantGain)
			}
		}
	}
}

func TestNewParamsPhaseCoversCircle(t *testing.T) {
	p, err := NewParams(4000, DefaultRMin, DefaultRMax, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	quadrants := [4]int{}
	for _, theta := range p.ThetaLog {
		phase := math.Exp(theta)
		if phase <= 0 || phase > 2*math.Pi {
			t.Fatalf("phase out of range: %f", phase)
		}
		quadrants[int(phase/(math.Pi/2))%4]++
	}
	for q, n := range quadrants {
		if n < 800 {
			t.Fatalf("quadrant %d underpopulated: %d", q, n)
		}
	}
}

func TestNewParamsRejectsBadRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, bounds := range [][2]float64{{0.9, 0.8}, {0.5, 1}, {-0.1, 0.5}} {
		if _, err := NewParams(4, bounds[0], bounds[1], rng); !errors.Is(err, ErrInvalidRadius) {
			t.Fatalf("bounds %v: expected ErrInvalidRadius, got: %v", bounds, err)
		}
	}
}

func TestValidateDetectsUnstableChannel(t *testing.T) {
	p, err := NewParams(4, DefaultRMin, DefaultRMax, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	// exp(nu) underflows relative to 1, so |λ| rounds to exactly one.
	p.NuLog[2] = -60
	if err := p.Validate(); !errors.Is(err, ErrUnstable) {
		t.Fatalf("expected ErrUnstable, got: %v", err)
	}

	changed, err := p.Reproject(DefaultRMax)
	if err != nil {
		t.Fatalf("reproject: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected one reprojected channel, got=%d", changed)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate after reproject: %v", err)
	}
	if m := p.Moduli()[2]; math.Abs(m-DefaultRMax) > 1e-12 {
		t.Fatalf("unexpected reprojected modulus: %f", m)
	}
}

func TestValidateShapeMismatch(t *testing.T) {
	p := Params{NuLog: []float64{0}, ThetaLog: []float64{0, 1}, GammaLog: []float64{0}}
	if err := p.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got: %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p, err := NewParams(2, DefaultRMin, DefaultRMax, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	c := p.Clone()
	c.NuLog[0] = 42
	if p.NuLog[0] == 42 {
		t.Fatal("clone shares storage with original")
	}
}
