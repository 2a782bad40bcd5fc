package lru

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"lrurec/internal/nn"
	"lrurec/internal/tensor"
)

// Layer is one recurrent sub-layer:
// norm(dropout(Re(out_proj(scan(gain · in_proj(x))))) + x).
type Layer struct {
	Width   int
	Hidden  int
	Params  Params
	InProj  ComplexLinear
	OutProj ComplexLinear
	Dropout nn.Dropout
	Norm    nn.LayerNorm
}

type LayerConfig struct {
	Width   int
	Dropout float64
	UseBias bool
	RMin    float64
	RMax    float64
}

// NewLayer builds a layer with a recurrent state twice as wide as the model.
// Projection weights start at zero; callers initialize them.
func NewLayer(cfg LayerConfig, rng *rand.Rand) (*Layer, error) {
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("%w: width %d", ErrShapeMismatch, cfg.Width)
	}
	hidden := 2 * cfg.Width
	params, err := NewParams(hidden, cfg.RMin, cfg.RMax, rng)
	if err != nil {
		return nil, err
	}
	return &Layer{
		Width:   cfg.Width,
		Hidden:  hidden,
		Params:  params,
		InProj:  NewComplexLinear(cfg.Width, hidden, cfg.UseBias),
		OutProj: NewComplexLinear(hidden, cfg.Width, cfg.UseBias),
		Dropout: nn.Dropout{P: cfg.Dropout},
		Norm:    nn.NewLayerNorm(cfg.Width),
	}, nil
}

type ForwardOptions struct {
	Mode    nn.Mode
	Workers int
}

// Forward runs the layer on a power-of-two length input. x is not modified.
func (l *Layer) Forward(x tensor.Real, mask tensor.Mask, opts ForwardOptions) (tensor.Real, error) {
	if x.Width != l.Width {
		return tensor.Real{}, fmt.Errorf("%w: layer width %d, input %s", ErrShapeMismatch, l.Width, x)
	}
	lambda, gain := l.Params.Eigenvalues()
	if len(lambda) != l.Hidden {
		return tensor.Real{}, fmt.Errorf("%w: %d eigenvalues for hidden width %d", ErrShapeMismatch, len(lambda), l.Hidden)
	}

	h, err := l.InProj.ApplyReal(x)
	if err != nil {
		return tensor.Real{}, fmt.Errorf("in projection: %w", err)
	}
	for i := range h.Data {
		h.Data[i] *= complex(gain[i%l.Hidden], 0)
	}

	if err := Scan(h, mask, lambda, ScanOptions{Workers: opts.Workers}); err != nil {
		return tensor.Real{}, fmt.Errorf("scan: %w", err)
	}

	y, err := l.OutProj.ApplyRealPart(h)
	if err != nil {
		return tensor.Real{}, fmt.Errorf("out projection: %w", err)
	}
	l.Dropout.ApplyInPlace(y, opts.Mode)
	floats.Add(y.Data, x.Data)
	if err := l.Norm.ApplyInPlace(y); err != nil {
		return tensor.Real{}, fmt.Errorf("layer norm: %w", err)
	}
	return y, nil
}
