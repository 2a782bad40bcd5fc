package nn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"lrurec/internal/tensor"
)

// FeedForward is the position-wise two-layer sub-block that follows every
// recurrent layer: norm(dropout(W2·dropout(act(W1·x))) + x).
type FeedForward struct {
	W1         Linear
	W2         Linear
	Activation string
	Dropout    Dropout
	Norm       LayerNorm
}

// NewFeedForward uses GELU; set Activation to any registered name.
func NewFeedForward(width, hidden int, dropout float64) FeedForward {
	return FeedForward{
		W1:         NewLinear(width, hidden, true),
		W2:         NewLinear(hidden, width, true),
		Activation: "gelu",
		Dropout:    Dropout{P: dropout},
		Norm:       NewLayerNorm(width),
	}
}

func (f FeedForward) Forward(x tensor.Real, mode Mode) (tensor.Real, error) {
	act, err := GetActivation(f.Activation)
	if err != nil {
		return tensor.Real{}, err
	}
	h, err := f.W1.Apply(x)
	if err != nil {
		return tensor.Real{}, fmt.Errorf("feed-forward w1: %w", err)
	}
	act(h.Data)
	f.Dropout.ApplyInPlace(h, mode)

	y, err := f.W2.Apply(h)
	if err != nil {
		return tensor.Real{}, fmt.Errorf("feed-forward w2: %w", err)
	}
	if !y.SameShape(x) {
		return tensor.Real{}, fmt.Errorf("%w: feed-forward residual %s vs %s", ErrShapeMismatch, y, x)
	}
	f.Dropout.ApplyInPlace(y, mode)
	floats.Add(y.Data, x.Data)
	if err := f.Norm.ApplyInPlace(y); err != nil {
		return tensor.Real{}, fmt.Errorf("feed-forward norm: %w", err)
	}
	return y, nil
}
