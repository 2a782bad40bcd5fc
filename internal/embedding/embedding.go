// Package embedding turns padded item-id sequences into token vectors and a
// validity mask.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"lrurec/internal/nn"
	"lrurec/internal/tensor"
)

const (
	PositionalNone = "none"
	PositionalRoPE = "rope"

	ropeBase = 10000.0
)

var (
	ErrItemOutOfRange = errors.New("item id out of range")
	ErrRaggedBatch    = errors.New("sequences in a batch must share one length")
	ErrPositional     = errors.New("unsupported positional encoding")
)

// Embedding maps item ids in [0, NumItems] to Width-dimensional vectors.
// Id 0 is padding.
type Embedding struct {
	NumItems   int
	Width      int
	Table      []float64 // (NumItems+1)×Width
	Positional string
	Norm       nn.LayerNorm
	Dropout    nn.Dropout
}

func New(numItems, width int, dropout float64, positional string) (*Embedding, error) {
	if numItems <= 0 || width <= 0 {
		return nil, fmt.Errorf("embedding needs positive item count and width, got %d and %d", numItems, width)
	}
	switch positional {
	case "", PositionalNone:
		positional = PositionalNone
	case PositionalRoPE:
		if width%2 != 0 {
			return nil, fmt.Errorf("%w: rope needs an even width, got %d", ErrPositional, width)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrPositional, positional)
	}
	return &Embedding{
		NumItems:   numItems,
		Width:      width,
		Table:      make([]float64, (numItems+1)*width),
		Positional: positional,
		Norm:       nn.NewLayerNorm(width),
		Dropout:    nn.Dropout{P: dropout},
	}, nil
}

// Vector returns the row for item id. The slice aliases the table.
func (e *Embedding) Vector(id int) []float64 {
	return e.Table[id*e.Width : (id+1)*e.Width : (id+1)*e.Width]
}

func (e *Embedding) VocabSize() int {
	return e.NumItems + 1
}

// Forward looks up every id, marks ids > 0 as valid, and returns the
// normalized token vectors.
func (e *Embedding) Forward(ids [][]int, mode nn.Mode) (tensor.Real, tensor.Mask, error) {
	batch := len(ids)
	if batch == 0 {
		return tensor.Real{}, tensor.Mask{}, fmt.Errorf("%w: empty batch", ErrRaggedBatch)
	}
	time := len(ids[0])
	x := tensor.NewReal(batch, time, e.Width)
	mask := tensor.NewMask(batch, time)
	for b, seq := range ids {
		if len(seq) != time {
			return tensor.Real{}, tensor.Mask{}, fmt.Errorf("%w: row %d has %d items, want %d", ErrRaggedBatch, b, len(seq), time)
		}
		for t, id := range seq {
			if id < 0 || id > e.NumItems {
				return tensor.Real{}, tensor.Mask{}, fmt.Errorf("%w: %d at row %d step %d", ErrItemOutOfRange, id, b, t)
			}
			copy(x.Row(b, t), e.Vector(id))
			mask.Set(b, t, id > 0)
		}
	}

	if e.Positional == PositionalRoPE {
		addRotary(x)
	}
	e.Dropout.ApplyInPlace(x, mode)
	if err := e.Norm.ApplyInPlace(x); err != nil {
		return tensor.Real{}, tensor.Mask{}, err
	}
	return x, mask, nil
}

// addRotary adds to every token its own copy rotated by the position angle,
// treating consecutive feature pairs as complex numbers.
func addRotary(x tensor.Real) {
	pairs := x.Width / 2
	for t := 0; t < x.Time; t++ {
		for k := 0; k < pairs; k++ {
			theta := 1 / math.Pow(ropeBase, float64(k)/float64(pairs))
			sin, cos := math.Sincos(float64(t) * theta)
			for b := 0; b < x.Batch; b++ {
				row := x.Row(b, t)
				re, im := row[2*k], row[2*k+1]
				row[2*k] = re + (re*cos - im*sin)
				row[2*k+1] = im + (re*sin + im*cos)
			}
		}
	}
}
