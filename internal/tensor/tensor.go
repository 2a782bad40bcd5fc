// Package tensor holds the flat row-major batch tensors exchanged between the
// encoder stages.
package tensor

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("invalid tensor shape")

// Real is a [batch, time, width] tensor of float64 values.
type Real struct {
	Batch int
	Time  int
	Width int
	Data  []float64
}

func NewReal(batch, time, width int) Real {
	return Real{Batch: batch, Time: time, Width: width, Data: make([]float64, batch*time*width)}
}

// RealFrom wraps data without copying.
func RealFrom(batch, time, width int, data []float64) (Real, error) {
	if batch < 0 || time < 0 || width < 0 || len(data) != batch*time*width {
		return Real{}, fmt.Errorf("%w: real [%d,%d,%d] with %d values", ErrShape, batch, time, width, len(data))
	}
	return Real{Batch: batch, Time: time, Width: width, Data: data}, nil
}

// Row returns the width-long vector at (b, t). The slice aliases the tensor.
func (r Real) Row(b, t int) []float64 {
	off := (b*r.Time + t) * r.Width
	return r.Data[off : off+r.Width : off+r.Width]
}

func (r Real) At(b, t, d int) float64 {
	return r.Data[(b*r.Time+t)*r.Width+d]
}

func (r Real) Set(b, t, d int, v float64) {
	r.Data[(b*r.Time+t)*r.Width+d] = v
}

func (r Real) Clone() Real {
	return Real{Batch: r.Batch, Time: r.Time, Width: r.Width, Data: append([]float64(nil), r.Data...)}
}

func (r Real) SameShape(o Real) bool {
	return r.Batch == o.Batch && r.Time == o.Time && r.Width == o.Width
}

func (r Real) String() string {
	return fmt.Sprintf("real[%d,%d,%d]", r.Batch, r.Time, r.Width)
}

// Complex is a [batch, time, width] tensor of complex128 values.
type Complex struct {
	Batch int
	Time  int
	Width int
	Data  []complex128
}

func NewComplex(batch, time, width int) Complex {
	return Complex{Batch: batch, Time: time, Width: width, Data: make([]complex128, batch*time*width)}
}

func (c Complex) Row(b, t int) []complex128 {
	off := (b*c.Time + t) * c.Width
	return c.Data[off : off+c.Width : off+c.Width]
}

// Sequence returns the [time, width] block of batch row b. The slice aliases the tensor.
func (c Complex) Sequence(b int) []complex128 {
	n := c.Time * c.Width
	return c.Data[b*n : (b+1)*n : (b+1)*n]
}

func (c Complex) Clone() Complex {
	return Complex{Batch: c.Batch, Time: c.Time, Width: c.Width, Data: append([]complex128(nil), c.Data...)}
}

func (c Complex) String() string {
	return fmt.Sprintf("complex[%d,%d,%d]", c.Batch, c.Time, c.Width)
}

// Mask marks valid (non-padding) positions of a [batch, time] sequence.
type Mask struct {
	Batch int
	Time  int
	Data  []bool
}

func NewMask(batch, time int) Mask {
	return Mask{Batch: batch, Time: time, Data: make([]bool, batch*time)}
}

// MaskFrom builds a mask from per-row flags. All rows must share one length.
func MaskFrom(rows [][]bool) (Mask, error) {
	if len(rows) == 0 {
		return Mask{}, nil
	}
	time := len(rows[0])
	m := NewMask(len(rows), time)
	for b, row := range rows {
		if len(row) != time {
			return Mask{}, fmt.Errorf("%w: mask row %d has length %d, want %d", ErrShape, b, len(row), time)
		}
		copy(m.Data[b*time:], row)
	}
	return m, nil
}

func (m Mask) At(b, t int) bool {
	return m.Data[b*m.Time+t]
}

func (m Mask) Set(b, t int, v bool) {
	m.Data[b*m.Time+t] = v
}

// Sequence returns the flags of batch row b. The slice aliases the mask.
func (m Mask) Sequence(b int) []bool {
	return m.Data[b*m.Time : (b+1)*m.Time : (b+1)*m.Time]
}

func (m Mask) Clone() Mask {
	return Mask{Batch: m.Batch, Time: m.Time, Data: append([]bool(nil), m.Data...)}
}

func (m Mask) Equal(o Mask) bool {
	if m.Batch != o.Batch || m.Time != o.Time || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// AllValid returns a mask with every position marked valid.
func AllValid(batch, time int) Mask {
	m := NewMask(batch, time)
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}
