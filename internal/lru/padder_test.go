package lru

import (
	"errors"
	"testing"

	"lrurec/internal/tensor"
)

func TestPadLengthAndLevels(t *testing.T) {
	tests := []struct {
		n      int
		pad    int
		levels int
	}{
		{n: 1, pad: 0, levels: 0},
		{n: 2, pad: 0, levels: 1},
		{n: 3, pad: 1, levels: 2},
		{n: 4, pad: 0, levels: 2},
		{n: 5, pad: 3, levels: 3},
		{n: 200, pad: 56, levels: 8},
		{n: 256, pad: 0, levels: 8},
	}
	for _, tc := range tests {
		if got := PadLength(tc.n); got != tc.pad {
			t.Fatalf("PadLength(%d): got=%d want=%d", tc.n, got, tc.pad)
		}
		if got := LevelCount(tc.n); got != tc.levels {
			t.Fatalf("LevelCount(%d): got=%d want=%d", tc.n, got, tc.levels)
		}
	}
	if got := NextPowerOfTwo(uint16(300)); got != 512 {
		t.Fatalf("NextPowerOfTwo(uint16): got=%d", got)
	}
}

func TestPadLeftTruncateRoundTrip(t *testing.T) {
	batch, length, width := 2, 5, 3
	x := tensor.NewReal(batch, length, width)
	for i := range x.Data {
		x.Data[i] = float64(i) + 0.5
	}
	mask, err := tensor.MaskFrom([][]bool{
		{false, true, true, true, true},
		{true, true, true, true, true},
	})
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	px, pm, pad, err := PadLeft(x, mask)
	if err != nil {
		t.Fatalf("pad: %v", err)
	}
	if pad != 3 || px.Time != 8 || pm.Time != 8 {
		t.Fatalf("unexpected padded shape: pad=%d x=%s mask time=%d", pad, px, pm.Time)
	}
	for b := 0; b < batch; b++ {
		for step := 0; step < pad; step++ {
			if pm.At(b, step) {
				t.Fatalf("padding step b=%d t=%d marked valid", b, step)
			}
			for _, v := range px.Row(b, step) {
				if v != 0 {
					t.Fatalf("padding step b=%d t=%d holds %f", b, step, v)
				}
			}
		}
	}

	back, err := TruncateLeft(px, length)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !back.SameShape(x) {
		t.Fatalf("unexpected truncated shape: %s", back)
	}
	for i := range x.Data {
		if back.Data[i] != x.Data[i] {
			t.Fatalf("value %d changed: got=%f want=%f", i, back.Data[i], x.Data[i])
		}
	}

	backMask, err := TruncateMaskLeft(pm, length)
	if err != nil {
		t.Fatalf("truncate mask: %v", err)
	}
	if !backMask.Equal(mask) {
		t.Fatalf("mask round trip mismatch: %+v", backMask.Data)
	}
}

func TestPadLeftPowerOfTwoIsCopy(t *testing.T) {
	x := tensor.NewReal(1, 4, 1)
	mask := tensor.AllValid(1, 4)
	px, _, pad, err := PadLeft(x, mask)
	if err != nil {
		t.Fatalf("pad: %v", err)
	}
	if pad != 0 || px.Time != 4 {
		t.Fatalf("unexpected pad for power of two: pad=%d", pad)
	}
	px.Data[0] = 9
	if x.Data[0] == 9 {
		t.Fatal("padded tensor aliases input")
	}
}

func TestPadLeftErrors(t *testing.T) {
	if _, _, _, err := PadLeft(tensor.NewReal(1, 0, 2), tensor.NewMask(1, 0)); !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got: %v", err)
	}
	if _, _, _, err := PadLeft(tensor.NewReal(1, 3, 2), tensor.NewMask(1, 4)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got: %v", err)
	}
	if _, err := TruncateLeft(tensor.NewReal(1, 3, 2), 4); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got: %v", err)
	}
}
