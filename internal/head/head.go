// Package head scores encoded positions against the item embedding table.
package head

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lrurec/internal/nn"
	"lrurec/internal/tensor"
)

const (
	KindFull    = "full"
	KindSampled = "sampled"
)

var (
	ErrLabelsRequired = errors.New("labels are required for sampled scoring")
	ErrUnknownKind    = errors.New("unknown scoring head")
	ErrShapeMismatch  = errors.New("shape mismatch")
)

// Table is the item embedding table shared with the input embedding, plus a
// per-item output bias.
type Table struct {
	NumItems int
	Width    int
	Vectors  []float64 // (NumItems+1)×Width
	Bias     []float64 // NumItems+1
}

func (tb Table) vector(id int) []float64 {
	return tb.Vectors[id*tb.Width : (id+1)*tb.Width]
}

func (tb Table) validate(width int) error {
	if tb.Width != width {
		return fmt.Errorf("%w: table width %d, input width %d", ErrShapeMismatch, tb.Width, width)
	}
	vocab := tb.NumItems + 1
	if len(tb.Vectors) != vocab*tb.Width || len(tb.Bias) != vocab {
		return fmt.Errorf("%w: table holds %d vectors and %d biases for %d items", ErrShapeMismatch, len(tb.Vectors), len(tb.Bias), vocab)
	}
	return nil
}

// Scores is a [batch, time, candidates] score tensor. Items lists the
// candidate ids per row when candidates are sampled (nil means candidate j is
// item j), and Targets gives the index of the positive candidate.
type Scores struct {
	Batch      int
	Time       int
	Candidates int
	Data       []float64
	Items      [][]int
	Targets    [][]int
}

func (s Scores) Row(b, t int) []float64 {
	off := (b*s.Time + t) * s.Candidates
	return s.Data[off : off+s.Candidates]
}

// Item maps candidate j of (b, t) to an item id.
func (s Scores) Item(b, t, j int) int {
	if s.Items == nil {
		return j
	}
	if len(s.Items) == s.Batch*s.Time {
		return s.Items[b*s.Time+t][j]
	}
	return s.Items[b][j]
}

// Scorer produces scores for every position of x.
type Scorer interface {
	Name() string
	Score(x tensor.Real, table Table, labels [][]int, mode nn.Mode) (Scores, error)
}

type SampledConfig struct {
	Negatives     int
	EvalNegatives int
	Seed          int64
}

// New selects a scorer by kind.
func New(kind string, cfg SampledConfig) (Scorer, error) {
	switch kind {
	case "", KindFull:
		return Full{}, nil
	case KindSampled:
		if cfg.Negatives <= 0 || cfg.EvalNegatives <= 0 {
			return nil, fmt.Errorf("sampled head needs positive negative counts, got %d and %d", cfg.Negatives, cfg.EvalNegatives)
		}
		return &Sampled{Negatives: cfg.Negatives, EvalNegatives: cfg.EvalNegatives, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Full scores every position against the whole vocabulary, padding id included.
type Full struct{}

func (Full) Name() string { return KindFull }

func (Full) Score(x tensor.Real, table Table, _ [][]int, _ nn.Mode) (Scores, error) {
	if err := table.validate(x.Width); err != nil {
		return Scores{}, err
	}
	vocab := table.NumItems + 1
	rows := x.Batch * x.Time
	out := Scores{Batch: x.Batch, Time: x.Time, Candidates: vocab, Data: make([]float64, rows*vocab)}
	if rows == 0 || x.Width == 0 {
		return out, nil
	}
	xm := mat.NewDense(rows, x.Width, x.Data)
	em := mat.NewDense(vocab, table.Width, table.Vectors)
	om := mat.NewDense(rows, vocab, out.Data)
	om.Mul(xm, em.T())
	for r := 0; r < rows; r++ {
		floats.Add(out.Data[r*vocab:(r+1)*vocab], table.Bias)
	}
	return out, nil
}

// Sampled scores against uniformly drawn negatives plus the label. In
// training every position draws its own Negatives and is scored against its
// own label; in evaluation each row draws EvalNegatives once and every
// position is scored against them plus the row's single label. The positive
// candidate is always last.
// The scorer's own generator is guarded by mu; a caller-supplied mode.Rng
// is the caller's to synchronize.
type Sampled struct {
	Negatives     int
	EvalNegatives int

	mu  sync.Mutex
	rng *rand.Rand
}

func (s *Sampled) Name() string { return KindSampled }

func (s *Sampled) Score(x tensor.Real, table Table, labels [][]int, mode nn.Mode) (Scores, error) {
	if err := table.validate(x.Width); err != nil {
		return Scores{}, err
	}
	if len(labels) != x.Batch {
		return Scores{}, fmt.Errorf("%w: %d label rows for batch %d", ErrLabelsRequired, len(labels), x.Batch)
	}
	rng := mode.Rng
	if rng == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		rng = s.rng
	}
	if mode.Training {
		return s.scoreTraining(x, table, labels, rng)
	}
	return s.scoreEvaluation(x, table, labels, rng)
}

func (s *Sampled) draw(rng *rand.Rand, numItems, n int) []int {
	items := make([]int, n, n+1)
	for i := range items {
		items[i] = rng.Intn(numItems) + 1
	}
	return items
}

func checkLabel(id, numItems int) error {
	if id < 0 || id > numItems {
		return fmt.Errorf("%w: label %d outside [0, %d]", ErrShapeMismatch, id, numItems)
	}
	return nil
}

func (s *Sampled) scoreTraining(x tensor.Real, table Table, labels [][]int, rng *rand.Rand) (Scores, error) {
	n := s.Negatives + 1
	out := Scores{
		Batch:      x.Batch,
		Time:       x.Time,
		Candidates: n,
		Data:       make([]float64, x.Batch*x.Time*n),
		Items:      make([][]int, 0, x.Batch*x.Time),
		Targets:    make([][]int, x.Batch),
	}
	for b := 0; b < x.Batch; b++ {
		if len(labels[b]) != x.Time {
			return Scores{}, fmt.Errorf("%w: row %d has %d labels for %d steps", ErrLabelsRequired, b, len(labels[b]), x.Time)
		}
		out.Targets[b] = make([]int, x.Time)
		for t := 0; t < x.Time; t++ {
			if err := checkLabel(labels[b][t], table.NumItems); err != nil {
				return Scores{}, err
			}
			items := append(s.draw(rng, table.NumItems, s.Negatives), labels[b][t])
			row := out.Row(b, t)
			for j, id := range items {
				row[j] = floats.Dot(x.Row(b, t), table.vector(id)) + table.Bias[id]
			}
			out.Items = append(out.Items, items)
			out.Targets[b][t] = s.Negatives
		}
	}
	return out, nil
}

func (s *Sampled) scoreEvaluation(x tensor.Real, table Table, labels [][]int, rng *rand.Rand) (Scores, error) {
	n := s.EvalNegatives + 1
	out := Scores{
		Batch:      x.Batch,
		Time:       x.Time,
		Candidates: n,
		Data:       make([]float64, x.Batch*x.Time*n),
		Items:      make([][]int, x.Batch),
		Targets:    make([][]int, x.Batch),
	}
	for b := 0; b < x.Batch; b++ {
		if len(labels[b]) != 1 {
			return Scores{}, fmt.Errorf("%w: evaluation row %d needs exactly one label, got %d", ErrLabelsRequired, b, len(labels[b]))
		}
		if err := checkLabel(labels[b][0], table.NumItems); err != nil {
			return Scores{}, err
		}
		items := append(s.draw(rng, table.NumItems, s.EvalNegatives), labels[b][0])
		out.Items[b] = items
		out.Targets[b] = []int{s.EvalNegatives}
		for t := 0; t < x.Time; t++ {
			row := out.Row(b, t)
			for j, id := range items {
				row[j] = floats.Dot(x.Row(b, t), table.vector(id)) + table.Bias[id]
			}
		}
	}
	return out, nil
}

type Ranked struct {
	Item  int     `json:"item"`
	Score float64 `json:"score"`
}

// TopK ranks the candidates of position (b, t), highest score first, ties
// broken by lower item id. Items in exclude are skipped.
func TopK(s Scores, b, t, k int, exclude map[int]bool) []Ranked {
	row := s.Row(b, t)
	ranked := make([]Ranked, 0, len(row))
	for j, score := range row {
		item := s.Item(b, t, j)
		if exclude[item] {
			continue
		}
		ranked = append(ranked, Ranked{Item: item, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item < ranked[j].Item
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}
