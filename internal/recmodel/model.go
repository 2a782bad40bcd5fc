// Package recmodel assembles the sequential recommender encoder: item
// embedding, a stack of recurrent blocks and a scoring head.
package recmodel

import (
	"fmt"
	"math"
	"math/rand"

	"lrurec/internal/embedding"
	"lrurec/internal/head"
	"lrurec/internal/lru"
	"lrurec/internal/nn"
	"lrurec/internal/parallel"
	"lrurec/internal/tensor"
)

// Block is one recurrent layer followed by its position-wise feed-forward.
type Block struct {
	LRU *lru.Layer
	FFN nn.FeedForward
}

type Model struct {
	Config    Config
	Embedding *embedding.Embedding
	Blocks    []*Block
	Bias      []float64 // per-item output bias, NumItems+1
	Head      head.Scorer
}

// RunOptions controls a single pass. Workers overrides the configured
// worker count when positive.
type RunOptions struct {
	Mode    nn.Mode
	Workers int
}

// New builds a freshly initialized model. Every parameter except layer norms
// and recurrence parameters is drawn from the truncated normal DefaultInit.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	emb, err := embedding.New(cfg.NumItems, cfg.Width, cfg.Dropout, cfg.Positional)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	scorer, err := head.New(cfg.Head, head.SampledConfig{
		Negatives:     cfg.Negatives,
		EvalNegatives: cfg.EvalNegatives,
		Seed:          cfg.Seed + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m := &Model{
		Config:    cfg,
		Embedding: emb,
		Blocks:    make([]*Block, 0, cfg.Blocks),
		Bias:      make([]float64, cfg.NumItems+1),
		Head:      scorer,
	}
	for i := 0; i < cfg.Blocks; i++ {
		layer, err := lru.NewLayer(lru.LayerConfig{
			Width:   cfg.Width,
			Dropout: cfg.AttnDropout,
			UseBias: cfg.UseBias,
			RMin:    cfg.RMin,
			RMax:    cfg.RMax,
		}, rng)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		ffn := nn.NewFeedForward(cfg.Width, 4*cfg.Width, cfg.Dropout)
		if cfg.Activation != "" {
			ffn.Activation = cfg.Activation
		}
		m.Blocks = append(m.Blocks, &Block{LRU: layer, FFN: ffn})
	}

	for _, p := range m.parameters() {
		if !p.init {
			continue
		}
		if p.cplx != nil {
			nn.FillTruncatedNormalComplex(rng, p.cplx, nn.DefaultInit)
		} else {
			nn.FillTruncatedNormal(rng, p.real, nn.DefaultInit)
		}
	}
	return m, nil
}

func (m *Model) workers(opts RunOptions) int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	return parallel.Workers(m.Config.Workers)
}

// Encode returns one D-dimensional vector per input position and the
// validity mask derived from the ids.
func (m *Model) Encode(ids [][]int, opts RunOptions) (tensor.Real, tensor.Mask, error) {
	x, mask, err := m.Embedding.Forward(ids, opts.Mode)
	if err != nil {
		return tensor.Real{}, tensor.Mask{}, err
	}
	seqLen := x.Time
	px, pm, _, err := lru.PadLeft(x, mask)
	if err != nil {
		return tensor.Real{}, tensor.Mask{}, err
	}

	fopts := lru.ForwardOptions{Mode: opts.Mode, Workers: m.workers(opts)}
	for i, blk := range m.Blocks {
		px, err = blk.LRU.Forward(px, pm, fopts)
		if err != nil {
			return tensor.Real{}, tensor.Mask{}, fmt.Errorf("block %d: %w", i, err)
		}
		px, err = blk.FFN.Forward(px, opts.Mode)
		if err != nil {
			return tensor.Real{}, tensor.Mask{}, fmt.Errorf("block %d: %w", i, err)
		}
	}

	out, err := lru.TruncateLeft(px, seqLen)
	if err != nil {
		return tensor.Real{}, tensor.Mask{}, err
	}
	return out, mask, nil
}

// Forward encodes ids and scores every position with the configured head.
// labels are required by the sampled head only.
func (m *Model) Forward(ids [][]int, labels [][]int, opts RunOptions) (head.Scores, tensor.Real, error) {
	x, _, err := m.Encode(ids, opts)
	if err != nil {
		return head.Scores{}, tensor.Real{}, err
	}
	scores, err := m.Head.Score(x, m.Table(), labels, opts.Mode)
	if err != nil {
		return head.Scores{}, tensor.Real{}, err
	}
	return scores, x, nil
}

// ScoreFull scores against the whole vocabulary regardless of the configured
// head. Recommendation uses it.
func (m *Model) ScoreFull(ids [][]int, opts RunOptions) (head.Scores, error) {
	x, _, err := m.Encode(ids, opts)
	if err != nil {
		return head.Scores{}, err
	}
	return head.Full{}.Score(x, m.Table(), nil, opts.Mode)
}

// Table shares the input embedding with the output head.
func (m *Model) Table() head.Table {
	return head.Table{
		NumItems: m.Config.NumItems,
		Width:    m.Config.Width,
		Vectors:  m.Embedding.Table,
		Bias:     m.Bias,
	}
}

type ChannelReport struct {
	Block      int     `json:"block"`
	Channels   int     `json:"channels"`
	MinModulus float64 `json:"min_modulus"`
	MaxModulus float64 `json:"max_modulus"`
	Unstable   int     `json:"unstable"`
}

// Stability summarizes the eigenvalue moduli of every block.
func (m *Model) Stability() []ChannelReport {
	reports := make([]ChannelReport, 0, len(m.Blocks))
	for i, blk := range m.Blocks {
		reports = append(reports, channelReport(i, blk.LRU.Params.Moduli()))
	}
	return reports
}

// channelReport counts channels with |λ| >= 1 as unstable. They still take
// part in the min and max so the report shows how far they went; NaN moduli
// are only counted.
func channelReport(block int, moduli []float64) ChannelReport {
	r := ChannelReport{Block: block, Channels: len(moduli), MinModulus: math.Inf(1), MaxModulus: math.Inf(-1)}
	seen := 0
	for _, v := range moduli {
		if math.IsNaN(v) || v >= 1 {
			r.Unstable++
		}
		if math.IsNaN(v) {
			continue
		}
		r.MinModulus = math.Min(r.MinModulus, v)
		r.MaxModulus = math.Max(r.MaxModulus, v)
		seen++
	}
	if seen == 0 {
		r.MinModulus, r.MaxModulus = 0, 0
	}
	return r
}

func (m *Model) Validate() error {
	for i, blk := range m.Blocks {
		if err := blk.LRU.Params.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// Reproject clamps every block's eigenvalues to maxModulus and returns the
// number of channels changed.
func (m *Model) Reproject(maxModulus float64) (int, error) {
	total := 0
	for i, blk := range m.Blocks {
		n, err := blk.LRU.Params.Reproject(maxModulus)
		if err != nil {
			return total, fmt.Errorf("block %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}
