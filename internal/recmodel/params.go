package recmodel

import (
	"errors"
	"fmt"
	"slices"

	"lrurec/internal/lru"
	"lrurec/internal/model"
)

var ErrParameterMismatch = errors.New("parameter set does not match model")

// binding names one parameter array of a live model. Exactly one of real and
// cplx is set. init marks arrays drawn from the truncated normal at creation.
type binding struct {
	name  string
	shape []int
	real  []float64
	cplx  []complex128
	init  bool
}

func realParam(name string, data []float64, init bool, shape ...int) binding {
	return binding{name: name, shape: shape, real: data, init: init}
}

func complexParam(name string, data []complex128, shape ...int) binding {
	return binding{name: name, shape: shape, cplx: data, init: true}
}

// parameters enumerates every array in a fixed order. Optional biases are
// omitted when the model has none.
func (m *Model) parameters() []binding {
	d, v := m.Config.Width, m.Config.NumItems+1
	params := []binding{
		realParam("embedding.table", m.Embedding.Table, true, v, d),
		realParam("embedding.layer_norm.gamma", m.Embedding.Norm.Gamma, false, d),
		realParam("embedding.layer_norm.beta", m.Embedding.Norm.Beta, false, d),
	}
	for i, blk := range m.Blocks {
		l := blk.LRU
		prefix := fmt.Sprintf("blocks.%d.lru.", i)
		params = append(params,
			realParam(prefix+"params_log.nu", l.Params.NuLog, false, l.Hidden),
			realParam(prefix+"params_log.theta", l.Params.ThetaLog, false, l.Hidden),
			realParam(prefix+"params_log.gamma", l.Params.GammaLog, false, l.Hidden),
			complexParam(prefix+"in_proj.weight", l.InProj.Weight, l.Hidden, l.Width),
		)
		if l.InProj.Bias != nil {
			params = append(params, complexParam(prefix+"in_proj.bias", l.InProj.Bias, l.Hidden))
		}
		params = append(params, complexParam(prefix+"out_proj.weight", l.OutProj.Weight, l.Width, l.Hidden))
		if l.OutProj.Bias != nil {
			params = append(params, complexParam(prefix+"out_proj.bias", l.OutProj.Bias, l.Width))
		}
		params = append(params,
			realParam(prefix+"layer_norm.gamma", l.Norm.Gamma, false, d),
			realParam(prefix+"layer_norm.beta", l.Norm.Beta, false, d),
		)

		f := blk.FFN
		prefix = fmt.Sprintf("blocks.%d.ffn.", i)
		params = append(params,
			realParam(prefix+"w1.weight", f.W1.Weight, true, f.W1.Out, f.W1.In),
			realParam(prefix+"w1.bias", f.W1.Bias, true, f.W1.Out),
			realParam(prefix+"w2.weight", f.W2.Weight, true, f.W2.Out, f.W2.In),
			realParam(prefix+"w2.bias", f.W2.Bias, true, f.W2.Out),
			realParam(prefix+"layer_norm.gamma", f.Norm.Gamma, false, d),
			realParam(prefix+"layer_norm.beta", f.Norm.Beta, false, d),
		)
	}
	return append(params, realParam("head.bias", m.Bias, true, v))
}

// Snapshot copies every parameter into a persistable set.
func (m *Model) Snapshot() model.ParameterSet {
	bindings := m.parameters()
	set := model.ParameterSet{Tensors: make([]model.NamedTensor, 0, len(bindings))}
	for _, p := range bindings {
		t := model.NamedTensor{Name: p.name, Shape: slices.Clone(p.shape)}
		if p.cplx != nil {
			t.Real = make([]float64, len(p.cplx))
			t.Imag = make([]float64, len(p.cplx))
			for i, c := range p.cplx {
				t.Real[i], t.Imag[i] = real(c), imag(c)
			}
		} else {
			t.Real = slices.Clone(p.real)
		}
		set.Tensors = append(set.Tensors, t)
	}
	return set
}

// ParameterCount counts scalar parameters, complex values counting twice.
func (m *Model) ParameterCount() int {
	n := 0
	for _, p := range m.parameters() {
		n += len(p.real) + 2*len(p.cplx)
	}
	return n
}

// Restore replaces every parameter with the values in set. The set must
// name exactly this model's parameters with matching shapes, and its
// recurrence parameters must be stable. The model is unchanged on error.
func (m *Model) Restore(set model.ParameterSet) error {
	bindings := m.parameters()
	if err := checkSet(bindings, set); err != nil {
		return err
	}
	for i := range m.Blocks {
		p, err := blockParams(set, i)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	for _, p := range bindings {
		t, _ := set.Lookup(p.name)
		if p.cplx != nil {
			for i := range p.cplx {
				p.cplx[i] = complex(t.Real[i], t.Imag[i])
			}
		} else {
			copy(p.real, t.Real)
		}
	}
	return nil
}

// Load builds a model for cfg and restores set into it. A positive
// maxModulus re-projects the recurrence parameters before the stability
// check and reports how many channels moved.
func Load(cfg Config, set model.ParameterSet, maxModulus float64) (*Model, int, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, 0, err
	}
	moved := 0
	if maxModulus > 0 {
		set, moved, err = reprojectSet(set, len(m.Blocks), maxModulus)
		if err != nil {
			return nil, 0, err
		}
	}
	if err := m.Restore(set); err != nil {
		return nil, 0, err
	}
	return m, moved, nil
}

func checkSet(bindings []binding, set model.ParameterSet) error {
	if len(set.Tensors) != len(bindings) {
		return fmt.Errorf("%w: %d tensors, model has %d", ErrParameterMismatch, len(set.Tensors), len(bindings))
	}
	for _, p := range bindings {
		t, ok := set.Lookup(p.name)
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrParameterMismatch, p.name)
		}
		if !slices.Equal(t.Shape, p.shape) {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrParameterMismatch, p.name, t.Shape, p.shape)
		}
		want := len(p.real)
		if p.cplx != nil {
			want = len(p.cplx)
			if len(t.Imag) != want {
				return fmt.Errorf("%w: %s needs %d imaginary values, got %d", ErrParameterMismatch, p.name, want, len(t.Imag))
			}
		} else if t.Imag != nil {
			return fmt.Errorf("%w: %s is real but carries imaginary values", ErrParameterMismatch, p.name)
		}
		if len(t.Real) != want {
			return fmt.Errorf("%w: %s needs %d values, got %d", ErrParameterMismatch, p.name, want, len(t.Real))
		}
	}
	return nil
}

func blockParams(set model.ParameterSet, block int) (lru.Params, error) {
	prefix := fmt.Sprintf("blocks.%d.lru.params_log.", block)
	nu, ok1 := set.Lookup(prefix + "nu")
	theta, ok2 := set.Lookup(prefix + "theta")
	gamma, ok3 := set.Lookup(prefix + "gamma")
	if !ok1 || !ok2 || !ok3 {
		return lru.Params{}, fmt.Errorf("%w: block %d recurrence parameters missing", ErrParameterMismatch, block)
	}
	return lru.Params{NuLog: nu.Real, ThetaLog: theta.Real, GammaLog: gamma.Real}, nil
}

// StabilityOf reports eigenvalue moduli straight from a stored parameter
// set. Unlike Restore it accepts unstable recurrences, so it can describe
// checkpoints that no longer load.
func StabilityOf(cfg Config, set model.ParameterSet) ([]ChannelReport, error) {
	reports := make([]ChannelReport, 0, cfg.Blocks)
	for i := 0; i < cfg.Blocks; i++ {
		name := fmt.Sprintf("blocks.%d.lru.params_log.nu", i)
		nu, ok := set.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrParameterMismatch, name)
		}
		reports = append(reports, channelReport(i, lru.Params{NuLog: nu.Real}.Moduli()))
	}
	return reports, nil
}

// reprojectSet returns a copy of set with every block's recurrence clamped.
func reprojectSet(set model.ParameterSet, blocks int, maxModulus float64) (model.ParameterSet, int, error) {
	out := model.ParameterSet{Tensors: slices.Clone(set.Tensors)}
	moved := 0
	for i := 0; i < blocks; i++ {
		name := fmt.Sprintf("blocks.%d.lru.params_log.nu", i)
		idx := slices.IndexFunc(out.Tensors, func(t model.NamedTensor) bool { return t.Name == name })
		if idx < 0 {
			return model.ParameterSet{}, 0, fmt.Errorf("%w: missing %s", ErrParameterMismatch, name)
		}
		nu := slices.Clone(out.Tensors[idx].Real)
		n, err := lru.Params{NuLog: nu}.Reproject(maxModulus)
		if err != nil {
			return model.ParameterSet{}, 0, err
		}
		out.Tensors[idx].Real = nu
		moved += n
	}
	return out, moved, nil
}
