package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

// Activation rewrites every element of its argument in place.
type Activation func(v []float64)

// Pointwise lifts a scalar function to an in-place Activation.
func Pointwise(fn func(float64) float64) Activation {
	return func(v []float64) {
		for i, x := range v {
			v[i] = fn(x)
		}
	}
}

var activations = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	registerBuiltInActivations()
}

func registerBuiltInActivations() {
	MustRegisterActivation("identity", func([]float64) {})
	MustRegisterActivation("relu", Pointwise(func(x float64) float64 { return math.Max(x, 0) }))
	MustRegisterActivation("gelu", Pointwise(GELU))
	MustRegisterActivation("gelu_tanh", Pointwise(GELUTanh))
	MustRegisterActivation("silu", Pointwise(func(x float64) float64 { return x * sigmoid(x) }))
}

func activationKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func RegisterActivation(name string, fn Activation) error {
	key := activationKey(name)
	if key == "" {
		return errors.New("activation name is required")
	}
	if fn == nil {
		return errors.New("activation function is required")
	}

	activations.mu.Lock()
	defer activations.mu.Unlock()
	if _, exists := activations.m[key]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, key)
	}
	activations.m[key] = fn
	return nil
}

func MustRegisterActivation(name string, fn Activation) {
	if err := RegisterActivation(name, fn); err != nil {
		panic(err)
	}
}

// GetActivation looks an activation up by case-insensitive name.
func GetActivation(name string) (Activation, error) {
	key := activationKey(name)
	activations.mu.RLock()
	fn, ok := activations.m[key]
	activations.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActivationNotFound, name)
	}
	return fn, nil
}

func ListActivations() []string {
	activations.mu.RLock()
	defer activations.mu.RUnlock()
	names := make([]string, 0, len(activations.m))
	for name := range activations.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationsForTests() {
	activations.mu.Lock()
	activations.m = make(map[string]Activation)
	activations.mu.Unlock()
	registerBuiltInActivations()
}
