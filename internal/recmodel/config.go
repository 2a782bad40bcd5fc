package recmodel

import (
	"encoding/json"
	"errors"
	"fmt"

	"lrurec/internal/embedding"
	"lrurec/internal/head"
	"lrurec/internal/lru"
	"lrurec/internal/nn"
)

var ErrInvalidConfig = errors.New("invalid model config")

// Config describes an encoder. It is stored verbatim with every checkpoint.
type Config struct {
	NumItems      int     `json:"num_items"`
	Width         int     `json:"width"`
	Blocks        int     `json:"blocks"`
	Dropout       float64 `json:"dropout"`
	AttnDropout   float64 `json:"attn_dropout"`
	RMin          float64 `json:"r_min"`
	RMax          float64 `json:"r_max"`
	UseBias       bool    `json:"use_bias"`
	Head          string  `json:"head"`
	Negatives     int     `json:"negatives"`
	EvalNegatives int     `json:"eval_negatives"`
	Positional    string  `json:"positional"`
	Activation    string  `json:"ffn_activation,omitempty"`
	Seed          int64   `json:"seed"`
	Workers       int     `json:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Width:         64,
		Blocks:        2,
		Dropout:       0.1,
		AttnDropout:   0.1,
		RMin:          lru.DefaultRMin,
		RMax:          lru.DefaultRMax,
		UseBias:       true,
		Head:          head.KindFull,
		Negatives:     100,
		EvalNegatives: 10000,
		Positional:    embedding.PositionalNone,
		Activation:    "gelu",
	}
}

// ParseConfig decodes data over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.NumItems <= 0:
		return fmt.Errorf("%w: num_items must be positive, got %d", ErrInvalidConfig, c.NumItems)
	case c.Width <= 0:
		return fmt.Errorf("%w: width must be positive, got %d", ErrInvalidConfig, c.Width)
	case c.Blocks <= 0:
		return fmt.Errorf("%w: blocks must be positive, got %d", ErrInvalidConfig, c.Blocks)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Dropout)
	case c.AttnDropout < 0 || c.AttnDropout >= 1:
		return fmt.Errorf("%w: attn_dropout must be in [0, 1), got %g", ErrInvalidConfig, c.AttnDropout)
	case !(c.RMin >= 0 && c.RMin < c.RMax && c.RMax < 1):
		return fmt.Errorf("%w: need 0 <= r_min < r_max < 1, got %g and %g", ErrInvalidConfig, c.RMin, c.RMax)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}
	switch c.Head {
	case "", head.KindFull:
	case head.KindSampled:
		if c.Negatives <= 0 || c.EvalNegatives <= 0 {
			return fmt.Errorf("%w: sampled head needs positive negatives and eval_negatives", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: head %q", ErrInvalidConfig, c.Head)
	}
	if c.Activation != "" {
		if _, err := nn.GetActivation(c.Activation); err != nil {
			return fmt.Errorf("%w: ffn_activation: %v", ErrInvalidConfig, err)
		}
	}
	switch c.Positional {
	case "", embedding.PositionalNone:
	case embedding.PositionalRoPE:
		if c.Width%2 != 0 {
			return fmt.Errorf("%w: rope needs an even width, got %d", ErrInvalidConfig, c.Width)
		}
	default:
		return fmt.Errorf("%w: positional %q", ErrInvalidConfig, c.Positional)
	}
	return nil
}
