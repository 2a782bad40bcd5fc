package model

import (
	"encoding/json"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// NamedTensor is one flattened parameter array. Imag is set only for
// complex-valued parameters and has the same length as Real.
type NamedTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Real  []float64 `json:"real"`
	Imag  []float64 `json:"imag,omitempty"`
}

func (t NamedTensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t NamedTensor) IsComplex() bool {
	return t.Imag != nil
}

type ParameterSet struct {
	Tensors []NamedTensor `json:"tensors"`
}

// Lookup returns the tensor with the given name.
func (p ParameterSet) Lookup(name string) (NamedTensor, bool) {
	for _, t := range p.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return NamedTensor{}, false
}

// Count is the number of scalar parameters, counting a complex value as two.
func (p ParameterSet) Count() int {
	n := 0
	for _, t := range p.Tensors {
		n += len(t.Real) + len(t.Imag)
	}
	return n
}

// Checkpoint is a persisted encoder: its configuration and every parameter.
type Checkpoint struct {
	VersionedRecord
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	CreatedAt  time.Time       `json:"created_at"`
	Config     json.RawMessage `json:"config"`
	Parameters ParameterSet    `json:"parameters"`
}

// CheckpointSummary is the listing view of a checkpoint.
type CheckpointSummary struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	CreatedAt      time.Time `json:"created_at"`
	ParameterCount int       `json:"parameter_count"`
	PayloadBytes   int       `json:"payload_bytes"`
}

func (c Checkpoint) Summary(payloadBytes int) CheckpointSummary {
	return CheckpointSummary{
		ID:             c.ID,
		Label:          c.Label,
		CreatedAt:      c.CreatedAt,
		ParameterCount: c.Parameters.Count(),
		PayloadBytes:   payloadBytes,
	}
}
