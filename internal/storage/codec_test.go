package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecodeCheckpointFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("checkpoint_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	checkpoint, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if checkpoint.ID != "checkpoint-minimal-1" || checkpoint.CreatedAt.Year() != 2026 {
		t.Fatalf("unexpected checkpoint: %+v", checkpoint)
	}
	bias, ok := checkpoint.Parameters.Lookup("blocks.0.lru.in_proj.bias")
	if !ok || !bias.IsComplex() || bias.Size() != 4 {
		t.Fatalf("unexpected bias tensor: %+v", bias)
	}
	if got := checkpoint.Parameters.Count(); got != 14 {
		t.Fatalf("unexpected parameter count: %d", got)
	}
}

func TestDecodeCheckpointRejectsOldSchema(t *testing.T) {
	data, err := os.ReadFile(fixturePath("checkpoint_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestEncodeDecodeCheckpointPreservesParameters(t *testing.T) {
	input := testCheckpoint("round", time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC))
	data, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || output.Parameters.Count() != input.Parameters.Count() {
		t.Fatalf("unexpected decoded checkpoint: %+v", output)
	}
	if _, err := DecodeCheckpoint([]byte("{")); err == nil {
		t.Fatal("expected malformed payload error")
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
