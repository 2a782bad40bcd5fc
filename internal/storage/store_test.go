package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"lrurec/internal/model"
)

func testCheckpoint(id string, created time.Time) model.Checkpoint {
	return model.Checkpoint{
		VersionedRecord: Versioned(),
		ID:              id,
		Label:           "label-" + id,
		CreatedAt:       created,
		Config:          []byte(`{"num_items":3,"width":2}`),
		Parameters: model.ParameterSet{Tensors: []model.NamedTensor{
			{Name: "embedding.table", Shape: []int{4, 2}, Real: []float64{0, 0, 1, 2, 3, 4, 5, 6}},
			{Name: "blocks.0.lru.in_proj.bias", Shape: []int{2}, Real: []float64{0.5, 0.25}, Imag: []float64{-1, 1}},
		}},
	}
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := testCheckpoint("a", base)
	newer := testCheckpoint("b", base.Add(time.Hour))
	tied := testCheckpoint("c", base.Add(time.Hour))
	for _, c := range []model.Checkpoint{older, tied, newer} {
		if err := store.SaveCheckpoint(ctx, c); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint b")
	}
	if loaded.Label != "label-b" || !loaded.CreatedAt.Equal(newer.CreatedAt) {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}
	bias, ok := loaded.Parameters.Lookup("blocks.0.lru.in_proj.bias")
	if !ok || len(bias.Imag) != 2 || bias.Imag[1] != 1 || bias.Real[0] != 0.5 {
		t.Fatalf("unexpected complex tensor: %+v", bias)
	}
	if string(loaded.Config) != `{"num_items":3,"width":2}` {
		t.Fatalf("unexpected config: %s", loaded.Config)
	}

	loaded.Parameters.Tensors[0].Real[2] = 99
	again, _, err := store.GetCheckpoint(ctx, "b")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Parameters.Tensors[0].Real[2] != 1 {
		t.Fatal("store returned shared parameter storage")
	}

	if _, ok, err := store.GetCheckpoint(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}

	summaries, err := store.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	order := []string{"b", "c", "a"}
	if len(summaries) != len(order) {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	for i, id := range order {
		if summaries[i].ID != id {
			t.Fatalf("summary %d: got=%s want=%s", i, summaries[i].ID, id)
		}
		if summaries[i].ParameterCount != 12 || summaries[i].PayloadBytes <= 0 {
			t.Fatalf("unexpected summary: %+v", summaries[i])
		}
	}

	updated := testCheckpoint("a", base)
	updated.Label = "renamed"
	if err := store.SaveCheckpoint(ctx, updated); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _, _ := store.GetCheckpoint(ctx, "a"); got.Label != "renamed" {
		t.Fatalf("overwrite not applied: %+v", got)
	}

	if err := store.DeleteCheckpoint(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteCheckpoint(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	if summaries, _ := store.ListCheckpoints(ctx); len(summaries) != 2 {
		t.Fatalf("expected two summaries after delete, got %d", len(summaries))
	}

	invalid := testCheckpoint("", base)
	if err := store.SaveCheckpoint(ctx, invalid); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got: %v", err)
	}
	stale := testCheckpoint("stale", base)
	stale.CodecVersion = 0
	if err := store.SaveCheckpoint(ctx, stale); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}
