package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCheckpoints(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveCheckpoint(context.Background(), testCheckpoint("a", time.Time{})); err == nil {
		t.Fatal("expected error saving before init")
	}
}
