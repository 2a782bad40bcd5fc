package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore(KindMemory, "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close memory store: %v", err)
	}
}

func TestNewStoreLevelDB(t *testing.T) {
	store, err := NewStore(KindLevelDB, filepath.Join(t.TempDir(), "factory.ldb"))
	if err != nil {
		t.Fatalf("new leveldb store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestDefaultsFromEnvironment(t *testing.T) {
	t.Setenv(storeKindEnv, "memory")
	t.Setenv(dbPathEnv, "")
	if got := DefaultStoreKind(); got != KindMemory {
		t.Fatalf("DefaultStoreKind: got=%s", got)
	}
	if got := DefaultPath(KindSQLite); got != "lrurec.db" {
		t.Fatalf("DefaultPath(sqlite): got=%s", got)
	}
	t.Setenv(dbPathEnv, "/tmp/custom")
	if got := DefaultPath(KindLevelDB); got != "/tmp/custom" {
		t.Fatalf("DefaultPath with env: got=%s", got)
	}
	t.Setenv(storeKindEnv, "")
	if got := DefaultStoreKind(); got != defaultPersistentKind {
		t.Fatalf("DefaultStoreKind fallback: got=%s", got)
	}
}
