package storage

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindMemory  = "memory"
	KindLevelDB = "leveldb"
	KindSQLite  = "sqlite"

	storeKindEnv = "LRUREC_STORE"
	dbPathEnv    = "LRUREC_DB_PATH"
)

// NewStore builds an uninitialized store. path is the database file for
// sqlite and the database directory for leveldb.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindLevelDB:
		return NewLevelDBStore(path), nil
	case KindSQLite:
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// DefaultStoreKind reads LRUREC_STORE, falling back to the best backend
// compiled into this build.
func DefaultStoreKind() string {
	if kind := strings.TrimSpace(os.Getenv(storeKindEnv)); kind != "" {
		return kind
	}
	return defaultPersistentKind
}

// DefaultPath reads LRUREC_DB_PATH, falling back to a per-backend name in the
// working directory. The memory backend needs no path.
func DefaultPath(kind string) string {
	if path := strings.TrimSpace(os.Getenv(dbPathEnv)); path != "" {
		return path
	}
	switch kind {
	case KindLevelDB:
		return "lrurec.ldb"
	case KindSQLite:
		return "lrurec.db"
	default:
		return ""
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
