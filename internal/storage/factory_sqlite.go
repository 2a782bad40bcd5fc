//go:build sqlite

package storage

const defaultPersistentKind = KindSQLite

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
