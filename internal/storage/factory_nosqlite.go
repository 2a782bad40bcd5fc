//go:build !sqlite

package storage

import "fmt"

const defaultPersistentKind = KindLevelDB

func newSQLiteStore(_ string) (Store, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
