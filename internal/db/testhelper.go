package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestStore returns a migrated metadata store with a two-connection read
// pool in t.TempDir(), closed when the test ends.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "maskflow-meta.sqlite"), Options{ReadPoolSize: 2, Migrate: true})
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// OpenTestSQLite is OpenTestStore for callers that only need the two pools.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()
	s := OpenTestStore(t)
	return s.Write, s.Read
}
