package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/value"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// customerUpsert creates an upsert op for a single customer payload.
func customerUpsert(id int64, name string) feed.Op {
	return feed.Upsert("customer", value.Obj(
		value.O("customerId", value.Int(id)),
		value.O("name", value.String(name)),
	))
}
