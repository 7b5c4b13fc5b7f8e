// Package testutil provides shared test helpers for setting up storage
// backends and note sessions.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/storage"
)

// TestSQLite opens a SQLite provider in a temp dir that is closed on cleanup.
func TestSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "slipbox-test.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSession opens a session on a fresh store over p, scoped to "test".
func TestSession(t *testing.T, p storage.Provider, opts ...noteservice.Option) *noteservice.Session {
	t.Helper()
	svc, err := noteservice.Open(context.Background(), notegraph.New(), p, "test", opts...)
	if err != nil {
		t.Fatalf("noteservice.Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}
