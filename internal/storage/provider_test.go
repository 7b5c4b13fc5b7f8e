package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tempSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "slipbox.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tempFile(t *testing.T) (*File, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := OpenFile(dir, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, dir
}

func providers(t *testing.T) map[string]Provider {
	t.Helper()
	f, _ := tempFile(t)
	return map[string]Provider{
		"sqlite": tempSQLite(t),
		"file":   f,
	}
}

func note(id, content string, ts time.Time) models.Note {
	return models.Note{ID: id, Content: content, Tags: []string{}, Timestamp: ts, Links: models.NewLinks()}
}

func byID(notes []models.Note) map[string]models.Note {
	out := make(map[string]models.Note, len(notes))
	for _, n := range notes {
		out[n.ID] = n
	}
	return out
}

func TestProvider_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"a", "b", "c"} {
				if err := p.Create(ctx, "alice", note(id, "note "+id, ts.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("Create %s: %v", id, err)
				}
			}
			if err := p.UpdateContent(ctx, "alice", "a", "edited #x", []string{"x"}); err != nil {
				t.Fatalf("UpdateContent: %v", err)
			}
			if err := p.Link(ctx, "alice", "a", "b", models.Posterior); err != nil {
				t.Fatalf("Link posterior: %v", err)
			}
			if err := p.Link(ctx, "alice", "a", "c", models.Anterior); err != nil {
				t.Fatalf("Link anterior: %v", err)
			}
			// Idempotent.
			if err := p.Link(ctx, "alice", "b", "a", models.Anterior); err != nil {
				t.Fatalf("Link repeat: %v", err)
			}

			notes, err := p.Load(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			got := byID(notes)
			if len(got) != 3 {
				t.Fatalf("loaded %d notes", len(got))
			}
			a := got["a"]
			if a.Content != "edited #x" || !slices.Equal(a.Tags, []string{"x"}) {
				t.Errorf("a = %+v", a)
			}
			if !a.Timestamp.Equal(ts) {
				t.Errorf("timestamp = %v, want %v", a.Timestamp, ts)
			}
			if !slices.Equal(a.Links.Posterior.Sorted(), []string{"b"}) || !slices.Equal(a.Links.Anterior.Sorted(), []string{"c"}) {
				t.Errorf("a links = %+v", a.Links)
			}
			if !got["b"].Links.Anterior.Has("a") || !got["c"].Links.Posterior.Has("a") {
				t.Errorf("reverse links missing: b=%+v c=%+v", got["b"].Links, got["c"].Links)
			}

			if err := p.Unlink(ctx, "alice", "b", "a", models.Anterior); err != nil {
				t.Fatalf("Unlink: %v", err)
			}
			if err := p.Delete(ctx, "alice", "c"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			notes, _ = p.Load(ctx, "alice")
			got = byID(notes)
			if _, ok := got["c"]; ok {
				t.Error("c still stored")
			}
			if len(got["a"].Links.Neighbors()) != 0 || len(got["b"].Links.Neighbors()) != 0 {
				t.Errorf("links left after unlink/delete: a=%+v b=%+v", got["a"].Links, got["b"].Links)
			}

			other, err := p.Load(ctx, "bob")
			if err != nil || len(other) != 0 {
				t.Errorf("bob = %v, %v; scopes leaked", other, err)
			}
		})
	}
}

func TestProvider_Errors(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_ = p.Create(ctx, "s", note("a", "a", time.Now()))

			if err := p.UpdateContent(ctx, "s", "ghost", "x", nil); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("update missing: %v", err)
			}
			if err := p.Delete(ctx, "s", "ghost"); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("delete missing: %v", err)
			}
			if err := p.Link(ctx, "s", "a", "ghost", models.Posterior); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("link missing: %v", err)
			}
			if err := p.Link(ctx, "s", "a", "a", models.Posterior); !errors.Is(err, apperr.ErrInvalidLink) {
				t.Errorf("self link: %v", err)
			}
		})
	}
}

func TestSQLite_SubscribeAfterCommit(t *testing.T) {
	ctx := context.Background()
	db := tempSQLite(t)

	var mu sync.Mutex
	var snapshots [][]models.Note
	cancel, err := db.Subscribe("s", func(notes []models.Note) {
		mu.Lock()
		snapshots = append(snapshots, notes)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = db.Create(ctx, "s", note("a", "a", time.Now()))
	_ = db.Create(ctx, "other", note("z", "z", time.Now()))
	cancel()
	_ = db.Create(ctx, "s", note("b", "b", time.Now()))

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) != 1 || len(snapshots[0]) != 1 || snapshots[0][0].ID != "a" {
		t.Errorf("snapshots = %+v", snapshots)
	}
}

func TestSQLite_FailedWriteDoesNotNotify(t *testing.T) {
	db := tempSQLite(t)
	called := false
	_, _ = db.Subscribe("s", func([]models.Note) { called = true })
	_ = db.Delete(context.Background(), "s", "ghost")
	if called {
		t.Error("subscriber notified for a rolled-back write")
	}
}

func TestFile_ExternalChangeDelivered(t *testing.T) {
	ctx := context.Background()
	f, dir := tempFile(t)
	if err := f.Create(ctx, "s", note("a", "a", time.Now())); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var last []models.Note
	calls := 0
	_, err := f.Subscribe("s", func(notes []models.Note) {
		mu.Lock()
		last = notes
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	// Own writes are not echoed.
	if err := f.Create(ctx, "s", note("b", "b", time.Now())); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * reloadDebounce)
	mu.Lock()
	if calls != 0 {
		t.Errorf("own write delivered %d snapshots", calls)
	}
	mu.Unlock()

	external := `{"scope":"s","notes":[{"id":"x","content":"from sync #remote","tags":["remote"],"timestamp":"2024-01-01T00:00:00Z","links":{"anterior":[],"posterior":[]}}]}`
	if err := os.WriteFile(filepath.Join(dir, "s.json"), []byte(external), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "external snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].ID == "x"
	})
}

func TestFile_InvalidScope(t *testing.T) {
	f, _ := tempFile(t)
	for _, scope := range []string{"", "..", "a/b", `a\b`} {
		if _, err := f.Load(context.Background(), scope); err == nil {
			t.Errorf("Load(%q) accepted", scope)
		}
	}
}

func TestFile_LeavesNoTempFiles(t *testing.T) {
	f, dir := tempFile(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := f.Create(context.Background(), "s", note(id, id, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if !slices.Equal(names, []string{"s.json"}) {
		t.Errorf("dir = %v", names)
	}
}
