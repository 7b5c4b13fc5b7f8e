package noteservice

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/checksum"
	"github.com/starford/slipbox/internal/metrics"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/storage"
)

// fakeProvider records writes and lets tests hold them or make them fail.
type fakeProvider struct {
	mu      sync.Mutex
	initial []models.Note
	calls   []string
	fail    map[string]error
	gate    chan struct{}
	fn      storage.SnapshotFunc
}

func (p *fakeProvider) record(ctx context.Context, op string) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
	return p.fail[op]
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

func (p *fakeProvider) push(notes []models.Note) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	fn(notes)
}

func (p *fakeProvider) Load(context.Context, string) ([]models.Note, error) {
	return p.initial, nil
}

func (p *fakeProvider) Subscribe(_ string, fn storage.SnapshotFunc) (func(), error) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return func() {}, nil
}

func (p *fakeProvider) Create(ctx context.Context, _ string, _ models.Note) error {
	return p.record(ctx, "create")
}

func (p *fakeProvider) UpdateContent(ctx context.Context, _, _, _ string, _ []string) error {
	return p.record(ctx, "update")
}

func (p *fakeProvider) Delete(ctx context.Context, _, _ string) error {
	return p.record(ctx, "delete")
}

func (p *fakeProvider) Link(ctx context.Context, _, _, _ string, _ models.Direction) error {
	return p.record(ctx, "link")
}

func (p *fakeProvider) Unlink(ctx context.Context, _, _, _ string, _ models.Direction) error {
	return p.record(ctx, "unlink")
}

func (p *fakeProvider) Close() error { return nil }

func openSession(t *testing.T, p storage.Provider, opts ...Option) *Session {
	t.Helper()
	s, err := Open(context.Background(), notegraph.New(), p, "test", opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSession_PersistsToSQLite(t *testing.T) {
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "s.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := openSession(t, db)
	a, err := s.Create("Zettel A #ideas")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateAndLink(a.ID, "Zettel B", models.Posterior)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateContent(a.ID, "Zettel A revised #ideas #draft", ""); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	// A second session over the same database sees the same graph.
	s2 := openSession(t, db)
	got, err := s2.Note(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Zettel A revised #ideas #draft" || !slices.Equal(got.Tags, []string{"ideas", "draft"}) {
		t.Errorf("reloaded a = %+v", got.Note)
	}
	if len(got.Posterior) != 1 || got.Posterior[0].ID != b.ID {
		t.Errorf("posterior = %+v", got.Posterior)
	}
	if got.Connections != (Connections{Anterior: 0, Posterior: 1}) {
		t.Errorf("connections = %+v", got.Connections)
	}
}

func TestSession_LocalFirstWriteFailureKeepsState(t *testing.T) {
	p := &fakeProvider{fail: map[string]error{"link": errors.New("backend down")}}
	s := openSession(t, p)

	before := promtest.ToFloat64(metrics.PersistFailures.WithLabelValues("link"))

	a, _ := s.Create("a")
	b, _ := s.Create("b")
	if err := s.Link(a.ID, b.ID, models.Posterior); err != nil {
		t.Fatalf("Link returned persistence error: %v", err)
	}
	flush(t, s)

	n, err := s.Note(a.ID)
	if err != nil || len(n.Posterior) != 1 {
		t.Errorf("local link lost after failed write: %+v, %v", n, err)
	}
	if got := promtest.ToFloat64(metrics.PersistFailures.WithLabelValues("link")) - before; got != 1 {
		t.Errorf("persist failures delta = %v, want 1", got)
	}
	if calls := p.Calls(); !slices.Equal(calls, []string{"create", "create", "link"}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestSession_ValidationErrorsSkipProvider(t *testing.T) {
	p := &fakeProvider{}
	s := openSession(t, p)
	a, _ := s.Create("a")

	if _, err := s.Create("   "); !errors.Is(err, apperr.ErrEmptyContent) {
		t.Errorf("blank create: %v", err)
	}
	if err := s.Link(a.ID, a.ID, models.Posterior); !errors.Is(err, apperr.ErrInvalidLink) {
		t.Errorf("self link: %v", err)
	}
	if err := s.Delete("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete ghost: %v", err)
	}
	if _, err := s.CreateAndLink("ghost", "orphan", models.Anterior); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("create-and-link ghost: %v", err)
	}
	flush(t, s)

	if calls := p.Calls(); !slices.Equal(calls, []string{"create"}) {
		t.Errorf("calls = %v", calls)
	}
	if s.Store().Len() != 1 {
		t.Errorf("Len = %d", s.Store().Len())
	}
}

func TestSession_UpdateIfMatch(t *testing.T) {
	s := openSession(t, &fakeProvider{})
	a, _ := s.Create("first")

	if _, err := s.UpdateContent(a.ID, "second", "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale if-match: %v", err)
	}
	n, err := s.UpdateContent(a.ID, "second #t", checksum.Sum([]byte("first")))
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "second #t" || !slices.Equal(n.Tags, []string{"t"}) {
		t.Errorf("updated = %+v", n)
	}
}

func TestSession_SnapshotDeferredWhileWritesInFlight(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	s := openSession(t, p)

	a, err := s.Create("local")
	if err != nil {
		t.Fatal(err)
	}
	remote := []models.Note{{ID: "r", Content: "remote #x", Timestamp: time.Now(), Links: models.NewLinks()}}
	p.push(remote)

	if !s.Store().Has(a.ID) || s.Store().Has("r") {
		t.Fatal("snapshot installed while a write was in flight")
	}

	close(p.gate)
	flush(t, s)

	if s.Store().Has(a.ID) || !s.Store().Has("r") {
		t.Errorf("deferred snapshot not installed: %v", s.List(""))
	}
	r, _ := s.Store().Get("r")
	if !slices.Equal(r.Tags, []string{"x"}) {
		t.Errorf("snapshot tags not derived: %v", r.Tags)
	}
}

func TestSession_SnapshotWhenIdleReplaces(t *testing.T) {
	p := &fakeProvider{initial: []models.Note{{ID: "a", Content: "a", Links: models.NewLinks()}}}
	s := openSession(t, p)
	if !s.Store().Has("a") {
		t.Fatal("initial load missing")
	}
	p.push([]models.Note{{ID: "b", Content: "b", Links: models.NewLinks()}})
	if s.Store().Has("a") || !s.Store().Has("b") {
		t.Errorf("snapshot not applied: %v", s.List(""))
	}
}

func TestSession_CloseRejectsMutations(t *testing.T) {
	s := openSession(t, &fakeProvider{})
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("create after close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestSession_CloseTimesOutOnStuckWrite(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	s, err := Open(context.Background(), notegraph.New(), p, "test")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Create("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want deadline exceeded", err)
	}
}

func TestSession_Views(t *testing.T) {
	s := openSession(t, &fakeProvider{}, WithMaxDepth(2))

	// a -> b -> c -> d, plus e tagged.
	ids := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d"} {
		n, err := s.Create("note " + name)
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = n.ID
	}
	e, _ := s.Create("tagged #ideas")
	_ = s.Link(ids["a"], ids["b"], models.Posterior)
	_ = s.Link(ids["b"], ids["c"], models.Posterior)
	_ = s.Link(ids["c"], ids["d"], models.Posterior)

	nb, err := s.Neighborhood(ids["a"], 10)
	if err != nil {
		t.Fatal(err)
	}
	if nb.Depth != 2 || len(nb.Nodes) != 3 || len(nb.Edges) != 2 {
		t.Errorf("neighborhood = depth %d, %d nodes, %d edges", nb.Depth, len(nb.Nodes), len(nb.Edges))
	}
	if nb.Edges[0] != (models.Edge{Source: ids["a"], Target: ids["b"]}) {
		t.Errorf("edge orientation = %+v", nb.Edges[0])
	}
	if _, err := s.Neighborhood("ghost", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ghost neighborhood: %v", err)
	}

	tagged := s.List("ideas")
	if len(tagged) != 1 || tagged[0].ID != e.ID {
		t.Errorf("List(ideas) = %+v", tagged)
	}
	if len(s.List("")) != 5 {
		t.Errorf("List() = %d", len(s.List("")))
	}

	cands, err := s.Candidates(ids["a"], models.Posterior)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 {
		t.Errorf("candidates = %d, want 3", len(cands))
	}

	g := s.Graph()
	if len(g.Nodes) != 5 || len(g.Edges) != 3 {
		t.Errorf("graph = %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
}
