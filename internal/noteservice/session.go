// Package noteservice is the session facade over the in-memory note graph
// and its persistence provider.
//
// Mutations are applied to the local store first and answered from it. The
// matching provider write is queued and runs in the background in submission
// order; a failed write is logged and counted and never rolls back local
// state. Snapshots pushed by the provider replace local state (last writer
// wins), but only once the write queue has drained, so an echo of an older
// write cannot hide a newer local change.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/checksum"
	"github.com/starford/slipbox/internal/metrics"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/storage"
)

// ErrClosed is returned for mutations after Close.
var ErrClosed = errors.New("noteservice: session closed")

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithQueueSize bounds the number of provider writes waiting to run.
// Mutations block once the queue is full.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each provider write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxDepth caps the depth accepted by Neighborhood.
func WithMaxDepth(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

type write struct {
	op string
	fn func(ctx context.Context) error
}

// Session binds one scope of a provider to a note store.
type Session struct {
	store    *notegraph.Store
	provider storage.Provider
	scope    string
	logger   *slog.Logger

	queueSize    int
	writeTimeout time.Duration
	maxDepth     int

	queue   chan write
	workers *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders local mutations against snapshot installs.
	mu          sync.Mutex
	inflight    int
	pending     []models.Note
	hasPending  bool
	closed      bool
	unsubscribe func()

	// sending counts mutations between releasing mu and queueing their write.
	sending sync.WaitGroup
}

// Open loads scope from provider into store and subscribes to its snapshots.
func Open(ctx context.Context, store *notegraph.Store, provider storage.Provider, scope string, opts ...Option) (*Session, error) {
	s := &Session{
		store:        store,
		provider:     provider,
		scope:        scope,
		logger:       slog.Default(),
		queueSize:    256,
		writeTimeout: 10 * time.Second,
		maxDepth:     8,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("scope", scope))

	notes, err := provider.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("noteservice: load %s: %w", scope, err)
	}
	store.Replace(notes)
	s.logger.Info("session loaded", slog.Int("notes", store.Len()))

	unsub, err := provider.Subscribe(scope, s.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("noteservice: subscribe %s: %w", scope, err)
	}
	s.unsubscribe = unsub

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.queue = make(chan write, s.queueSize)
	s.workers = &errgroup.Group{}
	s.workers.Go(s.drain)
	return s, nil
}

// Store returns the underlying note graph.
func (s *Session) Store() *notegraph.Store { return s.store }

// Scope returns the scope the session is bound to.
func (s *Session) Scope() string { return s.scope }

// MaxDepth returns the largest neighbourhood depth the session serves.
func (s *Session) MaxDepth() int { return s.maxDepth }

func (s *Session) drain() error {
	for w := range s.queue {
		ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
		err := w.fn(ctx)
		cancel()
		if err != nil {
			metrics.PersistFailures.WithLabelValues(w.op).Inc()
			s.logger.Warn("persist failed", slog.String("op", w.op), slog.String("error", err.Error()))
		}
		s.finish()
	}
	return nil
}

// finish retires one write and installs a deferred snapshot once the queue
// is empty.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 && s.hasPending {
		notes := s.pending
		s.pending, s.hasPending = nil, false
		s.install(notes)
	}
}

func (s *Session) onSnapshot(notes []models.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.inflight > 0 {
		s.pending, s.hasPending = notes, true
		return
	}
	s.install(notes)
}

// install runs under s.mu.
func (s *Session) install(notes []models.Note) {
	s.store.Replace(notes)
	metrics.SnapshotsApplied.Inc()
	s.logger.Debug("snapshot applied", slog.Int("notes", len(notes)))
}

// mutate applies local under s.mu and, if it succeeds, queues the provider
// write returned by it.
func (s *Session) mutate(op string, local func() (func(ctx context.Context) error, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	remote, err := local()
	if err != nil || remote == nil {
		s.mu.Unlock()
		return err
	}
	s.inflight++
	s.sending.Add(1)
	s.mu.Unlock()

	// Sending outside the lock lets the writer retire earlier writes while
	// the queue is full.
	s.queue <- write{op: op, fn: remote}
	s.sending.Done()
	return nil
}

// Create captures a new note.
func (s *Session) Create(content string) (models.Note, error) {
	var n models.Note
	err := s.mutate("create", func() (func(context.Context) error, error) {
		var err error
		n, err = s.store.Create(content)
		if err != nil {
			return nil, err
		}
		persisted := n.Clone()
		return func(ctx context.Context) error {
			return s.provider.Create(ctx, s.scope, persisted)
		}, nil
	})
	return n, err
}

// CreateAndLink captures a new note and links it to sourceID in direction
// dir. Nothing is created when sourceID does not exist.
func (s *Session) CreateAndLink(sourceID, content string, dir models.Direction) (models.Note, error) {
	if !dir.Valid() {
		return models.Note{}, fmt.Errorf("noteservice: direction %q: %w", dir, apperr.ErrInvalidLink)
	}
	if !s.store.Has(sourceID) {
		return models.Note{}, fmt.Errorf("noteservice: source %s: %w", sourceID, apperr.ErrNotFound)
	}
	n, err := s.Create(content)
	if err != nil {
		return models.Note{}, err
	}
	if err := s.Link(sourceID, n.ID, dir); err != nil {
		return n, err
	}
	return s.store.Get(n.ID)
}

// UpdateContent replaces the content of id. When ifMatch is non-empty it
// must equal the checksum of the current content, otherwise
// apperr.ErrConflict is returned and nothing changes.
func (s *Session) UpdateContent(id, content, ifMatch string) (models.Note, error) {
	var n models.Note
	err := s.mutate("update", func() (func(context.Context) error, error) {
		cur, err := s.store.Get(id)
		if err != nil {
			return nil, err
		}
		if ifMatch != "" && ifMatch != checksum.Sum([]byte(cur.Content)) {
			return nil, fmt.Errorf("noteservice: update %s: %w", id, apperr.ErrConflict)
		}
		if err := s.store.UpdateContent(id, content); err != nil {
			return nil, err
		}
		n, _ = s.store.Get(id)
		tags := append([]string{}, n.Tags...)
		return func(ctx context.Context) error {
			return s.provider.UpdateContent(ctx, s.scope, id, content, tags)
		}, nil
	})
	return n, err
}

// Delete removes id and cascades it out of every link set.
func (s *Session) Delete(id string) error {
	return s.mutate("delete", func() (func(context.Context) error, error) {
		if err := s.store.Delete(id); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return s.provider.Delete(ctx, s.scope, id)
		}, nil
	})
}

// Link relates source to target in direction dir.
func (s *Session) Link(source, target string, dir models.Direction) error {
	return s.mutate("link", func() (func(context.Context) error, error) {
		if err := s.store.Link(source, target, dir); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return s.provider.Link(ctx, s.scope, source, target, dir)
		}, nil
	})
}

// Unlink removes a link created by Link.
func (s *Session) Unlink(source, target string, dir models.Direction) error {
	return s.mutate("unlink", func() (func(context.Context) error, error) {
		if err := s.store.Unlink(source, target, dir); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return s.provider.Unlink(ctx, s.scope, source, target, dir)
		}, nil
	})
}

// Flush blocks until every write queued so far has run or ctx is done.
func (s *Session) Flush(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		s.mu.Lock()
		n := s.inflight
		s.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops accepting mutations, drops the provider subscription and
// waits for queued writes. If ctx ends first the remaining writes are
// cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.sending.Wait()
	close(s.queue)

	done := make(chan error, 1)
	go func() { done <- s.workers.Wait() }()
	select {
	case err := <-done:
		s.cancel()
		return err
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("noteservice: close: %w", ctx.Err())
	}
}
