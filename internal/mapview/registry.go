package mapview

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/slipbox/internal/apperr"
)

// Registry tracks the open views of one process.
type Registry struct {
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	views map[string]*View
}

// NewRegistry creates an empty registry over src.
func NewRegistry(src Source, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{src: src, logger: logger, views: make(map[string]*View)}
}

// Open starts a new view. The focus note must exist.
func (r *Registry) Open(ctx context.Context, opts Options) (*View, error) {
	if _, ok := r.src.Neighbors(opts.Focus); !ok {
		return nil, apperr.ErrNotFound
	}
	// Views outlive the request that opened them.
	v, err := Open(context.WithoutCancel(ctx), uuid.NewString(), r.src, opts, r.logger)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.views[v.ID()] = v
	r.mu.Unlock()
	return v, nil
}

// Get returns an open view.
func (r *Registry) Get(id string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return v, nil
}

// Close closes and forgets a view.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return apperr.ErrNotFound
	}
	v.Close()
	return nil
}

// Len returns the number of open views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// CloseAll closes every open view.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*View)
	r.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
}
