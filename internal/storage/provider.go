// Package storage persists note collections per scope.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/slipbox/internal/models"
)

// SnapshotFunc receives the full note collection of a scope after it changed.
type SnapshotFunc func([]models.Note)

// Provider is the persistence collaborator behind a session. Every method
// addresses one scope (one user's slip-box).
type Provider interface {
	// Load returns every note of scope.
	Load(ctx context.Context, scope string) ([]models.Note, error)
	// Subscribe registers fn for snapshots of scope. The returned function
	// cancels the subscription.
	Subscribe(scope string, fn SnapshotFunc) (func(), error)
	// Create persists a new note.
	Create(ctx context.Context, scope string, n models.Note) error
	// UpdateContent replaces a note's content and derived tags.
	UpdateContent(ctx context.Context, scope, id, content string, tags []string) error
	// Delete removes a note and every link touching it.
	Delete(ctx context.Context, scope, id string) error
	// Link records that source relates to target in direction dir, on both ends.
	Link(ctx context.Context, scope, source, target string, dir models.Direction) error
	// Unlink removes a link recorded by Link.
	Unlink(ctx context.Context, scope, source, target string, dir models.Direction) error
	Close() error
}

// validScope rejects scopes that cannot be used as a file name.
func validScope(scope string) error {
	if scope == "" || scope == "." || scope == ".." || strings.ContainsAny(scope, `/\`+"\x00") {
		return fmt.Errorf("storage: invalid scope %q", scope)
	}
	return nil
}

// orient maps (source, target, dir) to the feeding note and the note it
// feeds into.
func orient(source, target string, dir models.Direction) (from, to string) {
	if dir == models.Anterior {
		return target, source
	}
	return source, target
}

// subscribers fans snapshots out to the registered functions of each scope.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[string]map[int]SnapshotFunc
}

func (s *subscribers) add(scope string, fn SnapshotFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[string]map[int]SnapshotFunc)
	}
	if s.fns[scope] == nil {
		s.fns[scope] = make(map[int]SnapshotFunc)
	}
	id := s.next
	s.next++
	s.fns[scope][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns[scope], id)
			if len(s.fns[scope]) == 0 {
				delete(s.fns, scope)
			}
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) has(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns[scope]) > 0
}

func (s *subscribers) publish(scope string, notes []models.Note) {
	s.mu.Lock()
	fns := make([]SnapshotFunc, 0, len(s.fns[scope]))
	for _, fn := range s.fns[scope] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		snapshot := make([]models.Note, len(notes))
		for i, n := range notes {
			snapshot[i] = n.Clone()
		}
		fn(snapshot)
	}
}
