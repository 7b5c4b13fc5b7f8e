// Package notegraph owns the note collection and keeps its link graph
// consistent.
//
// Links are stored by id on both endpoints. Every mutation runs under the
// store's write lock, so readers never see one side of a link without the
// other.
package notegraph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/metrics"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/parser"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeLinked   ChangeKind = "linked"
	ChangeUnlinked ChangeKind = "unlinked"
	ChangeReplaced ChangeKind = "replaced"
)

// Change describes a committed mutation. IDs lists the notes whose state
// changed; it is empty for ChangeReplaced.
type Change struct {
	Kind ChangeKind
	IDs  []string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the note id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock overrides the creation timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// Store is the in-memory note graph.
type Store struct {
	mu    sync.RWMutex
	notes map[string]*models.Note

	obsMu     sync.Mutex
	observers map[int]func(Change)
	nextObs   int

	newID func() string
	now   func() time.Time
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		notes:     make(map[string]*models.Note),
		observers: make(map[int]func(Change)),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to be called after every committed mutation.
// fn runs on the mutating goroutine after the lock is released, so it may
// read from the store. The returned function removes the observer.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(c Change) {
	metrics.StoreMutations.WithLabelValues(string(c.Kind)).Inc()

	s.obsMu.Lock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Create captures a new note. Content is trimmed; blank content is refused
// with apperr.ErrEmptyContent.
func (s *Store) Create(content string) (models.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Note{}, fmt.Errorf("notegraph: create: %w", apperr.ErrEmptyContent)
	}

	n := &models.Note{
		ID:        s.newID(),
		Content:   content,
		Tags:      parser.Tags(content),
		Timestamp: s.now(),
		Links:     models.NewLinks(),
	}

	s.mu.Lock()
	if _, dup := s.notes[n.ID]; dup {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("notegraph: create: duplicate id %s", n.ID)
	}
	s.notes[n.ID] = n
	out := n.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCreated, IDs: []string{n.ID}})
	return out, nil
}

// UpdateContent replaces the content of id and re-derives its tags.
func (s *Store) UpdateContent(id, content string) error {
	s.mu.Lock()
	n, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("notegraph: update %s: %w", id, apperr.ErrNotFound)
	}
	n.Content = content
	n.Tags = parser.Tags(content)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, IDs: []string{id}})
	return nil
}

// Delete removes id and strips it from every other note's link sets.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	n, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("notegraph: delete %s: %w", id, apperr.ErrNotFound)
	}
	touched := []string{id}
	for _, other := range n.Links.Neighbors() {
		if o, ok := s.notes[other]; ok {
			o.Links.Anterior.Remove(id)
			o.Links.Posterior.Remove(id)
			touched = append(touched, other)
		}
	}
	delete(s.notes, id)
	// Sweep the rest in case a neighbour was not reachable from n's own sets.
	for _, o := range s.notes {
		a := o.Links.Anterior.Remove(id)
		p := o.Links.Posterior.Remove(id)
		if a || p {
			touched = append(touched, o.ID)
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDeleted, IDs: touched})
	return nil
}

// Link adds target to source's dir set and source to target's reverse set.
// Re-linking an existing pair changes nothing.
func (s *Store) Link(sourceID, targetID string, dir models.Direction) error {
	if err := s.mutateLink(sourceID, targetID, dir, true); err != nil {
		return fmt.Errorf("notegraph: link %s -> %s: %w", sourceID, targetID, err)
	}
	return nil
}

// Unlink removes the link added by Link. Removing an absent link is a no-op.
func (s *Store) Unlink(sourceID, targetID string, dir models.Direction) error {
	if err := s.mutateLink(sourceID, targetID, dir, false); err != nil {
		return fmt.Errorf("notegraph: unlink %s -> %s: %w", sourceID, targetID, err)
	}
	return nil
}

func (s *Store) mutateLink(sourceID, targetID string, dir models.Direction, add bool) error {
	if !dir.Valid() {
		return fmt.Errorf("direction %q: %w", dir, apperr.ErrInvalidLink)
	}
	if sourceID == targetID {
		return fmt.Errorf("self-link: %w", apperr.ErrInvalidLink)
	}

	s.mu.Lock()
	src, ok := s.notes[sourceID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("source %s: %w", sourceID, apperr.ErrNotFound)
	}
	dst, ok := s.notes[targetID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("target %s: %w", targetID, apperr.ErrNotFound)
	}

	var changed bool
	if add {
		a := src.Links.Get(dir).Add(targetID)
		b := dst.Links.Get(dir.Reverse()).Add(sourceID)
		changed = a || b
	} else {
		a := src.Links.Get(dir).Remove(targetID)
		b := dst.Links.Get(dir.Reverse()).Remove(sourceID)
		changed = a || b
	}
	s.mu.Unlock()

	if changed {
		kind := ChangeLinked
		if !add {
			kind = ChangeUnlinked
		}
		s.notify(Change{Kind: kind, IDs: []string{sourceID, targetID}})
	}
	return nil
}

// Get returns a copy of the note with the given id.
func (s *Store) Get(id string) (models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return models.Note{}, fmt.Errorf("notegraph: get %s: %w", id, apperr.ErrNotFound)
	}
	return n.Clone(), nil
}

// Has reports whether id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.notes[id]
	return ok
}

// Len returns the number of notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// List returns copies of all notes, newest first.
func (s *Store) List() []models.Note {
	s.mu.RLock()
	out := make([]models.Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n.Clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

// ListByTag returns the notes carrying tag, newest first.
func (s *Store) ListByTag(tag string) []models.Note {
	s.mu.RLock()
	var out []models.Note
	for _, n := range s.notes {
		if slices.Contains(n.Tags, tag) {
			out = append(out, n.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

// Neighbors returns the ids linked to id in either direction.
// The boolean is false when id does not exist.
func (s *Store) Neighbors(id string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, false
	}
	return n.Links.Neighbors(), true
}

// LinkCandidates returns the notes that id could still be linked to in
// direction dir: everything except id itself and notes already in that set.
func (s *Store) LinkCandidates(id string, dir models.Direction) ([]models.Note, error) {
	s.mu.RLock()
	n, ok := s.notes[id]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("notegraph: candidates %s: %w", id, apperr.ErrNotFound)
	}
	existing := n.Links.Get(dir)
	var out []models.Note
	for _, o := range s.notes {
		if o.ID == id || existing.Has(o.ID) {
			continue
		}
		out = append(out, o.Clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

// Replace installs a full snapshot, discarding local state. The snapshot is
// repaired on the way in: tags are re-derived, self-links and links to
// unknown notes are dropped and every remaining link is made symmetric.
func (s *Store) Replace(notes []models.Note) {
	next := repair(notes)

	s.mu.Lock()
	s.notes = next
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced})
}

func repair(notes []models.Note) map[string]*models.Note {
	next := make(map[string]*models.Note, len(notes))
	for _, in := range notes {
		if in.ID == "" {
			continue
		}
		n := in.Clone()
		n.Tags = parser.Tags(n.Content)
		n.Links = models.NewLinks()
		next[n.ID] = &n
	}

	for _, in := range notes {
		if _, ok := next[in.ID]; !ok {
			continue
		}
		for id := range in.Links.Posterior {
			addEdge(next, in.ID, id)
		}
		for id := range in.Links.Anterior {
			addEdge(next, id, in.ID)
		}
	}
	return next
}

// addEdge records that from feeds into to on both endpoints.
func addEdge(notes map[string]*models.Note, from, to string) {
	if from == to {
		return
	}
	a, okA := notes[from]
	b, okB := notes[to]
	if !okA || !okB {
		return
	}
	a.Links.Posterior.Add(to)
	b.Links.Anterior.Add(from)
}

func sortNewestFirst(notes []models.Note) {
	slices.SortFunc(notes, func(a, b models.Note) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
