// Package models defines the domain types for slipbox.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/starford/slipbox/internal/apperr"
)

// Direction is one of the two link roles a note plays for another note.
type Direction string

const (
	// Anterior links point at the notes that feed into a note.
	Anterior Direction = "anterior"
	// Posterior links point at the notes a note feeds into.
	Posterior Direction = "posterior"
)

// Reverse returns the role the other endpoint of a link plays.
func (d Direction) Reverse() Direction {
	if d == Anterior {
		return Posterior
	}
	return Anterior
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Anterior || d == Posterior
}

// ParseDirection converts s to a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.Valid() {
		return "", fmt.Errorf("link direction %q: %w", s, apperr.ErrInvalidLink)
	}
	return d, nil
}

// IDSet is an unordered set of note identifiers.
// It marshals to a sorted JSON array.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether it was absent.
func (s IDSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s IDSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array, dropping duplicates.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Links holds both link roles of a note.
type Links struct {
	Anterior  IDSet `json:"anterior"`
	Posterior IDSet `json:"posterior"`
}

// NewLinks returns empty, non-nil link sets.
func NewLinks() Links {
	return Links{Anterior: IDSet{}, Posterior: IDSet{}}
}

// Get returns the set for direction d.
func (l Links) Get(d Direction) IDSet {
	if d == Anterior {
		return l.Anterior
	}
	return l.Posterior
}

// Has reports whether id appears in either role.
func (l Links) Has(id string) bool {
	return l.Anterior.Has(id) || l.Posterior.Has(id)
}

// Neighbors returns the undirected union of both roles, sorted.
func (l Links) Neighbors() []string {
	union := l.Anterior.Clone()
	for id := range l.Posterior {
		union[id] = struct{}{}
	}
	return union.Sorted()
}

// Clone deep-copies both sets.
func (l Links) Clone() Links {
	return Links{Anterior: l.Anterior.Clone(), Posterior: l.Posterior.Clone()}
}

// Note is an atomic slip-box entry.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
	Links     Links     `json:"links"`
}

// Clone returns a deep copy of n.
func (n Note) Clone() Note {
	out := n
	out.Tags = append([]string{}, n.Tags...)
	out.Links = n.Links.Clone()
	return out
}

// Summary is a lightweight representation used in listings and link stacks.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

// Edge is a directed link from the note that feeds in (Source) to the note
// it feeds into (Target).
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
