package noteservice

import (
	"fmt"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/checksum"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/parser"
	"github.com/starford/slipbox/internal/subgraph"
)

// NoteDetail is a note with its link stacks resolved to summaries.
type NoteDetail struct {
	models.Note
	Title       string           `json:"title"`
	Checksum    string           `json:"checksum"`
	Anterior    []models.Summary `json:"anterior"`
	Posterior   []models.Summary `json:"posterior"`
	Connections Connections      `json:"connections"`
}

// Connections counts a note's links per direction.
type Connections struct {
	Anterior  int `json:"anterior"`
	Posterior int `json:"posterior"`
}

// Neighborhood is the subgraph within Depth hops of Focus.
type Neighborhood struct {
	Focus  string           `json:"focus"`
	Depth  int              `json:"depth"`
	Layers [][]string       `json:"layers"`
	Nodes  []models.Summary `json:"nodes"`
	Edges  []models.Edge    `json:"edges"`
}

// Graph is the whole note graph.
type Graph struct {
	Nodes []models.Summary `json:"nodes"`
	Edges []models.Edge    `json:"edges"`
}

// Summarize builds the list representation of n.
func Summarize(n models.Note) models.Summary {
	return models.Summary{
		ID:        n.ID,
		Title:     parser.Title(n.Content),
		Tags:      nonNil(n.Tags),
		Timestamp: n.Timestamp,
	}
}

// Note returns id with resolved link stacks. Links to notes that no longer
// exist are skipped.
func (s *Session) Note(id string) (NoteDetail, error) {
	n, err := s.store.Get(id)
	if err != nil {
		return NoteDetail{}, err
	}
	return NoteDetail{
		Note:      n,
		Title:     parser.Title(n.Content),
		Checksum:  checksum.Sum([]byte(n.Content)),
		Anterior:  s.resolve(n.Links.Anterior.Sorted()),
		Posterior: s.resolve(n.Links.Posterior.Sorted()),
		Connections: Connections{
			Anterior:  len(n.Links.Anterior),
			Posterior: len(n.Links.Posterior),
		},
	}, nil
}

func (s *Session) resolve(ids []string) []models.Summary {
	out := make([]models.Summary, 0, len(ids))
	for _, id := range ids {
		n, err := s.store.Get(id)
		if err != nil {
			continue
		}
		out = append(out, Summarize(n))
	}
	return out
}

// List returns note summaries, newest first, optionally filtered by tag.
func (s *Session) List(tag string) []models.Summary {
	var notes []models.Note
	if tag != "" {
		notes = s.store.ListByTag(tag)
	} else {
		notes = s.store.List()
	}
	out := make([]models.Summary, len(notes))
	for i, n := range notes {
		out[i] = Summarize(n)
	}
	return out
}

// Candidates returns the notes id could still be linked to in direction dir.
func (s *Session) Candidates(id string, dir models.Direction) ([]models.Summary, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("noteservice: direction %q: %w", dir, apperr.ErrInvalidLink)
	}
	notes, err := s.store.LinkCandidates(id, dir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Summary, len(notes))
	for i, n := range notes {
		out[i] = Summarize(n)
	}
	return out, nil
}

// Neighborhood returns the notes within depth hops of focus. Depth is
// clamped to [1, MaxDepth].
func (s *Session) Neighborhood(focus string, depth int) (Neighborhood, error) {
	if !s.store.Has(focus) {
		return Neighborhood{}, fmt.Errorf("noteservice: neighborhood %s: %w", focus, apperr.ErrNotFound)
	}
	depth = min(max(depth, 1), s.maxDepth)

	layers := subgraph.Layers(s.store, focus, depth)
	visible := models.IDSet{}
	var notes []models.Note
	for _, layer := range layers {
		for _, id := range layer {
			n, err := s.store.Get(id)
			if err != nil {
				continue
			}
			visible.Add(id)
			notes = append(notes, n)
		}
	}

	nodes := make([]models.Summary, len(notes))
	for i, n := range notes {
		nodes[i] = Summarize(n)
	}
	return Neighborhood{
		Focus:  focus,
		Depth:  depth,
		Layers: layers,
		Nodes:  nodes,
		Edges:  nonNil(subgraph.Edges(notes, visible)),
	}, nil
}

// Graph returns every note and link.
func (s *Session) Graph() Graph {
	notes := s.store.List()
	visible := models.IDSet{}
	nodes := make([]models.Summary, len(notes))
	for i, n := range notes {
		visible.Add(n.ID)
		nodes[i] = Summarize(n)
	}
	return Graph{Nodes: nodes, Edges: nonNil(subgraph.Edges(notes, visible))}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
