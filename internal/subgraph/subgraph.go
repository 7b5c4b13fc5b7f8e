// Package subgraph computes the bounded-depth neighbourhood of a focus note.
package subgraph

import (
	"github.com/starford/slipbox/internal/models"
)

// Graph is the read view the selector needs. Neighbors returns the ids
// linked to id in either direction and false when id does not exist.
type Graph interface {
	Neighbors(id string) ([]string, bool)
}

// Layers runs a layered breadth-first expansion from focus over the
// undirected link graph. Layer 0 holds only focus; layer k holds the notes
// first reached after k hops. At most depth+1 layers are returned and empty
// trailing layers are omitted. An unknown focus yields nil.
func Layers(g Graph, focus string, depth int) [][]string {
	if depth < 1 {
		depth = 1
	}
	if _, ok := g.Neighbors(focus); !ok {
		return nil
	}

	visited := models.NewIDSet(focus)
	layers := [][]string{{focus}}
	current := layers[0]

	for d := 0; d < depth && len(current) > 0; d++ {
		var next []string
		for _, id := range current {
			neighbors, ok := g.Neighbors(id)
			if !ok {
				// Dangling id from a concurrent delete; nothing to expand.
				continue
			}
			for _, nb := range neighbors {
				if visited.Add(nb) {
					next = append(next, nb)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		layers = append(layers, next)
		current = next
	}
	return layers
}

// Visible returns every note within depth hops of focus, focus included.
func Visible(g Graph, focus string, depth int) models.IDSet {
	out := models.IDSet{}
	for _, layer := range Layers(g, focus, depth) {
		for _, id := range layer {
			out[id] = struct{}{}
		}
	}
	return out
}

// Edges returns the links whose endpoints are both visible, once per
// unordered pair, oriented from the note that feeds in to the note it feeds
// into. Output follows the order of notes.
func Edges(notes []models.Note, visible models.IDSet) []models.Edge {
	seen := make(map[models.Edge]struct{})
	var out []models.Edge
	add := func(from, to string) {
		if from == to || !visible.Has(from) || !visible.Has(to) {
			return
		}
		e := models.Edge{Source: from, Target: to}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, n := range notes {
		if !visible.Has(n.ID) {
			continue
		}
		for _, id := range n.Links.Posterior.Sorted() {
			add(n.ID, id)
		}
		for _, id := range n.Links.Anterior.Sorted() {
			add(id, n.ID)
		}
	}
	return out
}
