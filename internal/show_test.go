package internal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/noteservice"
)

func TestPrintNeighborhood(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	nb := noteservice.Neighborhood{
		Focus:  "a",
		Depth:  2,
		Layers: [][]string{{"a"}, {"b", "c"}, {"d"}},
		Nodes: []models.Summary{
			{ID: "a", Title: "Alpha", Tags: []string{"x"}},
			{ID: "b", Title: "Beta"},
			{ID: "c", Title: "Gamma"},
			{ID: "d", Title: "Delta", Tags: []string{"x", "y"}},
		},
		Edges: []models.Edge{{Source: "a", Target: "b"}, {Source: "c", Target: "a"}, {Source: "b", Target: "d"}},
	}

	var buf bytes.Buffer
	if err := printNeighborhood(&buf, nb); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"focus (1)",
		"  a Alpha  #x",
		"1 hop (2)",
		"  b Beta",
		"  c Gamma",
		"2 hops (1)",
		"  d Delta  #x #y",
		"4 notes, 3 links within 2 hops",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}
