package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/noteservice"
)

var layerColors = []*color.Color{
	color.New(color.FgHiYellow, color.Bold),
	color.New(color.FgHiCyan),
	color.New(color.FgHiGreen),
	color.New(color.FgHiMagenta),
	color.New(color.FgHiBlue),
}

// Show prints the notes within depth hops of focus to out, one block per
// BFS layer. An empty focus lists every note instead.
func Show(ctx context.Context, out io.Writer, focus string, depth int, opts ...Option) error {
	// Logs go to stderr so out stays readable.
	_, rt, err := setup(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.close()

	if focus == "" {
		return printList(out, rt.session.List(""))
	}
	if depth <= 0 {
		depth = rt.cfg.View.DefaultDepth
	}
	nb, err := rt.session.Neighborhood(focus, depth)
	if err != nil {
		return fmt.Errorf("show %s: %w", focus, err)
	}
	return printNeighborhood(out, nb)
}

func printList(out io.Writer, items []models.Summary) error {
	dim := color.New(color.Faint)
	for _, it := range items {
		if _, err := fmt.Fprintf(out, "%s  %s%s\n", dim.Sprint(it.ID), it.Title, tagSuffix(it.Tags)); err != nil {
			return err
		}
	}
	return nil
}

func printNeighborhood(out io.Writer, nb noteservice.Neighborhood) error {
	byID := make(map[string]models.Summary, len(nb.Nodes))
	for _, n := range nb.Nodes {
		byID[n.ID] = n
	}
	header := color.New(color.Bold)

	for i, layer := range nb.Layers {
		c := layerColors[min(i, len(layerColors)-1)]
		label := "focus"
		if i > 0 {
			label = fmt.Sprintf("%d hop", i)
			if i > 1 {
				label += "s"
			}
		}
		if _, err := header.Fprintf(out, "%s (%d)\n", label, len(layer)); err != nil {
			return err
		}
		for _, id := range layer {
			n := byID[id]
			if _, err := fmt.Fprintf(out, "  %s %s%s\n", c.Sprint(id), n.Title, tagSuffix(n.Tags)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(out, "%d notes, %d links within %d hops\n", len(nb.Nodes), len(nb.Edges), nb.Depth)
	return err
}

func tagSuffix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "  #" + strings.Join(tags, " #")
}
