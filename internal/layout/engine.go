// Package layout runs the force-directed simulation behind the map view.
//
// An Engine holds the physical state of every visible note and advances it
// one tick at a time. It is not safe for concurrent use; Loop owns an Engine
// on a single goroutine and drives it at a fixed cadence.
package layout

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/starford/slipbox/internal/metrics"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/parser"
)

const (
	excerptRunes = 280

	// contactSlop leaves separated boxes strictly apart.
	contactSlop = 0.01
	// maxSeparationSweeps bounds the positional pass that ends every tick.
	maxSeparationSweeps = 64
)

// Node is the physical state of one visible note.
type Node struct {
	ID        string
	Title     string
	Excerpt   string
	Tags      []string
	Timestamp time.Time

	X, Y          float64
	VX, VY        float64
	Width, Height float64
}

// FrameNode is the read-only render view of a Node.
type FrameNode struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	Tags      []string  `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame is everything a renderer needs for one tick.
type Frame struct {
	Tick  uint64        `json:"tick"`
	Nodes []FrameNode   `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRand sets the random source used for spawn angles.
func WithRand(r *rand.Rand) EngineOption {
	return func(e *Engine) { e.rng = r }
}

// Engine is the physics simulation over the visible subgraph.
type Engine struct {
	cfg   Config
	rng   *rand.Rand
	nodes []*Node
	index map[string]int
	edges []models.Edge
	ticks uint64
}

// NewEngine creates an empty engine.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		index: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Size estimates the card size for content. Short text keeps to two lines
// and the card widens with length; once the width cap is reached the card
// grows taller instead. Both dimensions are non-decreasing in length.
func Size(content string) (width, height float64) {
	const (
		minWidth    = 180.0
		maxWidth    = 340.0
		charWidth   = 7.0
		lineHeight  = 12 * 1.4
		vertPadding = 50.0
		minHeight   = 100.0
		shortLines  = 2.0
	)
	chars := float64(len([]rune(content)))

	width = math.Min(maxWidth, math.Max(minWidth, math.Ceil(chars/shortLines)*charWidth))
	lines := math.Ceil(chars / math.Floor(width/charWidth))
	height = math.Max(minHeight, lines*lineHeight+vertPadding)
	return width, height
}

// Merge replaces the visible set with notes, keeping the physical state of
// nodes that were already laid out. New nodes start near a laid-out
// neighbour, or at the origin when they have none; notes earlier in the slice
// count as laid out for later ones, so callers should pass notes nearest the
// focus first. Edges with an endpoint outside notes are dropped. When at
// least one node was added, WarmupTicks ticks run before Merge returns.
// It returns the number of nodes added.
func (e *Engine) Merge(notes []models.Note, edges []models.Edge) int {
	prev := make(map[string]*Node, len(e.nodes))
	for _, n := range e.nodes {
		prev[n.ID] = n
	}

	next := make([]*Node, 0, len(notes))
	index := make(map[string]int, len(notes))
	added := 0

	for _, note := range notes {
		if _, dup := index[note.ID]; dup {
			continue
		}
		w, h := Size(note.Content)
		node, ok := prev[note.ID]
		if !ok {
			node = &Node{ID: note.ID}
			e.spawn(node, note.Links.Neighbors(), prev, next, index)
			added++
		}
		node.Title = parser.Title(note.Content)
		node.Excerpt = parser.Excerpt(note.Content, excerptRunes)
		node.Tags = append([]string{}, note.Tags...)
		node.Timestamp = note.Timestamp
		node.Width, node.Height = w, h

		index[note.ID] = len(next)
		next = append(next, node)
	}

	e.nodes = next
	e.index = index
	e.edges = e.edges[:0]
	for _, edge := range edges {
		if _, ok := index[edge.Source]; !ok {
			continue
		}
		if _, ok := index[edge.Target]; !ok {
			continue
		}
		e.edges = append(e.edges, edge)
	}

	if added > 0 {
		for range e.cfg.WarmupTicks {
			e.Tick()
		}
	}
	return added
}

// spawn places a new node next to the first neighbour that already has a
// position, either from the previous layout or from earlier in this merge.
func (e *Engine) spawn(n *Node, neighbors []string, prev map[string]*Node, placed []*Node, index map[string]int) {
	for _, id := range neighbors {
		anchor, ok := prev[id]
		if !ok {
			i, placedNow := index[id]
			if !placedNow {
				continue
			}
			anchor = placed[i]
		}
		angle := e.rng.Float64() * 2 * math.Pi
		n.X = anchor.X + math.Cos(angle)*e.cfg.SpawnRadius
		n.Y = anchor.Y + math.Sin(angle)*e.cfg.SpawnRadius
		return
	}
	n.X, n.Y = 0, 0
}

// Tick advances the simulation by one step: repulsion, collision, springs,
// centering, then integration with friction. Integration ends by pushing
// apart any padded boxes that the step moved back into contact, so no two
// boxes overlap between ticks.
func (e *Engine) Tick() {
	e.ticks++
	metrics.LayoutTicks.Inc()

	nodes := e.nodes
	cfg := e.cfg

	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			e.repel(nodes[i], nodes[j])
		}
	}

	halfPad := cfg.CollisionPadding / 2
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			collide(nodes[i], nodes[j], halfPad, cfg.CollisionStrength)
		}
	}

	for _, edge := range e.edges {
		i, ok := e.index[edge.Source]
		if !ok {
			continue
		}
		j, ok := e.index[edge.Target]
		if !ok {
			continue
		}
		spring(nodes[i], nodes[j], cfg.SpringLength, cfg.SpringStiffness)
	}

	for _, n := range nodes {
		n.VX -= n.X * cfg.Gravity
		n.VY -= n.Y * cfg.Gravity
	}

	for _, n := range nodes {
		n.X += n.VX
		n.Y += n.VY
		n.VX *= cfg.Friction
		n.VY *= cfg.Friction
	}

	for range maxSeparationSweeps {
		moved := false
		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				if overlap, _, _ := separate(nodes[i], nodes[j], halfPad); overlap > 0 {
					moved = true
				}
			}
		}
		if !moved {
			break
		}
	}
}

func (e *Engine) repel(a, b *Node) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	distSq := dx*dx + dy*dy
	if distSq == 0 {
		// Coincident centres have no direction; pick one at unit distance.
		angle := e.rng.Float64() * 2 * math.Pi
		dx, dy = math.Cos(angle), math.Sin(angle)
		distSq = 1
	}
	dist := math.Sqrt(distSq)
	force := e.cfg.Repulsion / distSq
	fx := dx / dist * force
	fy := dy / dist * force

	a.VX -= fx
	a.VY -= fy
	b.VX += fx
	b.VY += fy
}

// collide nudges a and b apart by half the overlap each and adds a
// separating velocity proportional to it.
func collide(a, b *Node, halfPad, strength float64) {
	overlap, nx, ny := separate(a, b, halfPad)
	if overlap == 0 {
		return
	}
	push := overlap * strength
	a.VX -= nx * push
	a.VY -= ny * push
	b.VX += nx * push
	b.VY += ny * push
}

// separate resolves an overlap of the padded boxes of a and b along the axis
// of least overlap. Both nodes move half the overlap and any velocity closing
// the gap on that axis is shared between them. It returns the overlap that was
// removed and the unit axis pointing from a to b, or a zero overlap when the
// boxes are clear.
func separate(a, b *Node, halfPad float64) (overlap, nx, ny float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	overlapX := (a.Width/2 + halfPad + b.Width/2 + halfPad) - math.Abs(dx)
	overlapY := (a.Height/2 + halfPad + b.Height/2 + halfPad) - math.Abs(dy)
	if overlapX <= 0 || overlapY <= 0 {
		return 0, 0, 0
	}

	if overlapX < overlapY {
		nx = 1
		if dx < 0 {
			nx = -1
		}
		shift := nx * (overlapX + contactSlop) / 2
		a.X -= shift
		b.X += shift
		if (b.VX-a.VX)*nx < 0 {
			mean := (a.VX + b.VX) / 2
			a.VX, b.VX = mean, mean
		}
		return overlapX, nx, 0
	}

	ny = 1
	if dy < 0 {
		ny = -1
	}
	shift := ny * (overlapY + contactSlop) / 2
	a.Y -= shift
	b.Y += shift
	if (b.VY-a.VY)*ny < 0 {
		mean := (a.VY + b.VY) / 2
		a.VY, b.VY = mean, mean
	}
	return overlapY, 0, ny
}

func spring(a, b *Node, rest, stiffness float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dist := math.Sqrt(dx*dx + dy*dy)
	if dist == 0 {
		dist = 1
	}
	force := (dist - rest) * stiffness
	fx := dx / dist * force
	fy := dy / dist * force

	a.VX += fx
	a.VY += fy
	b.VX -= fx
	b.VY -= fy
}

// Frame returns a copy of the current positions and visible edges.
func (e *Engine) Frame() Frame {
	f := Frame{
		Tick:  e.ticks,
		Nodes: make([]FrameNode, len(e.nodes)),
		Edges: append([]models.Edge{}, e.edges...),
	}
	for i, n := range e.nodes {
		f.Nodes[i] = FrameNode{
			ID:        n.ID,
			X:         n.X,
			Y:         n.Y,
			Width:     n.Width,
			Height:    n.Height,
			Title:     n.Title,
			Excerpt:   n.Excerpt,
			Tags:      append([]string{}, n.Tags...),
			Timestamp: n.Timestamp,
		}
	}
	return f
}

// Node returns a copy of the state of id.
func (e *Engine) Node(id string) (Node, bool) {
	i, ok := e.index[id]
	if !ok {
		return Node{}, false
	}
	return *e.nodes[i], true
}

// Len returns the number of nodes in the layout.
func (e *Engine) Len() int { return len(e.nodes) }

// Ticks returns the number of ticks run so far, warm-up included.
func (e *Engine) Ticks() uint64 { return e.ticks }

// Overlaps returns every pair of nodes whose padded boxes intersect.
func (e *Engine) Overlaps() [][2]string {
	halfPad := e.cfg.CollisionPadding / 2
	var out [][2]string
	for i := 0; i < len(e.nodes); i++ {
		for j := i + 1; j < len(e.nodes); j++ {
			a, b := e.nodes[i], e.nodes[j]
			ox := (a.Width/2 + b.Width/2 + 2*halfPad) - math.Abs(b.X-a.X)
			oy := (a.Height/2 + b.Height/2 + 2*halfPad) - math.Abs(b.Y-a.Y)
			if ox > 0 && oy > 0 {
				out = append(out, [2]string{a.ID, b.ID})
			}
		}
	}
	return out
}

// NodeAt returns the id of the topmost node whose box contains (x, y) in
// layout coordinates, or "" when the point is over empty canvas.
func (e *Engine) NodeAt(x, y float64) string {
	for i := len(e.nodes) - 1; i >= 0; i-- {
		n := e.nodes[i]
		if math.Abs(x-n.X) <= n.Width/2 && math.Abs(y-n.Y) <= n.Height/2 {
			return n.ID
		}
	}
	return ""
}
