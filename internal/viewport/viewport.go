// Package viewport turns pointer input on the map canvas into pan offsets,
// depth changes and focus events.
package viewport

// MinDepth is the smallest neighbourhood depth the controller allows.
const MinDepth = 1

// Point is a position in screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EventKind identifies an Event.
type EventKind string

const (
	// FocusChanged carries the id of a clicked node.
	FocusChanged EventKind = "focus_changed"
	// DepthChanged carries the new depth.
	DepthChanged EventKind = "depth_changed"
	// Panned carries the new pan offset.
	Panned EventKind = "panned"
)

// Event is emitted by the controller. Only the field matching Kind is set.
type Event struct {
	Kind   EventKind `json:"kind"`
	NodeID string    `json:"node_id,omitempty"`
	Depth  int       `json:"depth,omitempty"`
	Pan    Point     `json:"pan"`
}

// Handler receives controller events. What a focus change means for the
// active screen is up to the handler.
type Handler func(Event)

// State is a snapshot of the controller.
type State struct {
	Pan      Point `json:"pan"`
	Depth    int   `json:"depth"`
	Dragging bool  `json:"dragging"`
}

// Controller tracks pan and depth for one map view. It is not safe for
// concurrent use.
type Controller struct {
	pan      Point
	origin   Point
	dragging bool
	depth    int
	emit     Handler
}

// New creates a controller at the given depth (clamped to MinDepth).
func New(depth int, h Handler) *Controller {
	if h == nil {
		h = func(Event) {}
	}
	return &Controller{depth: max(depth, MinDepth), emit: h}
}

// PointerDown starts a pan drag when nodeID is empty (empty canvas) and
// selects the node otherwise.
func (c *Controller) PointerDown(p Point, nodeID string) {
	if nodeID != "" {
		c.dragging = false
		c.Click(nodeID)
		return
	}
	c.dragging = true
	c.origin = Point{X: p.X - c.pan.X, Y: p.Y - c.pan.Y}
}

// PointerMove updates the pan offset while dragging.
func (c *Controller) PointerMove(p Point) {
	if !c.dragging {
		return
	}
	c.pan = Point{X: p.X - c.origin.X, Y: p.Y - c.origin.Y}
	c.emit(Event{Kind: Panned, Pan: c.pan})
}

// PointerUp ends a drag.
func (c *Controller) PointerUp() { c.dragging = false }

// PointerLeave ends a drag when the pointer leaves the canvas.
func (c *Controller) PointerLeave() { c.dragging = false }

// Click emits FocusChanged for nodeID.
func (c *Controller) Click(nodeID string) {
	if nodeID == "" {
		return
	}
	c.emit(Event{Kind: FocusChanged, NodeID: nodeID, Pan: c.pan})
}

// IncreaseDepth widens the neighbourhood by one hop.
func (c *Controller) IncreaseDepth() { c.SetDepth(c.depth + 1) }

// DecreaseDepth narrows the neighbourhood by one hop, never below MinDepth.
func (c *Controller) DecreaseDepth() { c.SetDepth(c.depth - 1) }

// SetDepth sets the depth, clamped to MinDepth. It emits DepthChanged only
// when the value actually changes.
func (c *Controller) SetDepth(d int) {
	d = max(d, MinDepth)
	if d == c.depth {
		return
	}
	c.depth = d
	c.emit(Event{Kind: DepthChanged, Depth: d, Pan: c.pan})
}

// Depth returns the current depth.
func (c *Controller) Depth() int { return c.depth }

// CanDecrease reports whether DecreaseDepth would change anything.
func (c *Controller) CanDecrease() bool { return c.depth > MinDepth }

// Pan returns the current pan offset.
func (c *Controller) Pan() Point { return c.pan }

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	return State{Pan: c.pan, Depth: c.depth, Dragging: c.dragging}
}

// ToLayout converts a screen point to layout coordinates for a canvas of the
// given size whose origin is drawn at its centre plus the pan offset.
func (c *Controller) ToLayout(p Point, canvasW, canvasH float64) Point {
	return Point{
		X: p.X - c.pan.X - canvasW/2,
		Y: p.Y - c.pan.Y - canvasH/2,
	}
}
