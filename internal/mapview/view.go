// Package mapview wires the selector, the layout loop and the viewport
// controller into one open map around a focus note.
package mapview

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/slipbox/internal/layout"
	"github.com/starford/slipbox/internal/metrics"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/subgraph"
	"github.com/starford/slipbox/internal/viewport"
)

// Source is the part of the note store a view reads.
type Source interface {
	subgraph.Graph
	List() []models.Note
	Subscribe(fn func(notegraph.Change)) func()
}

// Update is pushed to frame subscribers after every tick.
type Update struct {
	Frame   layout.Frame   `json:"frame"`
	Focus   string         `json:"focus"`
	Depth   int            `json:"depth"`
	Visible int            `json:"visible"`
	Pan     viewport.Point `json:"pan"`
}

// Input types accepted by View.Handle.
const (
	InputPointerDown   = "pointer_down"
	InputPointerMove   = "pointer_move"
	InputPointerUp     = "pointer_up"
	InputPointerLeave  = "pointer_leave"
	InputClick         = "click"
	InputDepthIncrease = "depth_increase"
	InputDepthDecrease = "depth_decrease"
	InputSetDepth      = "set_depth"
)

// Input is one host event routed to the view.
//
// For pointer_down, NodeID names the node under the pointer when the host
// already knows it. Otherwise, if the canvas size is given, the view hit-tests
// the pointer against the current layout.
type Input struct {
	Type         string  `json:"type"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	NodeID       string  `json:"node_id,omitempty"`
	Depth        int     `json:"depth,omitempty"`
	CanvasWidth  float64 `json:"canvas_width,omitempty"`
	CanvasHeight float64 `json:"canvas_height,omitempty"`
}

// Validate validates the input.
func (in Input) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Type, validation.Required, validation.In(
			InputPointerDown, InputPointerMove, InputPointerUp, InputPointerLeave,
			InputClick, InputDepthIncrease, InputDepthDecrease, InputSetDepth,
		)),
		validation.Field(&in.NodeID, validation.When(in.Type == InputClick, validation.Required)),
		validation.Field(&in.Depth, validation.When(in.Type == InputSetDepth, validation.Required, validation.Min(viewport.MinDepth))),
		validation.Field(&in.CanvasWidth, validation.Min(0.0)),
		validation.Field(&in.CanvasHeight, validation.Min(0.0)),
	)
}

// Options configures a View.
type Options struct {
	Focus  string
	Depth  int
	Layout layout.Config
	// OnEvent, if set, receives every viewport event after the view has
	// applied it.
	OnEvent viewport.Handler
}

// View is one open map. All methods are safe for concurrent use.
type View struct {
	id      string
	src     Source
	loop    *layout.Loop
	logger  *slog.Logger
	onEvent viewport.Handler

	mu      sync.Mutex
	ctrl    *viewport.Controller
	focus   string
	visible int
	events  []viewport.Event

	// refreshMu orders refreshes so the last merge always reflects the
	// latest focus and depth.
	refreshMu sync.Mutex

	subMu  sync.Mutex
	subs   map[chan Update]struct{}
	latest Update

	kick        chan struct{}
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
}

// Open starts a view around opts.Focus and blocks until the first layout
// has warmed up.
func Open(ctx context.Context, id string, src Source, opts Options, logger *slog.Logger) (*View, error) {
	if opts.Focus == "" {
		return nil, fmt.Errorf("mapview: focus is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	v := &View{
		id:      id,
		src:     src,
		logger:  logger.With(slog.String("map", id)),
		onEvent: opts.OnEvent,
		focus:   opts.Focus,
		subs:    make(map[chan Update]struct{}),
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	v.ctrl = viewport.New(opts.Depth, v.record)
	v.loop = layout.StartLoop(ctx, layout.NewEngine(opts.Layout), opts.Layout.TickInterval, v.publish)
	v.unsubscribe = src.Subscribe(func(notegraph.Change) { v.requestRefresh() })

	go v.refresher(ctx)
	v.Refresh()

	metrics.MapViewsOpen.Inc()
	v.logger.Debug("map opened", slog.String("focus", opts.Focus), slog.Int("depth", v.ctrl.Depth()))
	return v, nil
}

// ID returns the view id.
func (v *View) ID() string { return v.id }

// record runs under v.mu from inside the controller.
func (v *View) record(e viewport.Event) {
	switch e.Kind {
	case viewport.FocusChanged:
		v.focus = e.NodeID
	}
	v.events = append(v.events, e)
}

// Handle applies one host input.
func (v *View) Handle(in Input) error {
	if err := in.Validate(); err != nil {
		return err
	}

	nodeID := in.NodeID
	if in.Type == InputPointerDown && nodeID == "" && in.CanvasWidth > 0 && in.CanvasHeight > 0 {
		v.mu.Lock()
		p := v.ctrl.ToLayout(viewport.Point{X: in.X, Y: in.Y}, in.CanvasWidth, in.CanvasHeight)
		v.mu.Unlock()
		nodeID = v.loop.NodeAt(p.X, p.Y)
	}

	v.mu.Lock()
	pt := viewport.Point{X: in.X, Y: in.Y}
	switch in.Type {
	case InputPointerDown:
		v.ctrl.PointerDown(pt, nodeID)
	case InputPointerMove:
		v.ctrl.PointerMove(pt)
	case InputPointerUp:
		v.ctrl.PointerUp()
	case InputPointerLeave:
		v.ctrl.PointerLeave()
	case InputClick:
		v.ctrl.Click(in.NodeID)
	case InputDepthIncrease:
		v.ctrl.IncreaseDepth()
	case InputDepthDecrease:
		v.ctrl.DecreaseDepth()
	case InputSetDepth:
		v.ctrl.SetDepth(in.Depth)
	}
	events := v.events
	v.events = nil
	v.mu.Unlock()

	refresh := false
	for _, e := range events {
		if e.Kind == viewport.FocusChanged || e.Kind == viewport.DepthChanged {
			refresh = true
		}
	}
	if refresh {
		v.Refresh()
	}
	if v.onEvent != nil {
		for _, e := range events {
			v.onEvent(e)
		}
	}
	return nil
}

// Refresh recomputes the visible subgraph and merges it into the layout.
// It blocks until warm-up ticks for new nodes have run.
func (v *View) Refresh() {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	v.mu.Lock()
	focus, depth := v.focus, v.ctrl.Depth()
	v.mu.Unlock()

	layers := subgraph.Layers(v.src, focus, depth)
	visible := models.IDSet{}
	for _, layer := range layers {
		for _, id := range layer {
			visible.Add(id)
		}
	}

	byID := make(map[string]models.Note, len(visible))
	all := v.src.List()
	for _, n := range all {
		if visible.Has(n.ID) {
			byID[n.ID] = n
		}
	}
	// Nearest layers first so new nodes can spawn beside laid-out ones.
	ordered := make([]models.Note, 0, len(byID))
	for _, layer := range layers {
		layer = slices.Clone(layer)
		slices.Sort(layer)
		for _, id := range layer {
			if n, ok := byID[id]; ok {
				ordered = append(ordered, n)
			}
		}
	}
	edges := subgraph.Edges(ordered, visible)

	added, ok := v.loop.Merge(ordered, edges)
	if !ok {
		return
	}

	v.mu.Lock()
	v.visible = len(ordered)
	v.mu.Unlock()

	metrics.VisibleNodes.Observe(float64(len(ordered)))
	v.logger.Debug("map refreshed",
		slog.String("focus", focus),
		slog.Int("depth", depth),
		slog.Int("visible", len(ordered)),
		slog.Int("added", added))
}

func (v *View) requestRefresh() {
	select {
	case v.kick <- struct{}{}:
	default:
	}
}

// refresher coalesces store notifications into Refresh calls off the
// mutating goroutine.
func (v *View) refresher(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.kick:
			v.Refresh()
		}
	}
}

// publish runs on the loop goroutine.
func (v *View) publish(f layout.Frame) {
	v.mu.Lock()
	u := Update{
		Frame:   f,
		Focus:   v.focus,
		Depth:   v.ctrl.Depth(),
		Visible: len(f.Nodes),
		Pan:     v.ctrl.Pan(),
	}
	v.mu.Unlock()

	v.subMu.Lock()
	defer v.subMu.Unlock()
	v.latest = u
	for ch := range v.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber; it will catch up on the next tick.
		}
	}
}

// Subscribe returns a channel of updates and a function that removes it.
// The channel is closed when the view closes or cancel is called.
func (v *View) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 4)
	v.subMu.Lock()
	select {
	case <-v.loop.Done():
		v.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	v.subs[ch] = struct{}{}
	v.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.subMu.Lock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
			v.subMu.Unlock()
		})
	}
}

// Latest returns the most recent update.
func (v *View) Latest() Update {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	return v.latest
}

// State returns the focus and viewport state.
func (v *View) State() (focus string, state viewport.State, visible int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focus, v.ctrl.State(), v.visible
}

// Close stops the layout loop, drops the store subscription and closes all
// subscriber channels. No frame is published after Close returns.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.unsubscribe()
		v.cancel()
		v.loop.Stop()
		<-v.done

		v.subMu.Lock()
		for ch := range v.subs {
			close(ch)
		}
		v.subs = map[chan Update]struct{}{}
		v.subMu.Unlock()

		metrics.MapViewsOpen.Dec()
		v.logger.Debug("map closed")
	})
}

// Done is closed once the view's layout loop has stopped.
func (v *View) Done() <-chan struct{} { return v.loop.Done() }
