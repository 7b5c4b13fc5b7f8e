package layout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/starford/slipbox/internal/models"
)

// Sink receives a frame after every live tick and after every merge. It runs
// on the loop goroutine and must not block.
type Sink func(Frame)

type mergeReq struct {
	notes []models.Note
	edges []models.Edge
	done  chan int
}

type hitReq struct {
	x, y float64
	resp chan string
}

// Loop drives an Engine at a fixed cadence until stopped.
//
// Concurrency model: the loop goroutine is the only owner of the engine.
// Public methods talk to it through channels, so no mutex guards the engine.
type Loop struct {
	engine   *Engine
	interval time.Duration
	sink     Sink

	mergeCh chan mergeReq
	frameCh chan chan Frame
	hitCh   chan hitReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// StartLoop starts ticking engine every interval. The loop stops when ctx is
// cancelled or Stop is called, whichever comes first.
func StartLoop(ctx context.Context, engine *Engine, interval time.Duration, sink Sink) *Loop {
	if interval <= 0 {
		interval = DefaultConfig().TickInterval
	}
	l := &Loop{
		engine:   engine,
		interval: interval,
		sink:     sink,
		mergeCh:  make(chan mergeReq),
		frameCh:  make(chan chan Frame),
		hitCh:    make(chan hitReq),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	emit := func() {
		if l.sink != nil {
			l.sink(l.engine.Frame())
		}
	}

	for {
		// Stop wins over a ready tick.
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return

		case <-ticker.C:
			l.engine.Tick()
			emit()

		case req := <-l.mergeCh:
			added := l.engine.Merge(req.notes, req.edges)
			req.done <- added
			emit()

		case resp := <-l.frameCh:
			resp <- l.engine.Frame()

		case req := <-l.hitCh:
			req.resp <- l.engine.NodeAt(req.x, req.y)
		}
	}
}

// Merge hands a new visible set to the engine and waits until the warm start
// has finished. It returns the number of nodes added and false if the loop
// has already stopped.
func (l *Loop) Merge(notes []models.Note, edges []models.Edge) (int, bool) {
	req := mergeReq{notes: notes, edges: edges, done: make(chan int, 1)}
	select {
	case l.mergeCh <- req:
	case <-l.stopped:
		return 0, false
	}
	return <-req.done, true
}

// Frame returns the current frame, or false if the loop has stopped.
func (l *Loop) Frame() (Frame, bool) {
	resp := make(chan Frame, 1)
	select {
	case l.frameCh <- resp:
	case <-l.stopped:
		return Frame{}, false
	}
	return <-resp, true
}

// NodeAt returns the node under (x, y) in layout coordinates.
func (l *Loop) NodeAt(x, y float64) string {
	req := hitReq{x: x, y: y, resp: make(chan string, 1)}
	select {
	case l.hitCh <- req:
	case <-l.stopped:
		return ""
	}
	return <-req.resp
}

// Stop stops the loop and waits for the goroutine to exit. No tick runs and
// no frame is emitted after Stop returns. It is safe to call more than once.
func (l *Loop) Stop() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
	<-l.stopped
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
