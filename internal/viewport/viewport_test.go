package viewport

import "testing"

type recorder struct {
	events []Event
}

func (r *recorder) handle(e Event) { r.events = append(r.events, e) }

func TestPan_DragOverEmptyCanvas(t *testing.T) {
	var rec recorder
	c := New(1, rec.handle)

	c.PointerDown(Point{X: 100, Y: 100}, "")
	c.PointerMove(Point{X: 130, Y: 90})
	if got := c.Pan(); got != (Point{X: 30, Y: -10}) {
		t.Fatalf("pan = %+v, want {30 -10}", got)
	}
	c.PointerUp()

	// A second drag continues from the current offset.
	c.PointerDown(Point{X: 0, Y: 0}, "")
	c.PointerMove(Point{X: 10, Y: 10})
	if got := c.Pan(); got != (Point{X: 40, Y: 0}) {
		t.Fatalf("pan after second drag = %+v, want {40 0}", got)
	}
	c.PointerLeave()
	c.PointerMove(Point{X: 500, Y: 500})
	if got := c.Pan(); got != (Point{X: 40, Y: 0}) {
		t.Errorf("move after leave changed pan to %+v", got)
	}
}

func TestPan_MoveWithoutDragIgnored(t *testing.T) {
	var rec recorder
	c := New(1, rec.handle)
	c.PointerMove(Point{X: 50, Y: 50})
	if c.Pan() != (Point{}) || len(rec.events) != 0 {
		t.Errorf("pan = %+v events = %v", c.Pan(), rec.events)
	}
}

func TestPointerDownOnNodeSelectsInsteadOfPanning(t *testing.T) {
	var rec recorder
	c := New(1, rec.handle)

	c.PointerDown(Point{X: 10, Y: 10}, "note-1")
	c.PointerMove(Point{X: 60, Y: 60})

	if c.Pan() != (Point{}) {
		t.Errorf("pan = %+v, want unchanged", c.Pan())
	}
	if len(rec.events) != 1 || rec.events[0].Kind != FocusChanged || rec.events[0].NodeID != "note-1" {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClick_EmitsFocusChanged(t *testing.T) {
	var rec recorder
	c := New(1, rec.handle)
	c.Click("b")
	c.Click("")
	if len(rec.events) != 1 || rec.events[0].NodeID != "b" {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestDepth_ClampedAtOne(t *testing.T) {
	var rec recorder
	c := New(0, rec.handle)
	if c.Depth() != 1 {
		t.Fatalf("initial depth = %d, want 1", c.Depth())
	}
	c.DecreaseDepth()
	c.DecreaseDepth()
	if c.Depth() != 1 || c.CanDecrease() {
		t.Errorf("depth = %d after decrements", c.Depth())
	}
	if len(rec.events) != 0 {
		t.Errorf("clamped decrement emitted %v", rec.events)
	}

	c.IncreaseDepth()
	c.IncreaseDepth()
	c.DecreaseDepth()
	if c.Depth() != 2 {
		t.Errorf("depth = %d, want 2", c.Depth())
	}
	if len(rec.events) != 3 || rec.events[2].Depth != 2 {
		t.Errorf("events = %+v", rec.events)
	}
	c.SetDepth(-4)
	if c.Depth() != 1 {
		t.Errorf("SetDepth(-4) -> %d", c.Depth())
	}
}

func TestToLayout(t *testing.T) {
	c := New(1, nil)
	c.PointerDown(Point{}, "")
	c.PointerMove(Point{X: 20, Y: -10})
	got := c.ToLayout(Point{X: 420, Y: 290}, 800, 600)
	if got != (Point{X: 0, Y: 0}) {
		t.Errorf("ToLayout = %+v, want origin", got)
	}
}
