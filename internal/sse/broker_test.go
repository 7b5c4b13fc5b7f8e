package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/notegraph"
)

// collect reads messages until wait passes without a new one.
func collect(msgs <-chan []byte, wait time.Duration) []string {
	var out []string
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return out
			}
			out = append(out, string(m))
		case <-time.After(wait):
			return out
		}
	}
}

func eventNames(msgs []string) []string {
	var out []string
	for _, m := range msgs {
		for _, line := range strings.Split(m, "\n") {
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

func attached(t *testing.T, throttle time.Duration, opts ...Option) (*Broker, *notegraph.Store) {
	t.Helper()
	b := NewBroker(throttle, opts...)
	t.Cleanup(b.Close)
	store := notegraph.New()
	t.Cleanup(b.Attach(store))
	return b, store
}

func TestStoreMutationsStreamInOrder(t *testing.T) {
	b, store := attached(t, time.Hour)
	msgs, leave := b.Subscribe(0)
	defer leave()

	a, _ := store.Create("a")
	c, _ := store.Create("c")
	_ = store.Link(a.ID, c.ID, models.Posterior)
	_ = store.UpdateContent(c.ID, "c #edited")
	_ = store.Unlink(a.ID, c.ID, models.Posterior)
	_ = store.Delete(c.ID)
	store.Replace(nil)

	got := collect(msgs, 50*time.Millisecond)
	want := []string{
		"note.created", "graph.updated",
		"note.created", "link.added", "note.updated", "link.removed", "note.deleted", "notes.replaced",
	}
	if names := eventNames(got); strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names, want)
	}
	if !strings.HasPrefix(got[0], "id: 1\n") || !strings.Contains(got[0], `"ids":["`+a.ID+`"]`) {
		t.Errorf("first message = %q", got[0])
	}
	if !strings.Contains(got[len(got)-1], `"ids":[]`) {
		t.Errorf("replace payload = %q", got[len(got)-1])
	}
}

func TestGraphUpdatedIsThrottled(t *testing.T) {
	b, store := attached(t, 80*time.Millisecond)
	msgs, leave := b.Subscribe(0)
	defer leave()

	a, _ := store.Create("a")
	c, _ := store.Create("c")
	_ = store.Link(a.ID, c.ID, models.Anterior)
	burst := eventNames(collect(msgs, 30*time.Millisecond))

	time.Sleep(80 * time.Millisecond)
	_ = store.Delete(c.ID)
	later := eventNames(collect(msgs, 30*time.Millisecond))

	count := func(names []string) int {
		n := 0
		for _, name := range names {
			if name == "graph.updated" {
				n++
			}
		}
		return n
	}
	if len(burst) != 4 || count(burst) != 1 {
		t.Errorf("burst = %v, want three changes and one graph.updated", burst)
	}
	if count(later) != 1 {
		t.Errorf("after throttle window = %v, want a fresh graph.updated", later)
	}
}

func TestResumeReplaysMissedChanges(t *testing.T) {
	b, store := attached(t, time.Hour, WithReplay(3))

	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := store.Create(content); err != nil {
			t.Fatal(err)
		}
	}
	// Ids 1..5: the first create also emitted graph.updated. The window
	// holds only ids 3..5.
	time.Sleep(20 * time.Millisecond)

	msgs, leave := b.Subscribe(3)
	defer leave()
	got := collect(msgs, 30*time.Millisecond)
	if len(got) != 2 || !strings.HasPrefix(got[0], "id: 4\n") || !strings.HasPrefix(got[1], "id: 5\n") {
		t.Errorf("resumed from 3 = %q", got)
	}

	fresh, leaveFresh := b.Subscribe(0)
	defer leaveFresh()
	if got := collect(fresh, 30*time.Millisecond); len(got) != 0 {
		t.Errorf("fresh client replayed %q", got)
	}
}

func TestDetachStopsStream(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	store := notegraph.New()
	detach := b.Attach(store)
	msgs, leave := b.Subscribe(0)
	defer leave()

	_, _ = store.Create("before")
	if got := collect(msgs, 30*time.Millisecond); len(got) == 0 {
		t.Fatal("no events before detach")
	}
	detach()
	_, _ = store.Create("after")
	if got := collect(msgs, 30*time.Millisecond); len(got) != 0 {
		t.Errorf("events after detach: %q", got)
	}
}

func TestSlowClientDoesNotStallOthers(t *testing.T) {
	b, store := attached(t, time.Hour)
	_, leaveSlow := b.Subscribe(0)
	defer leaveSlow()
	fast, leaveFast := b.Subscribe(0)
	defer leaveFast()

	// The slow client never reads; once its buffer is full the fast one must
	// keep receiving.
	for i := range 2 * clientBuffer {
		if _, err := store.Create("note"); err != nil {
			t.Fatal(err)
		}
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast client stalled after %d notes", i)
		}
	}
}

func TestServeHTTP(t *testing.T) {
	b, store := attached(t, time.Hour, WithHeartbeat(10*time.Millisecond))
	_, _ = store.Create("earlier")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, _ := store.Create("live")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	for _, want := range []string{"id: 2\nevent: graph.updated", "event: note.created", `"ids":["` + n.ID + `"]`, ": ping"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q: %q", want, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if b.ClientCount() != 0 {
		t.Errorf("client not removed after disconnect")
	}
}

func TestServeHTTP_BadLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Last-Event-ID", "abc")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCloseEndsStreams(t *testing.T) {
	b, store := attached(t, time.Hour)
	msgs, leave := b.Subscribe(0)

	b.Close()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("stream still open after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	leave()

	// Mutations after Close must not block the store.
	_, _ = store.Create("late")
	late, _ := b.Subscribe(0)
	if _, ok := <-late; ok {
		t.Error("subscribe after Close should yield a closed channel")
	}
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount after Close = %d", b.ClientCount())
	}
}
