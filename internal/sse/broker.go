// Package sse streams note graph changes to browsers as Server-Sent Events.
//
// Every message carries a sequence id. A client that reconnects with a
// Last-Event-ID header first receives the changes it missed, as far back as
// the replay window reaches.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/slipbox/internal/notegraph"
)

const clientBuffer = 64

// changeData is the payload of note and link events.
type changeData struct {
	IDs []string `json:"ids"`
}

type message struct {
	id  uint64
	raw []byte
}

type client struct {
	out    chan []byte
	lastID uint64
}

// send never blocks the broker loop; a full client misses the message.
func (c *client) send(raw []byte) {
	select {
	case c.out <- raw:
	default:
	}
}

// Broker turns store changes into an SSE stream.
//
// A single goroutine owns the clients, the sequence counter, the replay
// window and the graph throttle. Everything else talks to it over channels.
type Broker struct {
	graphMin  time.Duration
	heartbeat time.Duration
	replay    int

	join    chan *client
	leave   chan *client
	changes chan notegraph.Change
	count   chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets the interval of keep-alive comments sent to idle
// clients. Zero disables them.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithReplay sets how many recent messages are kept for clients resuming
// with Last-Event-ID. Zero disables replay.
func WithReplay(n int) Option {
	return func(b *Broker) { b.replay = max(n, 0) }
}

// NewBroker creates a broker that emits at most one graph.updated event per
// graphThrottle.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:  graphThrottle,
		heartbeat: 15 * time.Second,
		replay:    256,
		join:      make(chan *client),
		leave:     make(chan *client),
		changes:   make(chan notegraph.Change, 256),
		count:     make(chan chan int),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// eventType maps a store change to the SSE event name.
func eventType(k notegraph.ChangeKind) string {
	switch k {
	case notegraph.ChangeCreated:
		return "note.created"
	case notegraph.ChangeUpdated:
		return "note.updated"
	case notegraph.ChangeDeleted:
		return "note.deleted"
	case notegraph.ChangeLinked:
		return "link.added"
	case notegraph.ChangeUnlinked:
		return "link.removed"
	case notegraph.ChangeReplaced:
		return "notes.replaced"
	}
	return ""
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[*client]struct{})
	var (
		seq       uint64
		history   []message
		lastGraph time.Time
	)

	emit := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		m := message{id: seq, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload)}
		if b.replay > 0 {
			history = append(history, m)
			if len(history) > b.replay {
				history = append(history[:0:0], history[len(history)-b.replay:]...)
			}
		}
		for c := range clients {
			c.send(m.raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for c := range clients {
				close(c.out)
			}
			return

		case c := <-b.join:
			clients[c] = struct{}{}
			if c.lastID == 0 {
				continue
			}
			for _, m := range history {
				if m.id > c.lastID {
					c.send(m.raw)
				}
			}

		case c := <-b.leave:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.out)
			}

		case ch := <-b.changes:
			typ := eventType(ch.Kind)
			if typ == "" {
				continue
			}
			ids := ch.IDs
			if ids == nil {
				ids = []string{}
			}
			emit(typ, changeData{IDs: ids})

			if now := time.Now(); now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				emit("graph.updated", struct{}{})
			}

		case resp := <-b.count:
			resp <- len(clients)
		}
	}
}

// Close stops the broker loop and closes every client stream.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client that resumes after lastEventID (zero for a
// fresh stream). It returns the message channel and a function that removes
// the client and closes the channel.
func (b *Broker) Subscribe(lastEventID uint64) (<-chan []byte, func()) {
	c := &client{out: make(chan []byte, clientBuffer), lastID: lastEventID}
	if b.closed.Load() {
		close(c.out)
		return c.out, func() {}
	}

	select {
	case b.join <- c:
	case <-b.stopped:
		close(c.out)
		return c.out, func() {}
	}
	return c.out, func() {
		select {
		case b.leave <- c:
		case <-b.stopped:
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) publish(c notegraph.Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changes <- c:
	case <-b.stopped:
	}
}

// Attach streams every change of store. The returned function detaches it.
func (b *Broker) Attach(store *notegraph.Store) func() {
	return store.Subscribe(b.publish)
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var lastID uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		lastID = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgs, leave := b.Subscribe(lastID)
	defer leave()

	var ping <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
