package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/mapview"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/viewport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 64 << 10,
}

// wsMessage is one server-to-client websocket message. Type is "frame",
// "state", "error" or "closed".
type wsMessage struct {
	Type  string            `json:"type"`
	Frame *mapview.Update   `json:"frame,omitempty"`
	State *MapStateResponse `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
}

// watchDeletes sends every open map whose focus note disappeared back to
// the list, closing it. A note disappears either by deletion or by a
// snapshot that no longer contains it.
func (h *Handler) watchDeletes(store *notegraph.Store) func() {
	return store.Subscribe(func(c notegraph.Change) {
		var gone func(focus string) bool
		switch {
		case c.Kind == notegraph.ChangeDeleted && len(c.IDs) > 0:
			deleted := c.IDs[0]
			gone = func(focus string) bool { return focus == deleted }
		case c.Kind == notegraph.ChangeReplaced:
			gone = func(focus string) bool { return !store.Has(focus) }
		default:
			return
		}

		h.mu.Lock()
		var closing []string
		for id, nav := range h.navs {
			focus := nav.State().Focus
			if focus == "" || !gone(focus) {
				continue
			}
			if st := nav.NoteDeleted(focus); st.Screen != navigation.ScreenMap {
				closing = append(closing, id)
			}
		}
		h.mu.Unlock()

		for _, id := range closing {
			// Off the mutating goroutine: closing waits for the view's loop.
			go h.closeMap(id)
		}
	})
}

func (h *Handler) nav(id string) (*navigation.Machine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nav, ok := h.navs[id]
	return nav, ok
}

// closeMap closes the view and returns its final navigation state.
func (h *Handler) closeMap(id string) (navigation.State, error) {
	h.mu.Lock()
	nav, ok := h.navs[id]
	delete(h.navs, id)
	h.mu.Unlock()
	if !ok {
		return navigation.State{}, apperr.ErrNotFound
	}
	if err := h.maps.Close(id); err != nil {
		return nav.State(), err
	}
	if st := nav.State(); st.Screen == navigation.ScreenMap {
		_, _ = nav.CloseMap()
	}
	h.logger.Debug("map closed", slog.String("map", id), slog.String("screen", string(nav.State().Screen)))
	return nav.State(), nil
}

func (h *Handler) mapState(id string) (MapStateResponse, error) {
	nav, ok := h.nav(id)
	if !ok {
		return MapStateResponse{}, apperr.ErrNotFound
	}
	v, err := h.maps.Get(id)
	if err != nil {
		return MapStateResponse{}, err
	}
	focus, vp, visible := v.State()
	return MapStateResponse{
		ID:         id,
		Open:       true,
		Navigation: nav.State(),
		Viewport:   &vp,
		Focus:      focus,
		Visible:    visible,
	}, nil
}

// handleInput applies in to the view and closes the map when navigation
// has left it.
func (h *Handler) handleInput(id string, v *mapview.View, in mapview.Input) (MapStateResponse, error) {
	if err := v.Handle(in); err != nil {
		return MapStateResponse{}, err
	}
	nav, ok := h.nav(id)
	if !ok {
		return MapStateResponse{}, apperr.ErrNotFound
	}
	if nav.State().Screen == navigation.ScreenMap {
		return h.mapState(id)
	}
	st, err := h.closeMap(id)
	if err != nil {
		return MapStateResponse{}, err
	}
	return MapStateResponse{ID: id, Open: false, Navigation: st, Focus: st.Focus}, nil
}

// OpenMap handles POST /api/maps.
//
//	@Summary		Open a map view around a focus note
//	@Tags			maps
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenMapRequest	true	"Focus, depth and select mode"
//	@Success		201		{object}	MapStateResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps [post]
func (h *Handler) OpenMap(w http.ResponseWriter, r *http.Request) {
	var req OpenMapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode := navigation.SelectMode(req.Mode)
	if mode == "" {
		mode = h.selectMode
	}
	depth := req.Depth
	if depth == 0 {
		depth = h.defaultDepth
	}

	nav := navigation.New(mode)
	if _, err := nav.Open(req.Focus); err != nil {
		writeError(w, h.logger, "open map", err)
		return
	}
	if _, err := nav.OpenMap(); err != nil {
		writeError(w, h.logger, "open map", err)
		return
	}

	v, err := h.maps.Open(r.Context(), mapview.Options{
		Focus:  req.Focus,
		Depth:  depth,
		Layout: h.layout,
		OnEvent: func(e viewport.Event) {
			if e.Kind == viewport.FocusChanged {
				_, _ = nav.SelectInMap(e.NodeID)
			}
		},
	})
	if err != nil {
		writeError(w, h.logger, "open map", err)
		return
	}
	h.mu.Lock()
	h.navs[v.ID()] = nav
	h.mu.Unlock()

	st, err := h.mapState(v.ID())
	if err != nil {
		writeError(w, h.logger, "open map", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetMap handles GET /api/maps/{id}.
//
//	@Summary		Current state and frame of a map view
//	@Tags			maps
//	@Produce		json
//	@Param			id	path		string	true	"Map id"
//	@Success		200	{object}	MapStateResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{id} [get]
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.mapState(id)
	if err != nil {
		writeError(w, h.logger, "get map", err)
		return
	}
	v, err := h.maps.Get(id)
	if err != nil {
		writeError(w, h.logger, "get map", err)
		return
	}
	u := v.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"state": st,
		"frame": u,
	})
}

// MapEvent handles POST /api/maps/{id}/events.
//
//	@Summary		Send pointer or depth input to a map view
//	@Tags			maps
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Map id"
//	@Param			body	body		mapview.Input	true	"Input event"
//	@Success		200		{object}	MapStateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{id}/events [post]
func (h *Handler) MapEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.maps.Get(id)
	if err != nil {
		writeError(w, h.logger, "map event", err)
		return
	}
	var in mapview.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	st, err := h.handleInput(id, v, in)
	if err != nil {
		writeError(w, h.logger, "map event", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CloseMap handles DELETE /api/maps/{id}.
//
//	@Summary		Close a map view and stop its simulation
//	@Tags			maps
//	@Produce		json
//	@Param			id	path		string	true	"Map id"
//	@Success		200	{object}	MapStateResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{id} [delete]
func (h *Handler) CloseMap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.closeMap(id)
	if err != nil {
		writeError(w, h.logger, "close map", err)
		return
	}
	writeJSON(w, http.StatusOK, MapStateResponse{ID: id, Open: false, Navigation: st, Focus: st.Focus})
}

// MapSocket handles GET /api/maps/{id}/ws: frames go out, input comes in.
//
//	@Summary		Websocket session for a map view
//	@Tags			maps
//	@Param			id	path	string	true	"Map id"
//	@Success		101	"Switching protocols"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{id}/ws [get]
func (h *Handler) MapSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.maps.Get(id)
	if err != nil {
		writeError(w, h.logger, "map socket", err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("map", id), slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	h.logger.Debug("websocket connected", slog.String("map", id))

	frames, unsubscribe := v.Subscribe()
	defer unsubscribe()

	replies := make(chan wsMessage, 8)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})
	defer close(writerDone)

	// Reader: the only goroutine that reads from ws.
	go func() {
		defer close(readerDone)
		for {
			var in mapview.Input
			if err := ws.ReadJSON(&in); err != nil {
				h.logger.Debug("websocket disconnected", slog.String("map", id), slog.String("error", err.Error()))
				return
			}
			msg := wsMessage{Type: "state"}
			st, err := h.handleInput(id, v, in)
			switch {
			case err != nil:
				msg = wsMessage{Type: "error", Error: err.Error()}
			case !st.Open:
				msg = wsMessage{Type: "closed", State: &st}
			case in.Type == mapview.InputPointerMove:
				// Pan is carried by the next frame.
				continue
			default:
				msg.State = &st
			}
			select {
			case replies <- msg:
			case <-writerDone:
				return
			}
		}
	}()

	// Writer: the only goroutine that writes to ws.
	limiter := rate.NewLimiter(h.frameLimit, 1)
	for {
		select {
		case <-readerDone:
			return
		case msg := <-replies:
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
			if msg.Type == "closed" {
				return
			}
		case u, ok := <-frames:
			if !ok {
				_ = ws.WriteJSON(wsMessage{Type: "closed"})
				return
			}
			if !limiter.Allow() {
				continue
			}
			if err := ws.WriteJSON(wsMessage{Type: "frame", Frame: &u}); err != nil {
				return
			}
		}
	}
}
