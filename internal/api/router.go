package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/slipbox/internal/layout"
	"github.com/starford/slipbox/internal/mapview"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/noteservice"
)

// Config holds the router dependencies.
type Config struct {
	Session *noteservice.Session
	Maps    *mapview.Registry
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler

	AuthEnabled bool
	AuthToken   string

	Layout       layout.Config
	DefaultDepth int
	SelectMode   navigation.SelectMode
	// FrameRate caps websocket frame pushes per second. Zero means no cap.
	FrameRate float64

	Logger *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(cfg Config) chi.Router {
	h := NewHandler(cfg)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.AuthToken))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Links.
	r.Post("/notes/{id}/links", h.Link)
	r.Delete("/notes/{id}/links/{direction}/{target}", h.Unlink)
	r.Get("/notes/{id}/candidates", h.Candidates)

	// Graph.
	r.Get("/notes/{id}/neighborhood", h.Neighborhood)
	r.Get("/graph", h.Graph)

	// Map views.
	r.Post("/maps", h.OpenMap)
	r.Get("/maps/{id}", h.GetMap)
	r.Post("/maps/{id}/events", h.MapEvent)
	r.Get("/maps/{id}/ws", h.MapSocket)
	r.Delete("/maps/{id}", h.CloseMap)

	// SSE endpoint (protected by same auth middleware).
	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
