package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/starford/slipbox/internal/layout"
	"github.com/starford/slipbox/internal/mapview"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Session
	maps   *mapview.Registry
	logger *slog.Logger

	layout       layout.Config
	defaultDepth int
	selectMode   navigation.SelectMode
	frameLimit   rate.Limit

	mu   sync.Mutex
	navs map[string]*navigation.Machine
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.FrameRate > 0 {
		limit = rate.Limit(cfg.FrameRate)
	}
	h := &Handler{
		svc:          cfg.Session,
		maps:         cfg.Maps,
		logger:       logger,
		layout:       cfg.Layout,
		defaultDepth: max(cfg.DefaultDepth, 1),
		selectMode:   cfg.SelectMode,
		frameLimit:   limit,
		navs:         make(map[string]*navigation.Machine),
	}
	if cfg.Session != nil {
		h.watchDeletes(cfg.Session.Store())
	}
	return h
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes, newest first
//	@Tags			notes
//	@Produce		json
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimPrefix(r.URL.Query().Get("tag"), "#")
	items := h.svc.List(tag)
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a note with its resolved link stacks
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Note(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "get note", err)
		return
	}
	w.Header().Set("ETag", `"`+note.Checksum+`"`)
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Capture a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to capture"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.Create(req.Content)
	if err != nil {
		writeError(w, h.logger, "create note", err)
		return
	}
	h.writeNote(w, http.StatusCreated, n.ID)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Edit a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Note id"
//	@Param			If-Match	header		string				false	"Content checksum for optimistic concurrency"
//	@Param			body		body		UpdateNoteRequest	true	"New content"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	if _, err := h.svc.UpdateContent(id, *req.Content, ifMatch); err != nil {
		writeError(w, h.logger, "update note", err)
		return
	}
	h.writeNote(w, http.StatusOK, id)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note and every link to it
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Link handles POST /api/notes/{id}/links.
//
//	@Summary		Link two notes, or capture a linked note
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Source note id"
//	@Param			body	body		LinkRequest	true	"Target or new content, and direction"
//	@Success		200		{object}	NoteDetail	"Source note after linking"
//	@Success		201		{object}	NoteDetail	"Newly captured note"
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links [post]
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req LinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dir := models.Direction(req.Direction)

	if req.Content != "" {
		n, err := h.svc.CreateAndLink(id, req.Content, dir)
		if err != nil {
			writeError(w, h.logger, "create and link", err)
			return
		}
		h.writeNote(w, http.StatusCreated, n.ID)
		return
	}
	if err := h.svc.Link(id, req.Target, dir); err != nil {
		writeError(w, h.logger, "link", err)
		return
	}
	h.writeNote(w, http.StatusOK, id)
}

// Unlink handles DELETE /api/notes/{id}/links/{direction}/{target}.
//
//	@Summary		Remove a link
//	@Tags			links
//	@Param			id			path	string	true	"Source note id"
//	@Param			direction	path	string	true	"Link direction"	Enums(anterior, posterior)
//	@Param			target		path	string	true	"Target note id"
//	@Success		200			{object}	NoteDetail
//	@Failure		404			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links/{direction}/{target} [delete]
func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dir, err := models.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		writeError(w, h.logger, "unlink", err)
		return
	}
	if err := h.svc.Unlink(id, chi.URLParam(r, "target"), dir); err != nil {
		writeError(w, h.logger, "unlink", err)
		return
	}
	h.writeNote(w, http.StatusOK, id)
}

// Candidates handles GET /api/notes/{id}/candidates.
//
//	@Summary		Notes that can still be linked in a direction
//	@Tags			links
//	@Produce		json
//	@Param			id			path		string	true	"Note id"
//	@Param			direction	query		string	true	"Link direction"	Enums(anterior, posterior)
//	@Success		200			{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/candidates [get]
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	dir, err := models.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, h.logger, "candidates", err)
		return
	}
	items, err := h.svc.Candidates(chi.URLParam(r, "id"), dir)
	if err != nil {
		writeError(w, h.logger, "candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// Neighborhood handles GET /api/notes/{id}/neighborhood.
//
//	@Summary		Notes within depth hops of a focus note
//	@Tags			graph
//	@Produce		json
//	@Param			id		path		string	true	"Focus note id"
//	@Param			depth	query		int		false	"Hop count (default from config)"
//	@Success		200		{object}	noteservice.Neighborhood
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/neighborhood [get]
func (h *Handler) Neighborhood(w http.ResponseWriter, r *http.Request) {
	depth := h.defaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("depth must be an integer"))
			return
		}
		depth = d
	}
	nb, err := h.svc.Neighborhood(chi.URLParam(r, "id"), depth)
	if err != nil {
		writeError(w, h.logger, "neighborhood", err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the whole note graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	noteservice.Graph
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Graph())
}

func (h *Handler) writeNote(w http.ResponseWriter, status int, id string) {
	note, err := h.svc.Note(id)
	if err != nil {
		writeError(w, h.logger, "read note", err)
		return
	}
	w.Header().Set("ETag", `"`+note.Checksum+`"`)
	writeJSON(w, status, note)
}
