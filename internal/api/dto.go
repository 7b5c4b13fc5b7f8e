package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/viewport"
)

var directions = []any{string(models.Anterior), string(models.Posterior)}

// CreateNoteRequest is the request body for capturing a note.
type CreateNoteRequest struct {
	Content string `json:"content" example:"Atomic idea #zettel"`
}

// Validate validates the request.
func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
	)
}

// UpdateNoteRequest is the request body for editing a note. Content may be
// empty: a note being edited may be cleared.
type UpdateNoteRequest struct {
	Content *string `json:"content"`
}

// Validate validates the request.
func (r UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.NotNil),
	)
}

// LinkRequest links the path note to Target, or, when Content is set
// instead, captures a new note and links it in one step.
type LinkRequest struct {
	Target    string `json:"target,omitempty" example:"0b6c..."`
	Content   string `json:"content,omitempty"`
	Direction string `json:"direction" example:"posterior"`
}

// Validate validates the request.
func (r LinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Direction, validation.Required, validation.In(directions...)),
		validation.Field(&r.Target, validation.When(r.Content == "", validation.Required.Error("target or content is required"))),
		validation.Field(&r.Content, validation.When(r.Target != "", validation.Empty.Error("only one of target and content may be set"))),
	)
}

// OpenMapRequest opens a map view around Focus.
type OpenMapRequest struct {
	Focus string `json:"focus"`
	Depth int    `json:"depth,omitempty"`
	Mode  string `json:"mode,omitempty" example:"browse"`
}

// Validate validates the request.
func (r OpenMapRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Focus, validation.Required),
		validation.Field(&r.Depth, validation.Min(0)),
		validation.Field(&r.Mode, validation.In(string(navigation.ModeBrowse), string(navigation.ModeExitOnSelect))),
	)
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Summary `json:"notes"`
	Total int              `json:"total"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// MapStateResponse describes an open map.
type MapStateResponse struct {
	ID         string           `json:"id"`
	Open       bool             `json:"open"`
	Navigation navigation.State `json:"navigation"`
	Viewport   *viewport.State  `json:"viewport,omitempty"`
	Focus      string           `json:"focus,omitempty"`
	Visible    int              `json:"visible"`
}
