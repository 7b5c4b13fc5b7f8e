package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/noteservice"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a JSON body into v and validates it when v implements
// validation.Validatable. It writes the error response itself and reports
// whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if val, ok := v.(validation.Validatable); ok {
		if err := val.Validate(); err != nil {
			writeValidation(w, err)
			return false
		}
	}
	return true
}

func writeValidation(w http.ResponseWriter, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for k, e := range verrs {
			fields[k] = e.Error()
		}
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "validation failed", Fields: fields})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidLink):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("invalid link"))
	case errors.Is(err, apperr.ErrEmptyContent):
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, navigation.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, noteservice.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
	default:
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			writeValidation(w, err)
			return
		}
		logger.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
