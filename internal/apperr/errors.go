// Package apperr holds the sentinel errors shared across slipbox layers.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidLink  = errors.New("invalid link")
	ErrEmptyContent = errors.New("empty content")
)
