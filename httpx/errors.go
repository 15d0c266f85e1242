package httpx

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/validation"
)

// conflictField is implemented by unique-constraint errors that know the
// offending field.
type conflictField interface {
	ConflictField() string
}

// WriteError maps a domain error to its HTTP status and JSON body.
func WriteError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	var cf conflictField
	switch {
	case errors.As(err, &verr):
		JSONError(w, http.StatusBadRequest, "validation_failed", verr.Violations)
	case errors.Is(err, sentinel.ErrConflict):
		var details map[string]string
		if errors.As(err, &cf) {
			details = map[string]string{cf.ConflictField(): "already_exists"}
		}
		JSONError(w, http.StatusConflict, "already_exists", details)
	case errors.Is(err, sentinel.ErrNotFound):
		JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, sentinel.ErrStorage):
		JSONError(w, http.StatusInternalServerError, "storage_error", nil)
	default:
		JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
