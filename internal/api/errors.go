package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mistriworks/backend/internal/models"
)

// writeError maps the domain error taxonomy onto HTTP status codes and
// emits a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, models.ErrPreconditionFailed):
		code = http.StatusPreconditionFailed
	case errors.Is(err, models.ErrNegotiationCapExceeded):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrCodeExpired):
		code = http.StatusGone
	case errors.Is(err, models.ErrInvalidCode):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStateConflict):
		// Covers ErrJobAlreadyAssigned and ErrInvalidTransition too.
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
