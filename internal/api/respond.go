package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternalError   = "internal_error"
	ErrCodeValidationError = "validation_error"
	ErrCodeUnavailable     = "unavailable"
)

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// respondError writes a standardized JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := map[string]string{
		"code":    code,
		"message": message,
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		resp["request_id"] = rid
	}
	respondJSON(w, r, status, resp)
}
