// Package httputil holds the JSON response and request helpers shared by
// HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"entityid/pkg/platform/sentinel"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the error envelope every endpoint returns.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Status maps a sentinel error to its HTTP status and error code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, sentinel.ErrExhausted):
		return http.StatusConflict, "exhausted"
	case errors.Is(err, sentinel.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, sentinel.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError writes err as an ErrorResponse. Internal errors carry no
// description.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Status(err)
	resp := ErrorResponse{Error: code}
	if status != http.StatusInternalServerError {
		resp.ErrorDescription = err.Error()
	}
	WriteJSON(w, status, resp)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body into T. On failure it writes a 400 response,
// logs the reason and returns false.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(r.Context(), "invalid request body", "error", err)
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            "bad_request",
			ErrorDescription: "invalid request body",
		})
		return req, false
	}
	return req, true
}
