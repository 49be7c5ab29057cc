// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

// Problem is an RFC 7807 error document.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	JobID     int64  `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.RequestID = log.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a problem. Internal errors are logged and their
// text is not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	p := Problem{Status: code, Detail: err.Error()}
	if code == http.StatusInternalServerError {
		event := "api.internal_error"
		if errors.Is(err, model.ErrInvalidTransition) {
			event = "api.invalid_transition"
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Str(log.FieldEvent, event).
			Err(err).
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		p.Detail = "internal error"
	}
	writeProblem(w, r, p)
}
