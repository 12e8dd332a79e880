// Package http provides the HTTP handlers, routes and middleware for the
// ResearchFlow API.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gpericol/researchflow/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// intParam parses a numeric URL parameter. A malformed value is a 400.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(urlParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

type errorResponse struct {
	Error string `json:"error"`
}

// outcomeResponse is the success/error envelope the study endpoints answer
// with. Rejections travel inside it with HTTP 200; only malformed requests
// and server faults use non-2xx statuses.
type outcomeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeOutcomeError maps a domain error onto the success/error envelope.
// Business rejections (unknown group, stale index, already running, nothing
// to do) answer 200 with success=false so callers can surface the message
// and retry; anything else is a server fault.
func writeOutcomeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusOK, outcomeResponse{Success: false, Error: rootMessage(err)})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, outcomeResponse{Success: false, Error: "internal server error"})
	}
}

// writeDomainError maps a domain error onto a plain REST status.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, rootMessage(err))
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage strips the wrapped sentinel suffix from an error message,
// leaving the human-readable part.
func rootMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrConflict, domain.ErrValidation} {
		msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	}
	return msg
}
