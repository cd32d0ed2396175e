package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/facematch/internal/engine"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

const timeFormat = time.RFC3339

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps an engine error kind to an HTTP status.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientEvidence):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrClusterSetTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, err.Error())
}

// itemErrors converts batch item errors to a JSON-friendly shape.
func itemErrors(errs []engine.ItemError) []map[string]string {
	out := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]string{"id": e.ID, "error": e.Err.Error()})
	}
	return out
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
