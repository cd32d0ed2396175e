package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) acceptSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := s.engine.AcceptSuggestion(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RejectSuggestion(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type bulkSuggestionRequest struct {
	SuggestionIDs []string `json:"suggestion_ids"`
	Actor         string   `json:"actor"`
}

func (s *Server) bulkAccept(w http.ResponseWriter, r *http.Request) {
	var req bulkSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	errs := s.engine.BulkAccept(r.Context(), req.SuggestionIDs, req.Actor)
	respondJSON(w, http.StatusOK, map[string]any{
		"accepted": len(req.SuggestionIDs) - len(errs),
		"errors":   itemErrors(errs),
	})
}

func (s *Server) bulkReject(w http.ResponseWriter, r *http.Request) {
	var req bulkSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	errs := s.engine.BulkReject(r.Context(), req.SuggestionIDs)
	respondJSON(w, http.StatusOK, map[string]any{
		"rejected": len(req.SuggestionIDs) - len(errs),
		"errors":   itemErrors(errs),
	})
}
