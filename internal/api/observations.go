package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facematch/internal/store"
)

func (s *Server) registerObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageUID  string    `json:"image_uid"`
		BBox      []float64 `json:"bbox"`
		DetScore  float64   `json:"det_score"`
		Quality   float64   `json:"quality"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Embedding) == 0 {
		respondError(w, http.StatusBadRequest, "embedding is required")
		return
	}

	obs := &store.Observation{
		ImageUID: req.ImageUID,
		BBox:     req.BBox,
		DetScore: req.DetScore,
		Quality:  req.Quality,
	}
	if err := s.engine.RegisterObservation(r.Context(), obs, req.Embedding); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"id":            obs.ID,
		"embedding_ref": obs.EmbeddingRef,
	})
}

func (s *Server) classifyObservation(w http.ResponseWriter, r *http.Request) {
	decision, err := s.engine.Classify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"observation_id": decision.ObservationID,
		"outcome":        decision.Outcome,
		"identity_id":    decision.IdentityID,
		"score":          decision.Score,
		"suggestion_id":  decision.SuggestionID,
	})
}

type assignRequest struct {
	IdentityID string `json:"identity_id"`
	Actor      string `json:"actor"`
}

func (s *Server) assignObservation(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := s.engine.Assign(r.Context(), chi.URLParam(r, "id"), req.IdentityID, req.Actor); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) moveObservation(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := s.engine.MoveAssignment(r.Context(), chi.URLParam(r, "id"), req.IdentityID, req.Actor); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) unassignObservation(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if err := s.engine.Unassign(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) bulkRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ObservationIDs []string `json:"observation_ids"`
		Actor          string   `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	errs, err := s.engine.BulkRemove(r.Context(), req.ObservationIDs, req.Actor)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"removed": len(req.ObservationIDs) - len(errs),
		"errors":  itemErrors(errs),
	})
}
