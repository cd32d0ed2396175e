package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facematch/internal/store"
)

type identityResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

func (s *Server) createIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	identity, err := s.engine.CreateIdentity(r.Context(), req.DisplayName)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, identityResponse{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		Status:      string(identity.Status),
	})
}

func (s *Server) getIdentity(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":           summary.Identity.ID,
		"display_name": summary.Identity.DisplayName,
		"status":       string(summary.Identity.Status),
		"merged_into":  summary.Identity.MergedInto,
		"face_count":   summary.FaceCount,
		"created_at":   summary.Identity.CreatedAt.Format(timeFormat),
	})
}

func (s *Server) hideIdentity(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.HideIdentity(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unhideIdentity(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnhideIdentity(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mergeIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Into string `json:"into"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := s.engine.MergeIdentities(r.Context(), chi.URLParam(r, "id"), req.Into); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type eventResponse struct {
	ID             string   `json:"id"`
	Op             string   `json:"op"`
	FromIdentityID string   `json:"from_identity_id,omitempty"`
	ToIdentityID   string   `json:"to_identity_id,omitempty"`
	ObservationIDs []string `json:"observation_ids"`
	ImageUIDs      []string `json:"image_uids"`
	Count          int      `json:"count"`
	Actor          string   `json:"actor"`
	Note           string   `json:"note,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.engine.Events(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:             e.ID,
			Op:             string(e.Op),
			FromIdentityID: e.FromIdentityID,
			ToIdentityID:   e.ToIdentityID,
			ObservationIDs: e.ObservationIDs,
			ImageUIDs:      e.ImageUIDs,
			Count:          e.Count,
			Actor:          e.Actor,
			Note:           e.Note,
			CreatedAt:      e.CreatedAt.Format(timeFormat),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) computeCentroid(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ComputeCentroid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity_id":  result.IdentityID,
		"prototype_id": result.Prototype.ID,
		"face_count":   result.FaceCount,
		"trimmed":      result.Trimmed,
		"unchanged":    result.Unchanged,
	})
}

type suggestionResponse struct {
	ID              string             `json:"id"`
	ObservationID   string             `json:"observation_id"`
	IdentityID      string             `json:"identity_id"`
	Confidence      float64            `json:"confidence"`
	PrototypeScores map[string]float64 `json:"prototype_scores"`
	PrototypeCount  int                `json:"prototype_count"`
	Status          string             `json:"status"`
	CreatedAt       string             `json:"created_at"`
}

func toSuggestionResponses(suggestions []store.Suggestion) []suggestionResponse {
	out := make([]suggestionResponse, 0, len(suggestions))
	for _, sg := range suggestions {
		out = append(out, suggestionResponse{
			ID:              sg.ID,
			ObservationID:   sg.ObservationID,
			IdentityID:      sg.IdentityID,
			Confidence:      sg.Confidence,
			PrototypeScores: sg.PrototypeScores,
			PrototypeCount:  sg.PrototypeCount,
			Status:          string(sg.Status),
			CreatedAt:       sg.CreatedAt.Format(timeFormat),
		})
	}
	return out
}

func (s *Server) listSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.engine.PendingSuggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"suggestions": toSuggestionResponses(suggestions),
	})
}

func (s *Server) generateSuggestions(w http.ResponseWriter, r *http.Request) {
	created, err := s.engine.GenerateForIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"created": created})
}
