package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) classifySweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cursor          string `json:"cursor"`
		MaxObservations int    `json:"max_observations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := s.engine.ClassifySweep(r.Context(), req.Cursor, req.MaxObservations)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"processed":     result.Processed,
		"auto_assigned": result.AutoAssigned,
		"suggested":     result.Suggested,
		"unmatched":     result.Unmatched,
		"next_cursor":   result.NextCursor,
		"errors":        itemErrors(result.Errors),
	})
}

func (s *Server) clusterSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinClusterSize int `json:"min_cluster_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := s.engine.ClusterSweep(r.Context(), req.MinClusterSize)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clustered":     result.Clustered,
		"noise":         result.NoiseCount,
		"cluster_sizes": result.ClusterSizes,
	})
}

func (s *Server) splitCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label          string `json:"label"`
		MinClusterSize int    `json:"min_cluster_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := s.engine.SplitCluster(r.Context(), req.Label, req.MinClusterSize)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clustered":     result.Clustered,
		"noise":         result.NoiseCount,
		"cluster_sizes": result.ClusterSizes,
	})
}

func (s *Server) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.RebuildIndex(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"observations": result.Observations,
		"prototypes":   result.Prototypes,
		"orphans":      result.Orphans,
	})
}
