package api

import "github.com/go-chi/chi/v5"

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", s.healthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Identities
		r.Post("/identities", s.createIdentity)
		r.Get("/identities/{id}", s.getIdentity)
		r.Post("/identities/{id}/hide", s.hideIdentity)
		r.Post("/identities/{id}/unhide", s.unhideIdentity)
		r.Post("/identities/{id}/merge", s.mergeIdentity)
		r.Get("/identities/{id}/events", s.listEvents)
		r.Post("/identities/{id}/centroid", s.computeCentroid)
		r.Get("/identities/{id}/suggestions", s.listSuggestions)
		r.Post("/identities/{id}/suggestions", s.generateSuggestions)

		// Observations
		r.Post("/observations", s.registerObservation)
		r.Post("/observations/{id}/classify", s.classifyObservation)
		r.Post("/observations/{id}/assign", s.assignObservation)
		r.Post("/observations/{id}/move", s.moveObservation)
		r.Delete("/observations/{id}/assignment", s.unassignObservation)
		r.Post("/observations/remove", s.bulkRemove)

		// Suggestions
		r.Post("/suggestions/{id}/accept", s.acceptSuggestion)
		r.Post("/suggestions/{id}/reject", s.rejectSuggestion)
		r.Post("/suggestions/accept", s.bulkAccept)
		r.Post("/suggestions/reject", s.bulkReject)

		// Batch sweeps
		r.Post("/classify", s.classifySweep)
		r.Post("/cluster", s.clusterSweep)
		r.Post("/cluster/split", s.splitCluster)
		r.Post("/rebuild-index", s.rebuildIndex)
	})
}
