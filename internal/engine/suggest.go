package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// PropagateFromObservation fans out review suggestions from one verified
// face: its nearest unassigned neighbors above the suggest threshold each
// get a pending suggestion for the face's identity. Propagation never
// auto-assigns, no matter how high the similarity; a human confirmed one
// face, not the whole neighborhood. The fan-out is capped so a single
// confirmation cannot flood the review queue.
func (e *Engine) PropagateFromObservation(ctx context.Context, obsID string) (int, error) {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if !obs.Assigned() {
		return 0, fmt.Errorf("%w: observation %s is unassigned, nothing to propagate", ErrConflict, obsID)
	}
	canonical, err := e.ResolveCanonical(ctx, obs.IdentityID)
	if err != nil {
		return 0, err
	}

	vector, _, err := e.index.Retrieve(ctx, obs.EmbeddingRef)
	if err != nil {
		return 0, mapIndexErr(err)
	}

	matches, err := e.index.Search(ctx, vector, vecindex.Filter{
		Kind:       vecindex.KindObservation,
		Unassigned: true,
		ExcludeIDs: []string{obs.EmbeddingRef},
	}, e.propagationLimit, e.suggestThreshold)
	if err != nil {
		return 0, mapIndexErr(err)
	}

	created := 0
	for _, m := range matches {
		targetObsID := m.Payload[vecindex.PayloadObservationID]
		if targetObsID == "" {
			continue
		}
		suggestion, err := e.createSuggestion(ctx, targetObsID, canonical.ID, m.Score,
			map[string]float64{}, obs.ID)
		if err != nil {
			log.Printf("propagating from %s to %s: %v", obs.ID, targetObsID, err)
			continue
		}
		if suggestion != nil {
			created++
		}
	}
	return created, nil
}

// GenerateForIdentity scans unassigned observations near every prototype
// of one identity and raises suggestions for those in the review band.
// Scores from multiple prototypes aggregate by maximum: the face only has
// to resemble one credible view of the person.
func (e *Engine) GenerateForIdentity(ctx context.Context, identityID string) (int, error) {
	canonical, err := e.ResolveCanonical(ctx, identityID)
	if err != nil {
		return 0, err
	}
	prototypes, err := e.store.ListPrototypes(ctx, canonical.ID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if len(prototypes) == 0 {
		return 0, fmt.Errorf("%w: identity %s has no prototypes", ErrInsufficientEvidence, canonical.ID)
	}

	// candidate observation id -> contributing prototype scores
	type candidate struct {
		scores      map[string]float64
		best        float64
		sourceObsID string
	}
	candidates := map[string]*candidate{}

	for _, proto := range prototypes {
		vector, _, err := e.index.Retrieve(ctx, proto.VectorRef)
		if err != nil {
			log.Printf("prototype %s of identity %s: %v", proto.ID, canonical.ID, err)
			continue
		}
		matches, err := e.index.Search(ctx, vector, vecindex.Filter{
			Kind:       vecindex.KindObservation,
			Unassigned: true,
		}, e.batchSize, e.suggestThreshold)
		if err != nil {
			return 0, mapIndexErr(err)
		}
		for _, m := range matches {
			obsID := m.Payload[vecindex.PayloadObservationID]
			if obsID == "" {
				continue
			}
			c, ok := candidates[obsID]
			if !ok {
				c = &candidate{scores: map[string]float64{}}
				candidates[obsID] = c
			}
			c.scores[proto.ID] = m.Score
			if m.Score > c.best {
				c.best = m.Score
				c.sourceObsID = proto.ObservationID
			}
		}
	}

	created := 0
	// Bulk generation stays review-only even above the auto threshold;
	// the classification sweep owns auto-assignment.
	for obsID, c := range candidates {
		suggestion, err := e.createSuggestion(ctx, obsID, canonical.ID, c.best, c.scores, c.sourceObsID)
		if err != nil {
			log.Printf("suggesting %s for identity %s: %v", obsID, canonical.ID, err)
			continue
		}
		if suggestion != nil {
			created++
		}
	}
	return created, nil
}

// AcceptSuggestion confirms a pending suggestion: the observation is
// assigned to the suggested identity under the usual optimistic guard,
// then the suggestion transitions to accepted. Acceptance never triggers
// a centroid recomputation inline; centroids refresh in their own sweep.
func (e *Engine) AcceptSuggestion(ctx context.Context, suggestionID, actor string) error {
	suggestion, err := e.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return mapStoreErr(err)
	}
	if suggestion.Status != store.SuggestionPending {
		return fmt.Errorf("%w: suggestion %s is %s, not pending", ErrConflict, suggestionID, suggestion.Status)
	}

	obs, err := e.store.GetObservation(ctx, suggestion.ObservationID)
	if err != nil {
		return mapStoreErr(err)
	}
	if obs.Assigned() && obs.IdentityID != suggestion.IdentityID {
		// Another reviewer won this observation; accepting now would
		// silently override their decision.
		return fmt.Errorf("%w: observation %s already belongs to identity %s",
			ErrConflict, obs.ID, obs.IdentityID)
	}

	if err := e.assign(ctx, suggestion.ObservationID, suggestion.IdentityID, actor, "accepted suggestion", true); err != nil {
		return err
	}
	if err := e.store.TransitionSuggestion(ctx, suggestionID,
		store.SuggestionPending, store.SuggestionAccepted, e.now().UTC()); err != nil {
		// The assignment stands; a racing reviewer merely beat us to the
		// status flip.
		return mapStoreErr(err)
	}

	// A freshly confirmed face is as good as a manual label.
	if _, err := e.PropagateFromObservation(ctx, suggestion.ObservationID); err != nil {
		log.Printf("propagation after accepting %s: %v", suggestionID, err)
	}
	return nil
}

// RejectSuggestion declines a pending suggestion. The pair is remembered:
// the same observation is never suggested for the same identity again.
func (e *Engine) RejectSuggestion(ctx context.Context, suggestionID string) error {
	return mapStoreErr(e.store.TransitionSuggestion(ctx, suggestionID,
		store.SuggestionPending, store.SuggestionRejected, e.now().UTC()))
}

// BulkAccept accepts many suggestions, collecting per-item failures and
// continuing past them.
func (e *Engine) BulkAccept(ctx context.Context, suggestionIDs []string, actor string) []ItemError {
	var itemErrs []ItemError
	for _, id := range suggestionIDs {
		if err := ctx.Err(); err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Err: err})
			continue
		}
		if err := e.AcceptSuggestion(ctx, id, actor); err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Err: err})
		}
	}
	return itemErrs
}

// BulkReject rejects many suggestions, collecting per-item failures.
func (e *Engine) BulkReject(ctx context.Context, suggestionIDs []string) []ItemError {
	var itemErrs []ItemError
	for _, id := range suggestionIDs {
		if err := e.RejectSuggestion(ctx, id); err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Err: err})
		}
	}
	return itemErrs
}

// PendingSuggestions lists pending suggestions, optionally for one
// identity.
func (e *Engine) PendingSuggestions(ctx context.Context, identityID string) ([]store.Suggestion, error) {
	suggestions, err := e.store.ListPendingSuggestions(ctx, identityID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return suggestions, nil
}
