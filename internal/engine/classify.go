package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// Outcome is the classification decision for one observation.
type Outcome string

// Classification outcomes.
const (
	OutcomeAutoAssigned Outcome = "auto_assigned"
	OutcomeSuggested    Outcome = "suggested"
	OutcomeUnmatched    Outcome = "unmatched"
)

// Decision is the result of classifying a single observation against the
// prototype set.
type Decision struct {
	ObservationID string
	Outcome       Outcome
	// IdentityID is the matched identity for auto-assigned and suggested
	// outcomes, empty otherwise.
	IdentityID string
	// Score is the best similarity across all prototypes of the matched
	// identity.
	Score float64
	// SuggestionID is set when the outcome created a pending suggestion.
	SuggestionID string
}

// how many prototype hits to inspect per observation; an identity with
// many prototypes can occupy several of the top slots.
const classifySearchLimit = 20

// Classify decides what to do with one observation: assign it
// automatically above the auto threshold, raise a review suggestion in
// the band between the two thresholds, or leave it untouched below the
// suggest threshold. Already-assigned observations are refused.
//
// Auto-assignment is terminal: it never triggers propagation, so one
// confident match cannot cascade through the library unsupervised.
func (e *Engine) Classify(ctx context.Context, obsID string) (*Decision, error) {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if obs.Assigned() {
		return nil, fmt.Errorf("%w: observation %s is already assigned", ErrConflict, obsID)
	}

	vector, _, err := e.index.Retrieve(ctx, obs.EmbeddingRef)
	if err != nil {
		return nil, mapIndexErr(err)
	}
	return e.classifyVector(ctx, obs, vector)
}

// classifyVector runs the threshold decision for an observation whose
// embedding is already in hand. Shared by Classify and the batch sweep.
func (e *Engine) classifyVector(ctx context.Context, obs *store.Observation, vector []float32) (*Decision, error) {
	// Prototypes only. Searching raw observations would let one
	// mislabeled face vote as strongly as a whole identity.
	matches, err := e.index.Search(ctx, vector, vecindex.Filter{
		Kind: vecindex.KindPrototype,
	}, classifySearchLimit, e.suggestThreshold)
	if err != nil {
		return nil, mapIndexErr(err)
	}

	decision := &Decision{ObservationID: obs.ID, Outcome: OutcomeUnmatched}
	if len(matches) == 0 {
		return decision, nil
	}

	best := matches[0]
	identityID := best.Payload[vecindex.PayloadIdentityID]
	if identityID == "" {
		return nil, fmt.Errorf("%w: prototype %s has no identity payload", ErrUpstreamUnavailable, best.ID)
	}
	canonical, err := e.ResolveCanonical(ctx, identityID)
	if err != nil {
		return nil, err
	}
	decision.IdentityID = canonical.ID
	decision.Score = best.Score

	if best.Score >= e.autoThreshold {
		if err := e.assign(ctx, obs.ID, canonical.ID, "system", "auto-assigned by classification", false); err != nil {
			return nil, err
		}
		decision.Outcome = OutcomeAutoAssigned
		return decision, nil
	}

	// Between the thresholds: aggregate every prototype of the winning
	// identity that cleared the floor into one suggestion.
	scores := map[string]float64{}
	sourceObsID := ""
	for _, m := range matches {
		if m.Payload[vecindex.PayloadIdentityID] != identityID {
			continue
		}
		scores[m.ID] = m.Score
		if sourceObsID == "" {
			// Matches arrive best first; the strongest prototype with a
			// backing observation names the suggestion's source.
			sourceObsID = m.Payload[vecindex.PayloadObservationID]
		}
	}

	suggestion, err := e.createSuggestion(ctx, obs.ID, canonical.ID, best.Score, scores, sourceObsID)
	if err != nil {
		return nil, err
	}
	if suggestion == nil {
		// Rejected pair or duplicate pending suggestion; count the face as
		// matched but raise nothing.
		decision.Outcome = OutcomeUnmatched
		decision.IdentityID = ""
		decision.Score = 0
		return decision, nil
	}
	decision.Outcome = OutcomeSuggested
	decision.SuggestionID = suggestion.ID
	return decision, nil
}

// createSuggestion persists a pending suggestion unless the pair was
// previously rejected or an identical pending suggestion already exists.
// Both cases return (nil, nil): the no-op is the intended resolution, not
// an error the caller should handle.
func (e *Engine) createSuggestion(ctx context.Context, obsID, identityID string, confidence float64, scores map[string]float64, sourceObsID string) (*store.Suggestion, error) {
	rejected, err := e.store.HasRejectedSuggestion(ctx, obsID, identityID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if rejected {
		return nil, nil
	}

	suggestion := &store.Suggestion{
		ID:                  uuid.NewString(),
		ObservationID:       obsID,
		IdentityID:          identityID,
		Confidence:          confidence,
		PrototypeScores:     scores,
		PrototypeCount:      len(scores),
		SourceObservationID: sourceObsID,
		Status:              store.SuggestionPending,
		CreatedAt:           e.now().UTC(),
	}
	if err := e.store.CreateSuggestion(ctx, suggestion); err != nil {
		if isConflict(err) {
			log.Printf("suggestion for observation %s and identity %s already pending", obsID, identityID)
			return nil, nil
		}
		return nil, mapStoreErr(err)
	}
	return suggestion, nil
}
