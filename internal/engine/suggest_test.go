package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/facematch/internal/store"
)

func TestPropagateFromObservation(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "anchor", "alice", unit(1, 0, 0, 0))
	// Two unassigned neighbors inside the band, one far away.
	seedObservation(t, st, idx, "near1", "", unit(1, 0.6, 0, 0))
	seedObservation(t, st, idx, "near2", "", unit(1, 0.7, 0, 0))
	seedObservation(t, st, idx, "far", "", unit(0, 0, 0, 1))

	created, err := eng.PropagateFromObservation(ctx, "anchor")
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}

	for _, id := range []string{"near1", "near2"} {
		obs, _ := st.GetObservation(ctx, id)
		// Propagation only suggests; it never assigns.
		if obs.IdentityID != "" {
			t.Errorf("%s was assigned to %s by propagation", id, obs.IdentityID)
		}
	}

	suggestions := st.Suggestions()
	if len(suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(suggestions))
	}
	for _, s := range suggestions {
		if s.SourceObservationID != "anchor" {
			t.Errorf("suggestion source = %s, want anchor", s.SourceObservationID)
		}
		if s.Status != store.SuggestionPending {
			t.Errorf("suggestion status = %s, want pending", s.Status)
		}
	}
}

func TestPropagateRequiresAssignedSource(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))
	if _, err := eng.PropagateFromObservation(ctx, "o1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPropagateSkipsRejectedPairs(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "anchor", "alice", unit(1, 0, 0, 0))
	seedObservation(t, st, idx, "near", "", unit(1, 0.5, 0, 0))
	st.AddSuggestion(store.Suggestion{
		ID:            "s-old",
		ObservationID: "near",
		IdentityID:    "alice",
		Status:        store.SuggestionRejected,
	})

	created, err := eng.PropagateFromObservation(ctx, "anchor")
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0 for rejected pair", created)
	}
}

func TestGenerateForIdentityAggregatesByMax(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedPrototype(t, st, idx, "p1", "alice", store.RoleCentroid, "", unit(1, 0, 0, 0))
	seedPrototype(t, st, idx, "p2", "alice", store.RoleExemplar, "o-anchor", unit(0.8, 0.6, 0, 0))
	// Closer to p2 than to p1; both above the floor.
	seedObservation(t, st, idx, "o1", "", unit(0.85, 0.5, 0, 0))

	created, err := eng.GenerateForIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	suggestions := st.Suggestions()
	s := suggestions[0]
	if s.PrototypeCount != 2 {
		t.Fatalf("prototype count = %d, want 2 (scores %v)", s.PrototypeCount, s.PrototypeScores)
	}
	// The aggregate is the maximum, which p2 provides here.
	if s.Confidence != s.PrototypeScores["p2"] {
		t.Errorf("confidence %.4f, want max score %.4f from p2", s.Confidence, s.PrototypeScores["p2"])
	}
	if s.PrototypeScores["p2"] <= s.PrototypeScores["p1"] {
		t.Errorf("expected p2 closer than p1, got %v", s.PrototypeScores)
	}
}

func TestGenerateForIdentityNeedsPrototypes(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	if _, err := eng.GenerateForIdentity(ctx, "alice"); !errors.Is(err, ErrInsufficientEvidence) {
		t.Fatalf("expected ErrInsufficientEvidence, got %v", err)
	}
}

func TestAcceptSuggestion(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "", unit(1, 0.75, 0, 0))
	st.AddSuggestion(store.Suggestion{
		ID:            "s1",
		ObservationID: "o1",
		IdentityID:    "alice",
		Confidence:    0.8,
		Status:        store.SuggestionPending,
	})

	if err := eng.AcceptSuggestion(ctx, "s1", "reviewer"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "alice" {
		t.Fatalf("identity = %q, want alice", obs.IdentityID)
	}
	s, _ := st.GetSuggestion(ctx, "s1")
	if s.Status != store.SuggestionAccepted {
		t.Errorf("status = %s, want accepted", s.Status)
	}
	if s.ReviewedAt == nil {
		t.Error("reviewed_at not set")
	}

	// Acceptance promotes the face to an exemplar but never recomputes
	// the centroid inline.
	prototypes, _ := st.ListPrototypes(ctx, "alice")
	if len(prototypes) != 1 || prototypes[0].Role != store.RoleExemplar {
		t.Fatalf("expected one exemplar, got %+v", prototypes)
	}
}

func TestAcceptNonPendingConflicts(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	st.AddSuggestion(store.Suggestion{
		ID:            "s1",
		ObservationID: "o1",
		IdentityID:    "alice",
		Status:        store.SuggestionRejected,
	})
	if err := eng.AcceptSuggestion(ctx, "s1", "reviewer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCompetingAcceptsOneWinner(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedIdentity(st, "bob", "Bob")
	seedObservation(t, st, idx, "o1", "", unit(1, 0.75, 0, 0))
	st.AddSuggestion(store.Suggestion{
		ID: "s1", ObservationID: "o1", IdentityID: "alice",
		Confidence: 0.8, Status: store.SuggestionPending,
	})
	st.AddSuggestion(store.Suggestion{
		ID: "s2", ObservationID: "o1", IdentityID: "bob",
		Confidence: 0.75, Status: store.SuggestionPending,
	})

	if err := eng.AcceptSuggestion(ctx, "s1", "reviewer-a"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := eng.AcceptSuggestion(ctx, "s2", "reviewer-b"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second accept, got %v", err)
	}

	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "alice" {
		t.Errorf("identity = %q, want the first winner alice", obs.IdentityID)
	}
	s2, _ := st.GetSuggestion(ctx, "s2")
	if s2.Status != store.SuggestionPending {
		t.Errorf("losing suggestion status = %s, want still pending", s2.Status)
	}
}

func TestAcceptUnassignClassifyRoundTrip(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedPrototype(t, st, idx, "p1", "alice", store.RoleCentroid, "", unit(1, 0, 0, 0))
	seedObservation(t, st, idx, "o1", "", unit(1, 0.75, 0, 0))

	first, err := eng.Classify(ctx, "o1")
	if err != nil || first.Outcome != OutcomeSuggested {
		t.Fatalf("setup classify: %v %+v", err, first)
	}
	if err := eng.AcceptSuggestion(ctx, first.SuggestionID, "reviewer"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := eng.Unassign(ctx, "o1", "reviewer"); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	// Retracting the label also retracts the exemplar it minted; the
	// identity's evidence is back to the original prototype set.
	prototypes, _ := st.ListPrototypes(ctx, "alice")
	if len(prototypes) != 1 || prototypes[0].ID != "p1" {
		t.Fatalf("prototypes after unassign = %+v, want only p1", prototypes)
	}

	second, err := eng.Classify(ctx, "o1")
	if err != nil {
		t.Fatalf("re-classify: %v", err)
	}
	if second.Outcome != OutcomeSuggested {
		t.Fatalf("outcome = %s, want suggested again", second.Outcome)
	}
	if diff := second.Score - first.Score; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("score = %v, want %v within tolerance", second.Score, first.Score)
	}
}

func TestRejectSuggestionBlocksResuggestion(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedPrototype(t, st, idx, "p1", "alice", store.RoleCentroid, "", unit(1, 0, 0, 0))
	seedObservation(t, st, idx, "o1", "", unit(1, 0.75, 0, 0))

	decision, err := eng.Classify(ctx, "o1")
	if err != nil || decision.Outcome != OutcomeSuggested {
		t.Fatalf("setup classify: %v %+v", err, decision)
	}
	if err := eng.RejectSuggestion(ctx, decision.SuggestionID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// The same pair must never come back.
	again, err := eng.Classify(ctx, "o1")
	if err != nil {
		t.Fatalf("re-classify: %v", err)
	}
	if again.Outcome != OutcomeUnmatched {
		t.Errorf("outcome = %s, want unmatched after rejection", again.Outcome)
	}
}

func TestBulkAcceptCollectsItemErrors(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))
	st.AddSuggestion(store.Suggestion{
		ID:            "s1",
		ObservationID: "o1",
		IdentityID:    "alice",
		Status:        store.SuggestionPending,
	})

	itemErrs := eng.BulkAccept(ctx, []string{"s1", "missing"}, "reviewer")
	if len(itemErrs) != 1 || itemErrs[0].ID != "missing" {
		t.Fatalf("item errors = %+v, want one for missing", itemErrs)
	}
	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "alice" {
		t.Errorf("s1 not applied, identity = %q", obs.IdentityID)
	}
}
