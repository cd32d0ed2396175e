package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

func TestAssignWritesBothStores(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))

	if err := eng.Assign(ctx, "o1", "alice", "reviewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "alice" {
		t.Fatalf("identity = %q, want alice", obs.IdentityID)
	}
	if obs.Version != 2 {
		t.Errorf("version = %d, want 2", obs.Version)
	}

	_, payload, err := idx.Retrieve(ctx, obs.EmbeddingRef)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if payload[vecindex.PayloadIdentityID] != "alice" {
		t.Errorf("index payload identity = %q, want alice", payload[vecindex.PayloadIdentityID])
	}

	events := st.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Op != store.OpAssign || events[0].ToIdentityID != "alice" || events[0].Actor != "reviewer" {
		t.Errorf("unexpected event %+v", events[0])
	}

	// Manual assignment promotes the face to an exemplar prototype.
	prototypes, _ := st.ListPrototypes(ctx, "alice")
	if len(prototypes) != 1 || prototypes[0].Role != store.RoleExemplar {
		t.Fatalf("expected one exemplar prototype, got %+v", prototypes)
	}
	if prototypes[0].ObservationID != "o1" {
		t.Errorf("exemplar backing observation = %s, want o1", prototypes[0].ObservationID)
	}
}

func TestAssignConflictCompensatesIndex(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))
	st.UpdateAssignmentError = store.ErrConflict

	err := eng.Assign(ctx, "o1", "alice", "reviewer")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The losing writer must roll the index payload back so the stores
	// stay consistent.
	_, payload, retErr := idx.Retrieve(ctx, "obs-o1")
	if retErr != nil {
		t.Fatalf("retrieve: %v", retErr)
	}
	if payload[vecindex.PayloadIdentityID] != "" {
		t.Errorf("index payload identity = %q after failed assign, want empty", payload[vecindex.PayloadIdentityID])
	}
	if len(st.Events()) != 0 {
		t.Errorf("failed assign wrote %d events", len(st.Events()))
	}
}

// staleObservationStore serves one stale observation snapshot before
// falling through to the backing store, mimicking a writer that read the
// row before a competing writer committed.
type staleObservationStore struct {
	store.Store
	obsID  string
	stale  store.Observation
	served bool
}

func (s *staleObservationStore) GetObservation(ctx context.Context, id string) (*store.Observation, error) {
	if id == s.obsID && !s.served {
		s.served = true
		o := s.stale
		return &o, nil
	}
	return s.Store.GetObservation(ctx, id)
}

func TestAssignRaceLoserRestoresWinnerPayload(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedIdentity(st, "bob", "Bob")
	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))

	stale, err := st.GetObservation(ctx, "o1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// The winner commits first.
	if err := eng.Assign(ctx, "o1", "alice", "winner"); err != nil {
		t.Fatalf("winning assign: %v", err)
	}

	// The loser still holds the pre-commit snapshot and must fail the
	// version check.
	loser, err := NewEngine(&staleObservationStore{Store: st, obsID: "o1", stale: *stale}, idx, testConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := loser.Assign(ctx, "o1", "bob", "loser"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Compensation restores the committed identity, not the loser's
	// stale view of it.
	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "alice" {
		t.Fatalf("identity = %q, want alice", obs.IdentityID)
	}
	_, payload, err := idx.Retrieve(ctx, obs.EmbeddingRef)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if payload[vecindex.PayloadIdentityID] != "alice" {
		t.Errorf("index payload identity = %q, want alice", payload[vecindex.PayloadIdentityID])
	}
}

func TestAssignIdempotent(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "alice", unit(1, 0, 0, 0))

	if err := eng.Assign(ctx, "o1", "alice", "reviewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// Re-assigning to the same identity mutates and audits nothing.
	if len(st.Events()) != 0 {
		t.Errorf("no-op assign wrote %d events", len(st.Events()))
	}
	obs, _ := st.GetObservation(ctx, "o1")
	if obs.Version != 1 {
		t.Errorf("no-op assign bumped version to %d", obs.Version)
	}
}

func TestUnassignExpiresSourcedSuggestions(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "alice", unit(1, 0, 0, 0))
	st.AddSuggestion(store.Suggestion{
		ID:                  "s1",
		ObservationID:       "o2",
		IdentityID:          "alice",
		SourceObservationID: "o1",
		Status:              store.SuggestionPending,
	})

	if err := eng.Unassign(ctx, "o1", "reviewer"); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "" {
		t.Fatalf("identity = %q after unassign", obs.IdentityID)
	}
	// The observation record survives; only the link is gone.
	if obs.EmbeddingRef != "obs-o1" {
		t.Errorf("embedding ref changed: %s", obs.EmbeddingRef)
	}

	_, payload, _ := idx.Retrieve(ctx, "obs-o1")
	if _, ok := payload[vecindex.PayloadIdentityID]; ok {
		t.Error("index payload still carries identity after unassign")
	}

	s, _ := st.GetSuggestion(ctx, "s1")
	if s.Status != store.SuggestionExpired {
		t.Errorf("sourced suggestion status = %s, want expired", s.Status)
	}

	events := st.Events()
	if len(events) != 1 || events[0].Op != store.OpUnassign || events[0].FromIdentityID != "alice" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestUnassignUnassignedIsNoop(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))
	if err := eng.Unassign(ctx, "o1", "reviewer"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if len(st.Events()) != 0 {
		t.Errorf("no-op unassign wrote events")
	}
}

func TestMoveAssignment(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedIdentity(st, "bob", "Bob")
	seedObservation(t, st, idx, "o1", "alice", unit(1, 0, 0, 0))

	if err := eng.MoveAssignment(ctx, "o1", "bob", "reviewer"); err != nil {
		t.Fatalf("move: %v", err)
	}

	obs, _ := st.GetObservation(ctx, "o1")
	if obs.IdentityID != "bob" {
		t.Fatalf("identity = %s, want bob", obs.IdentityID)
	}

	events := st.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Op != store.OpMove || events[0].FromIdentityID != "alice" || events[0].ToIdentityID != "bob" {
		t.Errorf("unexpected move event %+v", events[0])
	}
}

func TestMoveRequiresAssigned(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "bob", "Bob")
	seedObservation(t, st, idx, "o1", "", unit(1, 0, 0, 0))

	if err := eng.MoveAssignment(ctx, "o1", "bob", "reviewer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict moving unassigned observation, got %v", err)
	}
}

func TestBulkRemoveCollectsItemErrors(t *testing.T) {
	eng, st, idx := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")
	seedObservation(t, st, idx, "o1", "alice", unit(1, 0, 0, 0))
	seedObservation(t, st, idx, "o2", "alice", unit(0, 1, 0, 0))

	itemErrs, err := eng.BulkRemove(ctx, []string{"o1", "missing", "o2"}, "reviewer")
	if err != nil {
		t.Fatalf("bulk remove: %v", err)
	}
	if len(itemErrs) != 1 || itemErrs[0].ID != "missing" {
		t.Fatalf("item errors = %+v, want one for missing", itemErrs)
	}
	if !errors.Is(itemErrs[0].Err, ErrNotFound) {
		t.Errorf("item error = %v, want ErrNotFound", itemErrs[0].Err)
	}

	for _, id := range []string{"o1", "o2"} {
		obs, _ := st.GetObservation(ctx, id)
		if obs.IdentityID != "" {
			t.Errorf("%s still assigned to %s", id, obs.IdentityID)
		}
	}

	// One bulk event covering both removed observations.
	events := st.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Op != store.OpBulkRemove || events[0].Count != 2 {
		t.Errorf("unexpected bulk event %+v", events[0])
	}
	if events[0].FromIdentityID != "alice" {
		t.Errorf("bulk event from = %s, want alice", events[0].FromIdentityID)
	}
}
