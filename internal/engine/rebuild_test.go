package engine

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/store/mock"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// memArchive is an in-memory vecindex.Archive for rebuild tests.
type memArchive struct {
	vectors map[string][]float32
}

func newMemArchive() *memArchive {
	return &memArchive{vectors: make(map[string][]float32)}
}

func (a *memArchive) SaveVector(ctx context.Context, ref string, vector []float32, model string) error {
	v := make([]float32, len(vector))
	copy(v, vector)
	a.vectors[ref] = v
	return nil
}

func (a *memArchive) GetVector(ctx context.Context, ref string) ([]float32, error) {
	v, ok := a.vectors[ref]
	if !ok {
		return nil, vecindex.ErrNotFound
	}
	return v, nil
}

func (a *memArchive) DeleteVector(ctx context.Context, ref string) error {
	delete(a.vectors, ref)
	return nil
}

func (a *memArchive) StreamVectors(ctx context.Context, fn func(ref string, vector []float32) error) error {
	refs := make([]string, 0, len(a.vectors))
	for ref := range a.vectors {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err := fn(ref, a.vectors[ref]); err != nil {
			return err
		}
	}
	return nil
}

func newArchivedEngine(t *testing.T) (*Engine, *mock.MockStore, *vecindex.HNSWIndex, *memArchive) {
	t.Helper()
	st := mock.NewMockStore()
	idx := vecindex.NewHNSWIndex()
	archive := newMemArchive()
	eng, err := NewEngine(st, idx, testConfig(), WithArchive(archive))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, st, idx, archive
}

func TestRegisterObservationArchivesVector(t *testing.T) {
	eng, _, _, archive := newArchivedEngine(t)
	ctx := context.Background()

	obs := &store.Observation{ImageUID: "img-1", Version: 1}
	if err := eng.RegisterObservation(ctx, obs, unit(1, 0, 0, 0)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := archive.GetVector(ctx, obs.EmbeddingRef); err != nil {
		t.Errorf("vector not archived: %v", err)
	}
}

func TestRebuildIndex(t *testing.T) {
	eng, st, _, archive := newArchivedEngine(t)
	ctx := context.Background()

	seedIdentity(st, "alice", "Alice")

	// Populate through the engine so archive and store agree.
	assigned := &store.Observation{ID: "o1", ImageUID: "img-1", Version: 1}
	if err := eng.RegisterObservation(ctx, assigned, unit(1, 0, 0, 0)); err != nil {
		t.Fatalf("register o1: %v", err)
	}
	if err := eng.Assign(ctx, "o1", "alice", "reviewer"); err != nil {
		t.Fatalf("assign o1: %v", err)
	}
	loose := &store.Observation{ID: "o2", ImageUID: "img-2", Version: 1}
	if err := eng.RegisterObservation(ctx, loose, unit(0, 1, 0, 0)); err != nil {
		t.Fatalf("register o2: %v", err)
	}

	// A vector nothing references.
	if err := archive.SaveVector(ctx, "obs-ghost", unit(0, 0, 1, 0), "buffalo_l"); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	// Simulate losing the in-memory index.
	fresh := vecindex.NewHNSWIndex()
	eng.index = fresh

	result, err := eng.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Observations != 2 {
		t.Errorf("observations = %d, want 2", result.Observations)
	}
	// The manual assignment created one exemplar prototype.
	if result.Prototypes != 1 {
		t.Errorf("prototypes = %d, want 1", result.Prototypes)
	}
	if result.Orphans != 1 {
		t.Errorf("orphans = %d, want 1", result.Orphans)
	}

	// Payloads came back from the relational store.
	_, payload, err := fresh.Retrieve(ctx, "obs-o1")
	if err != nil {
		t.Fatalf("retrieve rebuilt o1: %v", err)
	}
	if payload[vecindex.PayloadIdentityID] != "alice" {
		t.Errorf("rebuilt payload identity = %q, want alice", payload[vecindex.PayloadIdentityID])
	}
	_, payload, err = fresh.Retrieve(ctx, "obs-o2")
	if err != nil {
		t.Fatalf("retrieve rebuilt o2: %v", err)
	}
	if payload[vecindex.PayloadIdentityID] != "" {
		t.Errorf("rebuilt o2 carries identity %q", payload[vecindex.PayloadIdentityID])
	}
	if _, _, err := fresh.Retrieve(ctx, "obs-ghost"); !errors.Is(err, vecindex.ErrNotFound) {
		t.Errorf("orphan vector was indexed")
	}
}

func TestRebuildIndexRequiresArchive(t *testing.T) {
	st := mock.NewMockStore()
	eng, err := NewEngine(st, vecindex.NewHNSWIndex(), testConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := eng.RebuildIndex(context.Background()); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}
