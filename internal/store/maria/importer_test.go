package maria

import (
	"context"
	"testing"

	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/engine"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/store/mock"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

func newTestImporter(t *testing.T) (*Importer, *mock.MockStore, vecindex.Index) {
	t.Helper()
	st := mock.NewMockStore()
	idx := vecindex.NewHNSWIndex()
	cfg := &config.Config{
		Embedding: config.EmbeddingConfig{Dim: 4, ModelVersion: "buffalo_l"},
		Matching: config.MatchingConfig{
			AutoThreshold:    0.85,
			SuggestThreshold: 0.70,
			PropagationLimit: 50,
			MinCentroidFaces: 2,
			BatchSize:        10,
		},
		Cluster: config.ClusterConfig{MaxSetSize: 1000, MinClusterSize: 3, MinSamples: 2},
	}
	eng, err := engine.NewEngine(st, idx, cfg)
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	return NewImporter(nil, eng, st, 4), st, idx
}

func TestImportMarkers(t *testing.T) {
	imp, st, idx := newTestImporter(t)
	ctx := context.Background()

	markers := []FaceMarker{
		{MarkerUID: "m1", FileUID: "img-1", X: 0.1, Y: 0.2, W: 0.3, H: 0.3,
			Score: 95, SubjectName: "Alice", Embedding: []float32{1, 0, 0, 0}},
		{MarkerUID: "m2", FileUID: "img-2", Score: 88, SubjectName: "alice",
			Embedding: []float32{0.9, 0.1, 0, 0}},
		{MarkerUID: "m3", FileUID: "img-3", Score: 70,
			Embedding: []float32{0, 1, 0, 0}},
		{MarkerUID: "m4", FileUID: "img-4", Score: 50, SubjectName: "Bob"},
	}

	stats, err := imp.importMarkers(ctx, markers)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Markers != 4 || stats.Observations != 3 || stats.Skipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// "Alice" and "alice" normalize to the same subject.
	if stats.Identities != 1 {
		t.Errorf("identities = %d, want 1", stats.Identities)
	}
	if stats.Assigned != 2 {
		t.Errorf("assigned = %d, want 2", stats.Assigned)
	}

	// Three observation vectors plus one exemplar prototype per assignment.
	if n := idx.Count(); n != 5 {
		t.Errorf("indexed vectors = %d, want 5", n)
	}

	unassigned, err := st.ListUnassigned(ctx, "", 10)
	if err != nil {
		t.Fatalf("list unassigned: %v", err)
	}
	if len(unassigned) != 1 {
		t.Errorf("unassigned = %d, want 1", len(unassigned))
	}
}

func TestImportSkipsBadDimensions(t *testing.T) {
	imp, _, idx := newTestImporter(t)
	ctx := context.Background()

	stats, err := imp.importMarkers(ctx, []FaceMarker{
		{MarkerUID: "m1", FileUID: "img-1", Score: 90, Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Skipped != 1 || stats.Observations != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if n := idx.Count(); n != 0 {
		t.Errorf("indexed vectors = %d, want 0", n)
	}
}

func TestImportReusesExistingIdentity(t *testing.T) {
	imp, st, _ := newTestImporter(t)
	ctx := context.Background()

	st.AddIdentity(store.Identity{
		ID:             "alice",
		DisplayName:    "Alice",
		NormalizedName: store.NormalizeDisplayName("Alice"),
		Status:         store.IdentityActive,
	})

	stats, err := imp.importMarkers(ctx, []FaceMarker{
		{MarkerUID: "m1", FileUID: "img-1", Score: 90, SubjectName: "ALICE",
			Embedding: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Identities != 0 {
		t.Errorf("identities = %d, want 0 (reused)", stats.Identities)
	}
	obs, err := st.ListUnassigned(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(obs) != 0 {
		t.Errorf("unassigned = %d, want 0", len(obs))
	}
}

func TestParseEmbeddings(t *testing.T) {
	got, err := parseEmbeddings("[[0.5, -0.25, 1]]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 || got[1] != -0.25 {
		t.Errorf("parsed = %v", got)
	}

	for _, empty := range []string{"", "null", "[]"} {
		got, err := parseEmbeddings(empty)
		if err != nil {
			t.Fatalf("parse %q: %v", empty, err)
		}
		if got != nil {
			t.Errorf("parse %q = %v, want nil", empty, got)
		}
	}

	if _, err := parseEmbeddings("{broken"); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
