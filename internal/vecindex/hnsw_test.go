package vecindex

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func unitVec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestHNSWIndex_UpsertAndRetrieve(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	vec := unitVec(8, 0)
	payload := Payload{PayloadKind: KindObservation, PayloadObservationID: "obs1"}
	if err := idx.Upsert(ctx, "obs1", vec, payload); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, gotPayload, err := idx.Retrieve(ctx, "obs1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 8 || got[0] != 1 {
		t.Errorf("unexpected vector: %v", got)
	}
	if gotPayload[PayloadKind] != KindObservation {
		t.Errorf("expected kind %q, got %q", KindObservation, gotPayload[PayloadKind])
	}

	// Payloads are copied, not shared.
	payload[PayloadKind] = "mutated"
	_, gotPayload, _ = idx.Retrieve(ctx, "obs1")
	if gotPayload[PayloadKind] != KindObservation {
		t.Error("payload was not copied on upsert")
	}
}

func TestHNSWIndex_Upsert_ReplacesExisting(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "p", unitVec(4, 0), Payload{PayloadKind: KindPrototype}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	// Re-upserting the same id replaces vector and payload in place.
	next := Normalize([]float32{0, 1, 0, 0})
	if err := idx.Upsert(ctx, "p", next, Payload{PayloadKind: KindPrototype, PayloadIdentityID: "id1"}); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}
	if idx.Count() != 1 {
		t.Fatalf("expected 1 point after re-upsert, got %d", idx.Count())
	}

	got, payload, err := idx.Retrieve(ctx, "p")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got[1] != 1 {
		t.Errorf("vector not replaced: %v", got)
	}
	if payload[PayloadIdentityID] != "id1" {
		t.Errorf("payload not replaced: %v", payload)
	}

	// The graph must answer searches with the new vector, not the old one.
	matches, err := idx.Search(ctx, next, Filter{}, 1, 0.99)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "p" {
		t.Fatalf("expected the replaced point, got %v", matches)
	}
}

func TestHNSWIndex_Retrieve_NotFound(t *testing.T) {
	idx := NewHNSWIndex()
	_, _, err := idx.Retrieve(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing point")
	}
}

func TestHNSWIndex_Search_FilterByKind(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	base := Normalize([]float32{1, 1, 0, 0})
	idx.Upsert(ctx, "proto1", base, Payload{PayloadKind: KindPrototype, PayloadIdentityID: "id1"})
	idx.Upsert(ctx, "obs1", Normalize([]float32{1, 0.9, 0, 0}), Payload{PayloadKind: KindObservation})
	idx.Upsert(ctx, "obs2", Normalize([]float32{0, 0, 1, 0}), Payload{PayloadKind: KindObservation})

	matches, err := idx.Search(ctx, base, Filter{Kind: KindPrototype}, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 prototype match, got %d", len(matches))
	}
	if matches[0].ID != "proto1" {
		t.Errorf("expected proto1, got %s", matches[0].ID)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("expected near-perfect score, got %f", matches[0].Score)
	}
}

func TestHNSWIndex_Search_UnassignedFilter(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	q := unitVec(4, 0)
	idx.Upsert(ctx, "assigned", q, Payload{PayloadKind: KindObservation, PayloadIdentityID: "id1"})
	idx.Upsert(ctx, "free", unitVec(4, 0), Payload{PayloadKind: KindObservation})

	matches, err := idx.Search(ctx, q, Filter{Kind: KindObservation, Unassigned: true}, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "free" {
		t.Fatalf("expected only the unassigned point, got %v", matches)
	}
}

func TestHNSWIndex_Search_ScoreThreshold(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	q := unitVec(4, 0)
	idx.Upsert(ctx, "close", Normalize([]float32{1, 0.1, 0, 0}), Payload{})
	idx.Upsert(ctx, "far", unitVec(4, 1), Payload{})

	matches, err := idx.Search(ctx, q, Filter{}, 10, 0.9)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "close" {
		t.Fatalf("expected only the close point above threshold, got %v", matches)
	}
}

func TestHNSWIndex_Delete_RemovesFromSearch(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	q := unitVec(4, 0)
	idx.Upsert(ctx, "a", q, Payload{})
	idx.Upsert(ctx, "b", unitVec(4, 0), Payload{})

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if idx.Count() != 1 {
		t.Errorf("expected count 1 after delete, got %d", idx.Count())
	}

	matches, _ := idx.Search(ctx, q, Filter{}, 10, 0)
	for _, m := range matches {
		if m.ID == "a" {
			t.Error("deleted point appeared in search results")
		}
	}
}

func TestHNSWIndex_Search_AfterDelete(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	q := unitVec(4, 0)
	// Two points nearest to the query get deleted; the surviving point is
	// farther away but must still be found with a small limit.
	idx.Upsert(ctx, "near1", Normalize([]float32{1, 0.1, 0, 0}), Payload{PayloadKind: KindObservation})
	idx.Upsert(ctx, "near2", Normalize([]float32{1, 0.2, 0, 0}), Payload{PayloadKind: KindObservation})
	idx.Upsert(ctx, "far", Normalize([]float32{1, 1, 0, 0}), Payload{PayloadKind: KindObservation})

	idx.Delete(ctx, "near1")
	idx.Delete(ctx, "near2")

	matches, err := idx.Search(ctx, q, Filter{Kind: KindObservation}, 1, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "far" {
		t.Fatalf("expected the surviving point, got %v", matches)
	}
}

func TestHNSWIndex_PatchPayload(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "p", unitVec(4, 0), Payload{PayloadKind: KindObservation})
	if err := idx.PatchPayload(ctx, "p", Payload{PayloadIdentityID: "id9"}); err != nil {
		t.Fatalf("PatchPayload failed: %v", err)
	}

	_, payload, _ := idx.Retrieve(ctx, "p")
	if payload[PayloadIdentityID] != "id9" {
		t.Errorf("expected patched identity id9, got %q", payload[PayloadIdentityID])
	}
	if payload[PayloadKind] != KindObservation {
		t.Error("patch overwrote unrelated field")
	}

	if err := idx.DeletePayloadKey(ctx, "p", PayloadIdentityID); err != nil {
		t.Fatalf("DeletePayloadKey failed: %v", err)
	}
	_, payload, _ = idx.Retrieve(ctx, "p")
	if _, ok := payload[PayloadIdentityID]; ok {
		t.Error("expected identity key removed")
	}
}

func TestHNSWIndex_RetrieveBatch(t *testing.T) {
	idx := NewHNSWIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "a", unitVec(4, 0), Payload{})
	idx.Upsert(ctx, "b", unitVec(4, 1), Payload{})

	vectors, err := idx.RetrieveBatch(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("RetrieveBatch failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if _, ok := vectors["missing"]; ok {
		t.Error("unknown id should be absent, not present")
	}
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faces.idx")
	ctx := context.Background()

	idx := NewHNSWIndex()
	idx.SetPath(path)
	idx.Upsert(ctx, "a", Normalize([]float32{1, 2, 0, 0}), Payload{PayloadKind: KindObservation})
	idx.Upsert(ctx, "gone", unitVec(4, 3), Payload{})
	idx.Delete(ctx, "gone")

	if err := idx.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewHNSWIndex()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 1 {
		t.Fatalf("expected 1 point after load, got %d", loaded.Count())
	}

	// Deleted points must not resurrect through persistence.
	if _, _, err := loaded.Retrieve(ctx, "gone"); err == nil {
		t.Error("deleted point resurrected by Load")
	}

	meta, err := LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if meta.PointCount != 1 {
		t.Errorf("expected metadata point count 1, got %d", meta.PointCount)
	}
}

func TestHNSWIndex_Load_MissingFile(t *testing.T) {
	idx := NewHNSWIndex()
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.idx")); err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1}, []float32{1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("expected unit norm, got %f", norm)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector should be unchanged")
	}
}
