package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// centroidAlgorithmVersion participates in the staleness fingerprint:
// bump it whenever the trimming or averaging rules change, and every
// stored centroid becomes stale at once.
const centroidAlgorithmVersion = "trimmed-mean-v1"

// Outlier trimming tiers. Small identities keep every face because
// trimming them would discard real variance; large ones drop the worst
// tail before averaging.
const (
	trimNoneBelow  = 50
	trimSmallPct   = 0.05
	trimLargeAbove = 300
	trimLargePct   = 0.10
)

// CentroidResult reports what a centroid recomputation did.
type CentroidResult struct {
	IdentityID string
	Prototype  *store.Prototype
	FaceCount  int
	Trimmed    int
	// Unchanged is true when the stored fingerprint already covered the
	// current face set and nothing was written.
	Unchanged bool
}

// ComputeCentroid recomputes the centroid prototype of an identity from
// its assigned faces. The computation is idempotent: when the staleness
// fingerprint of the stored centroid matches the current face set, no
// write happens. Fewer than the configured minimum of faces yields
// ErrInsufficientEvidence and leaves any existing centroid untouched.
func (e *Engine) ComputeCentroid(ctx context.Context, identityID string) (*CentroidResult, error) {
	identity, err := e.ResolveCanonical(ctx, identityID)
	if err != nil {
		return nil, err
	}

	observations, err := e.store.ListByIdentity(ctx, identity.ID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if len(observations) < e.minCentroidFaces {
		return nil, fmt.Errorf("%w: identity %s has %d faces, centroid needs %d",
			ErrInsufficientEvidence, identity.ID, len(observations), e.minCentroidFaces)
	}

	obsIDs := make([]string, len(observations))
	refs := make([]string, len(observations))
	for i, obs := range observations {
		obsIDs[i] = obs.ID
		refs[i] = obs.EmbeddingRef
	}
	fingerprint := e.centroidFingerprint(obsIDs)

	existing, err := e.store.GetCentroid(ctx, identity.ID)
	switch {
	case err == nil:
		if existing.Fingerprint == fingerprint {
			return &CentroidResult{
				IdentityID: identity.ID,
				Prototype:  existing,
				FaceCount:  existing.FaceCount,
				Unchanged:  true,
			}, nil
		}
	case !isNotFound(err):
		return nil, mapStoreErr(err)
	}

	vectors, err := e.index.RetrieveBatch(ctx, refs)
	if err != nil {
		return nil, mapIndexErr(err)
	}
	embeddings := make([][]float32, 0, len(refs))
	for _, ref := range refs {
		vec, ok := vectors[ref]
		if !ok {
			// The relational store knows a face the index lost. Skip it
			// rather than fail the whole identity.
			log.Printf("centroid for %s: embedding %s missing from index", identity.ID, ref)
			continue
		}
		embeddings = append(embeddings, vec)
	}
	if len(embeddings) < e.minCentroidFaces {
		return nil, fmt.Errorf("%w: identity %s has only %d retrievable embeddings",
			ErrInsufficientEvidence, identity.ID, len(embeddings))
	}

	centroid, trimmed := trimmedMean(embeddings)

	proto := &store.Prototype{
		ID:          uuid.NewString(),
		IdentityID:  identity.ID,
		Role:        store.RoleCentroid,
		Fingerprint: fingerprint,
		FaceCount:   len(embeddings),
		CreatedAt:   e.now().UTC(),
		UpdatedAt:   e.now().UTC(),
	}
	if existing != nil {
		// Keep the id and vector ref stable across recomputations so
		// pending suggestions referencing the centroid stay resolvable.
		proto.ID = existing.ID
		proto.VectorRef = existing.VectorRef
		proto.CreatedAt = existing.CreatedAt
		proto.Pinned = existing.Pinned
		proto.PinnedBy = existing.PinnedBy
		proto.PinnedAt = existing.PinnedAt
	}
	if proto.VectorRef == "" {
		proto.VectorRef = "proto-" + proto.ID
	}

	if err := e.index.Upsert(ctx, proto.VectorRef, centroid, vecindex.Payload{
		vecindex.PayloadKind:       vecindex.KindPrototype,
		vecindex.PayloadIdentityID: identity.ID,
		vecindex.PayloadRole:       string(store.RoleCentroid),
	}); err != nil {
		return nil, mapIndexErr(err)
	}
	if err := e.store.UpsertCentroid(ctx, proto); err != nil {
		if existing == nil {
			_ = e.index.Delete(ctx, proto.VectorRef)
		}
		return nil, mapStoreErr(err)
	}
	e.archiveVector(ctx, proto.VectorRef, centroid)

	return &CentroidResult{
		IdentityID: identity.ID,
		Prototype:  proto,
		FaceCount:  len(embeddings),
		Trimmed:    trimmed,
	}, nil
}

// centroidFingerprint hashes everything the centroid depends on: the
// embedding model, the algorithm version and the exact contributing face
// set. Identical fingerprint means identical centroid.
func (e *Engine) centroidFingerprint(obsIDs []string) string {
	sorted := make([]string, len(obsIDs))
	copy(sorted, obsIDs)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(e.modelVersion))
	h.Write([]byte{0})
	h.Write([]byte(centroidAlgorithmVersion))
	for _, id := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// trimmedMean averages unit embeddings with tiered outlier trimming. The
// trim fraction is ranked by similarity to the untrimmed mean, so faces
// least like the identity's overall appearance drop first. The result is
// re-normalized to unit length.
func trimmedMean(embeddings [][]float32) (mean []float32, trimmed int) {
	drop := 0
	switch n := len(embeddings); {
	case n < trimNoneBelow:
		drop = 0
	case n <= trimLargeAbove:
		drop = int(float64(n) * trimSmallPct)
	default:
		drop = int(float64(n) * trimLargePct)
	}

	if drop == 0 {
		return vecindex.Normalize(average(embeddings)), 0
	}

	rough := vecindex.Normalize(average(embeddings))
	type ranked struct {
		idx int
		sim float64
	}
	ranks := make([]ranked, len(embeddings))
	for i, emb := range embeddings {
		ranks[i] = ranked{idx: i, sim: vecindex.CosineSimilarity(emb, rough)}
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].sim > ranks[j].sim })

	kept := make([][]float32, 0, len(embeddings)-drop)
	for _, r := range ranks[:len(ranks)-drop] {
		kept = append(kept, embeddings[r.idx])
	}
	return vecindex.Normalize(average(kept)), drop
}

// average computes the elementwise mean of equal-length vectors.
func average(vectors [][]float32) []float32 {
	out := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			out[i] += v
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
