package maria

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/facematch/internal/engine"
	"github.com/kozaktomas/facematch/internal/store"
)

// Importer seeds the identity store and vector index from a PhotoPrism
// library. Markers without an embedding cannot be indexed and are
// skipped; labeled markers are assigned to an identity named after their
// subject.
type Importer struct {
	pool   *Pool
	engine *engine.Engine
	store  store.Store
	dim    int
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Markers      int // face markers read from the library
	Identities   int // identities created for previously unseen subjects
	Observations int // observations registered and indexed
	Assigned     int // observations assigned to their subject's identity
	Skipped      int // markers without a usable embedding
}

// NewImporter wires an importer to a source library and the engine that
// receives the imported faces.
func NewImporter(pool *Pool, eng *engine.Engine, st store.Store, dim int) *Importer {
	return &Importer{pool: pool, engine: eng, store: st, dim: dim}
}

// Run imports every face marker from the library.
func (imp *Importer) Run(ctx context.Context) (*ImportStats, error) {
	markers, err := imp.pool.ListFaceMarkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing face markers: %w", err)
	}
	return imp.importMarkers(ctx, markers)
}

func (imp *Importer) importMarkers(ctx context.Context, markers []FaceMarker) (*ImportStats, error) {
	stats := &ImportStats{Markers: len(markers)}
	identityIDs := make(map[string]string) // normalized subject name -> identity id

	for _, m := range markers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(m.Embedding) == 0 {
			stats.Skipped++
			continue
		}
		if len(m.Embedding) != imp.dim {
			log.Printf("marker %s: embedding has %d dimensions, want %d, skipping",
				m.MarkerUID, len(m.Embedding), imp.dim)
			stats.Skipped++
			continue
		}

		obs := &store.Observation{
			ImageUID: m.FileUID,
			BBox:     []float64{m.X, m.Y, m.X + m.W, m.Y + m.H},
			DetScore: float64(m.Score) / 100,
			Quality:  float64(m.Score) / 100,
		}
		if err := imp.engine.RegisterObservation(ctx, obs, m.Embedding); err != nil {
			return stats, fmt.Errorf("registering marker %s: %w", m.MarkerUID, err)
		}
		stats.Observations++

		if m.SubjectName == "" {
			continue
		}
		identityID, err := imp.identityFor(ctx, m.SubjectName, identityIDs, stats)
		if err != nil {
			return stats, fmt.Errorf("resolving subject %q: %w", m.SubjectName, err)
		}
		if err := imp.engine.Assign(ctx, obs.ID, identityID, "import"); err != nil {
			return stats, fmt.Errorf("assigning marker %s: %w", m.MarkerUID, err)
		}
		stats.Assigned++
	}

	return stats, nil
}

// identityFor maps a subject name to an identity, creating one the first
// time a subject is seen. A name collision means the identity already
// exists from an earlier run and is reused.
func (imp *Importer) identityFor(ctx context.Context, name string, cache map[string]string, stats *ImportStats) (string, error) {
	normalized := store.NormalizeDisplayName(name)
	if id, ok := cache[normalized]; ok {
		return id, nil
	}

	identity, err := imp.engine.CreateIdentity(ctx, name)
	switch {
	case err == nil:
		stats.Identities++
	case errors.Is(err, engine.ErrConflict):
		identity, err = imp.store.GetIdentityByName(ctx, normalized)
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	cache[normalized] = identity.ID
	return identity.ID, nil
}
