package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// RebuildResult summarizes one index rebuild.
type RebuildResult struct {
	Observations int
	Prototypes   int
	// Orphans counts archived vectors with no relational record. They are
	// skipped, not indexed: an orphan vector cannot carry a payload.
	Orphans int
}

// RebuildIndex repopulates the in-memory vector index from the durable
// archive, reconstructing every point's payload from the relational
// store. Run it after a lost or stale index file; it requires an archive.
func (e *Engine) RebuildIndex(ctx context.Context) (*RebuildResult, error) {
	if e.archive == nil {
		return nil, fmt.Errorf("%w: rebuild requires a vector archive", ErrInvalidConfiguration)
	}

	prototypes, err := e.store.ListAllPrototypes(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	protoByRef := make(map[string]store.Prototype, len(prototypes))
	for _, p := range prototypes {
		protoByRef[p.VectorRef] = p
	}

	result := &RebuildResult{}
	var pendingObs []string
	vectors := make(map[string][]float32)

	flush := func() error {
		if len(pendingObs) == 0 {
			return nil
		}
		ids := make([]string, len(pendingObs))
		for i, ref := range pendingObs {
			ids[i] = strings.TrimPrefix(ref, "obs-")
		}
		observations, err := e.store.GetObservations(ctx, ids)
		if err != nil {
			return mapStoreErr(err)
		}
		byRef := make(map[string]store.Observation, len(observations))
		for _, obs := range observations {
			byRef[obs.EmbeddingRef] = obs
		}
		for _, ref := range pendingObs {
			obs, ok := byRef[ref]
			if !ok {
				result.Orphans++
				log.Printf("rebuild: archived vector %s has no observation", ref)
				continue
			}
			payload := vecindex.Payload{
				vecindex.PayloadKind:          vecindex.KindObservation,
				vecindex.PayloadObservationID: obs.ID,
			}
			if obs.IdentityID != "" {
				payload[vecindex.PayloadIdentityID] = obs.IdentityID
			}
			if obs.ClusterLabel != "" {
				payload[vecindex.PayloadClusterLabel] = obs.ClusterLabel
			}
			if err := e.index.Upsert(ctx, ref, vectors[ref], payload); err != nil {
				return mapIndexErr(err)
			}
			result.Observations++
		}
		pendingObs = pendingObs[:0]
		clear(vectors)
		return nil
	}

	err = e.archive.StreamVectors(ctx, func(ref string, vector []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p, ok := protoByRef[ref]; ok {
			payload := vecindex.Payload{
				vecindex.PayloadKind:       vecindex.KindPrototype,
				vecindex.PayloadIdentityID: p.IdentityID,
				vecindex.PayloadRole:       string(p.Role),
			}
			if p.ObservationID != "" {
				payload[vecindex.PayloadObservationID] = p.ObservationID
			}
			if err := e.index.Upsert(ctx, ref, vector, payload); err != nil {
				return mapIndexErr(err)
			}
			result.Prototypes++
			return nil
		}
		if strings.HasPrefix(ref, "obs-") {
			v := make([]float32, len(vector))
			copy(v, vector)
			vectors[ref] = v
			pendingObs = append(pendingObs, ref)
			if len(pendingObs) >= e.batchSize {
				return flush()
			}
			return nil
		}
		result.Orphans++
		log.Printf("rebuild: archived vector %s matches no known point", ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}
