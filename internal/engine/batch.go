package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facematch/internal/cluster"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// sweepWorkers bounds the classification parallelism of one sub-batch.
const sweepWorkers = 8

// BatchResult summarizes one classification sweep.
type BatchResult struct {
	Processed    int
	AutoAssigned int
	Suggested    int
	Unmatched    int
	// NextCursor resumes the sweep after the last processed observation.
	// Empty when the sweep reached the end of the unassigned set.
	NextCursor string
	// Errors are per-observation failures; the sweep continued past them.
	Errors []ItemError
}

// ClassifySweep classifies unassigned observations in resumable batches.
// The cursor is the last observation id of the previous call; results are
// order-independent, so a sweep interrupted and resumed converges to the
// same assignments. The context is checked between sub-batches, making
// cancellation lose at most one sub-batch of work.
func (e *Engine) ClassifySweep(ctx context.Context, cursor string, maxObservations int) (*BatchResult, error) {
	result := &BatchResult{}
	if maxObservations <= 0 {
		maxObservations = e.batchSize
	}

	for result.Processed < maxObservations {
		if err := ctx.Err(); err != nil {
			result.NextCursor = cursor
			return result, err
		}

		limit := e.batchSize
		if remaining := maxObservations - result.Processed; remaining < limit {
			limit = remaining
		}
		observations, err := e.store.ListUnassigned(ctx, cursor, limit)
		if err != nil {
			result.NextCursor = cursor
			return result, mapStoreErr(err)
		}
		if len(observations) == 0 {
			result.NextCursor = ""
			return result, nil
		}

		refs := make([]string, len(observations))
		for i := range observations {
			refs[i] = observations[i].EmbeddingRef
		}
		vectors, err := e.index.RetrieveBatch(ctx, refs)
		if err != nil {
			result.NextCursor = cursor
			return result, mapIndexErr(err)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepWorkers)
		for i := range observations {
			obs := observations[i]
			g.Go(func() error {
				vector, ok := vectors[obs.EmbeddingRef]
				if !ok {
					mu.Lock()
					result.Errors = append(result.Errors, ItemError{
						ID:  obs.ID,
						Err: fmt.Errorf("%w: embedding %s missing from index", ErrNotFound, obs.EmbeddingRef),
					})
					mu.Unlock()
					return nil
				}
				decision, err := e.classifyVector(gctx, &obs, vector)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, ItemError{ID: obs.ID, Err: err})
					return nil
				}
				switch decision.Outcome {
				case OutcomeAutoAssigned:
					result.AutoAssigned++
				case OutcomeSuggested:
					result.Suggested++
				default:
					result.Unmatched++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			result.NextCursor = cursor
			return result, err
		}

		result.Processed += len(observations)
		cursor = observations[len(observations)-1].ID
		if len(observations) < limit {
			result.NextCursor = ""
			return result, nil
		}
	}

	result.NextCursor = cursor
	return result, nil
}

// ClusterResult summarizes one clustering sweep.
type ClusterResult struct {
	Clustered    int
	NoiseCount   int
	ClusterSizes map[string]int
}

// ClusterSweep groups the entire unassigned set by embedding similarity
// and records the resulting labels in both stores. Labels are review
// hints: clustering never assigns identities. A set over the configured
// ceiling fails with ErrClusterSetTooLarge before any pairwise work.
func (e *Engine) ClusterSweep(ctx context.Context, minClusterSize int) (*ClusterResult, error) {
	if minClusterSize <= 0 {
		minClusterSize = e.clusterDefaults.MinClusterSize
	}

	var all []store.Observation
	cursor := ""
	for {
		batch, err := e.store.ListUnassigned(ctx, cursor, e.batchSize)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		all = append(all, batch...)
		if e.clusterDefaults.MaxSetSize > 0 && len(all) > e.clusterDefaults.MaxSetSize {
			return nil, fmt.Errorf("%w: unassigned set exceeds ceiling %d",
				ErrClusterSetTooLarge, e.clusterDefaults.MaxSetSize)
		}
		if len(batch) < e.batchSize {
			break
		}
		cursor = batch[len(batch)-1].ID
	}
	if len(all) == 0 {
		return &ClusterResult{ClusterSizes: map[string]int{}}, nil
	}

	points, obsByRef, err := e.loadPoints(ctx, all)
	if err != nil {
		return nil, err
	}

	run, err := cluster.Run(ctx, points, cluster.Params{
		MinClusterSize: minClusterSize,
		MinSamples:     e.clusterDefaults.MinSamples,
		MaxSetSize:     e.clusterDefaults.MaxSetSize,
		LabelPrefix:    "c",
	})
	if err != nil {
		return nil, err
	}

	if err := e.applyClusterLabels(ctx, run.Labels, obsByRef); err != nil {
		return nil, err
	}
	return &ClusterResult{
		Clustered:    len(run.Labels) - run.NoiseCount,
		NoiseCount:   run.NoiseCount,
		ClusterSizes: run.ClusterSizes,
	}, nil
}

// SplitCluster re-clusters the members of one cluster with a smaller
// minimum size, producing sub-labels derived from the parent label so the
// lineage stays readable.
func (e *Engine) SplitCluster(ctx context.Context, label string, minClusterSize int) (*ClusterResult, error) {
	if label == "" || label == cluster.Noise {
		return nil, fmt.Errorf("%w: cannot split label %q", ErrInvalidConfiguration, label)
	}
	if minClusterSize <= 0 {
		minClusterSize = 2
	}

	members, err := e.store.ListByCluster(ctx, label)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if len(members) < minClusterSize {
		return nil, fmt.Errorf("%w: cluster %s has only %d members", ErrInsufficientEvidence, label, len(members))
	}

	points, obsByRef, err := e.loadPoints(ctx, members)
	if err != nil {
		return nil, err
	}

	run, err := cluster.Split(ctx, points, label, cluster.Params{
		MinClusterSize: minClusterSize,
		MinSamples:     e.clusterDefaults.MinSamples,
		MaxSetSize:     e.clusterDefaults.MaxSetSize,
	})
	if err != nil {
		return nil, err
	}

	if err := e.applyClusterLabels(ctx, run.Labels, obsByRef); err != nil {
		return nil, err
	}
	return &ClusterResult{
		Clustered:    len(run.Labels) - run.NoiseCount,
		NoiseCount:   run.NoiseCount,
		ClusterSizes: run.ClusterSizes,
	}, nil
}

// loadPoints fetches the embeddings of the given observations and keys
// them by embedding ref for label write-back. Observations whose vector
// the index lost are skipped with a log line.
func (e *Engine) loadPoints(ctx context.Context, observations []store.Observation) ([]cluster.Point, map[string]store.Observation, error) {
	refs := make([]string, len(observations))
	for i := range observations {
		refs[i] = observations[i].EmbeddingRef
	}
	vectors, err := e.index.RetrieveBatch(ctx, refs)
	if err != nil {
		return nil, nil, mapIndexErr(err)
	}

	points := make([]cluster.Point, 0, len(observations))
	obsByRef := make(map[string]store.Observation, len(observations))
	for _, obs := range observations {
		vec, ok := vectors[obs.EmbeddingRef]
		if !ok {
			log.Printf("clustering: embedding %s missing from index", obs.EmbeddingRef)
			continue
		}
		points = append(points, cluster.Point{ID: obs.EmbeddingRef, Vector: vec})
		obsByRef[obs.EmbeddingRef] = obs
	}
	return points, obsByRef, nil
}

// applyClusterLabels writes cluster labels to both stores: the vector
// index payload first, then the relational rows in one batch.
func (e *Engine) applyClusterLabels(ctx context.Context, labels map[string]string, obsByRef map[string]store.Observation) error {
	byObsID := make(map[string]string, len(labels))
	for ref, label := range labels {
		obs, ok := obsByRef[ref]
		if !ok {
			continue
		}
		byObsID[obs.ID] = label
		if err := e.index.PatchPayload(ctx, ref, vecindex.Payload{
			vecindex.PayloadClusterLabel: label,
		}); err != nil {
			log.Printf("labeling %s in index: %v", ref, err)
		}
	}
	return mapStoreErr(e.store.SetClusterLabels(ctx, byObsID))
}
