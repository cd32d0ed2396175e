// Package cluster groups unlabeled face observations by embedding
// similarity using hierarchical density-based clustering (HDBSCAN-style)
// over cosine distance. Cluster labels are a grouping hint for review;
// they are never an identity.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

// ErrSetTooLarge is returned when a clustering run would exceed the
// configured face-count ceiling. The run fails loudly instead of silently
// degrading or exhausting memory on pairwise structures.
var ErrSetTooLarge = errors.New("cluster set too large")

// Noise is the label for points that belong to no cluster.
const Noise = "none"

// Point is one unlabeled observation to cluster.
type Point struct {
	ID     string
	Vector []float32
}

// Params tunes a clustering run.
type Params struct {
	// MinClusterSize is the smallest group that may become a cluster.
	MinClusterSize int
	// MinSamples is the neighborhood size for core distances. Zero
	// defaults to MinClusterSize.
	MinSamples int
	// MaxSetSize is the ceiling on the number of points; above it the run
	// fails with ErrSetTooLarge. Zero means no ceiling.
	MaxSetSize int
	// LabelPrefix prefixes generated cluster labels so labels from
	// different runs never collide.
	LabelPrefix string
}

func (p *Params) normalize(n int) (Params, error) {
	out := *p
	if out.MinClusterSize < 2 {
		return out, fmt.Errorf("min cluster size %d below 2", out.MinClusterSize)
	}
	if out.MinSamples <= 0 {
		out.MinSamples = out.MinClusterSize
	}
	if out.MinSamples > n-1 {
		out.MinSamples = n - 1
	}
	return out, nil
}

// Result is the outcome of one clustering run. Every input point appears
// in Labels, either with a cluster label or with Noise.
type Result struct {
	Labels       map[string]string
	ClusterSizes map[string]int
	NoiseCount   int
}

// Run clusters the given points. Points assigned no cluster carry the
// Noise label. The context is checked between the major phases so large
// runs cancel cooperatively.
func Run(ctx context.Context, points []Point, params Params) (*Result, error) {
	n := len(points)
	if params.MaxSetSize > 0 && n > params.MaxSetSize {
		return nil, fmt.Errorf("%w: %d observations over ceiling %d", ErrSetTooLarge, n, params.MaxSetSize)
	}

	result := &Result{
		Labels:       make(map[string]string, n),
		ClusterSizes: make(map[string]int),
	}
	if n == 0 {
		return result, nil
	}

	p, err := params.normalize(n)
	if err != nil {
		return nil, err
	}

	if n < p.MinClusterSize {
		for i := range points {
			result.Labels[points[i].ID] = Noise
		}
		result.NoiseCount = n
		return result, nil
	}

	core, err := coreDistances(ctx, points, p.MinSamples)
	if err != nil {
		return nil, err
	}

	edges, err := spanningTree(ctx, points, core)
	if err != nil {
		return nil, err
	}

	labels := extractClusters(edges, n, p.MinClusterSize)

	nextLabel := 0
	names := make(map[int]string)
	for i := range points {
		c := labels[i]
		if c < 0 {
			result.Labels[points[i].ID] = Noise
			result.NoiseCount++
			continue
		}
		name, ok := names[c]
		if !ok {
			name = fmt.Sprintf("%s%d", p.LabelPrefix, nextLabel)
			names[c] = name
			nextLabel++
		}
		result.Labels[points[i].ID] = name
		result.ClusterSizes[name]++
	}
	return result, nil
}

// Split re-runs clustering restricted to the members of one existing
// cluster. Child labels derive from the parent label but never equal it,
// so a split always produces fresh groups.
func Split(ctx context.Context, members []Point, parentLabel string, params Params) (*Result, error) {
	params.LabelPrefix = parentLabel + "/"
	return Run(ctx, members, params)
}
