package cluster

import (
	"context"
	"sort"

	"github.com/kozaktomas/facematch/internal/vecindex"
)

// checkEvery is how many rows pass between context checks in the O(n²)
// phases.
const checkEvery = 256

// coreDistances computes, for every point, the cosine distance to its
// minSamples-th nearest neighbor. Distances are computed row by row so
// memory stays O(n) regardless of set size.
func coreDistances(ctx context.Context, points []Point, minSamples int) ([]float64, error) {
	n := len(points)
	core := make([]float64, n)
	row := make([]float64, 0, n-1)

	for i := range points {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row = row[:0]
		for j := range points {
			if j == i {
				continue
			}
			row = append(row, vecindex.CosineDistance(points[i].Vector, points[j].Vector))
		}
		sort.Float64s(row)
		core[i] = row[minSamples-1]
	}
	return core, nil
}

// edge is one mutual-reachability MST edge.
type edge struct {
	a, b   int
	weight float64
}

// spanningTree builds the minimum spanning tree over mutual reachability
// distance with Prim's algorithm. Mutual reachability of two points is
// max(core(a), core(b), d(a, b)), which smooths variable density. Memory
// is O(n); distances are recomputed on the fly.
func spanningTree(ctx context.Context, points []Point, core []float64) ([]edge, error) {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	bestFrom := make([]int, n)
	for i := range best {
		best[i] = 2.0 + core[i] // above any reachable mutual-reachability value
		bestFrom[i] = 0
	}

	edges := make([]edge, 0, n-1)
	current := 0
	inTree[0] = true

	for len(edges) < n-1 {
		if len(edges)%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		next := -1
		nextDist := 0.0
		for j := range points {
			if inTree[j] {
				continue
			}
			d := vecindex.CosineDistance(points[current].Vector, points[j].Vector)
			if core[current] > d {
				d = core[current]
			}
			if core[j] > d {
				d = core[j]
			}
			if d < best[j] {
				best[j] = d
				bestFrom[j] = current
			}
			if next == -1 || best[j] < nextDist {
				next = j
				nextDist = best[j]
			}
		}

		edges = append(edges, edge{a: bestFrom[next], b: next, weight: best[next]})
		inTree[next] = true
		current = next
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	return edges, nil
}
