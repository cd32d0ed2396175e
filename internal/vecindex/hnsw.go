package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSW graph parameters for 512-dim face embeddings.
const (
	// MaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	MaxNeighbors = 16

	// SearchMultiplier is the factor to request more candidates from HNSW
	// to ensure enough survive payload filtering and threshold cuts.
	SearchMultiplier = 4

	// maxSearchRounds bounds how often a filtered search widens its
	// candidate pool before giving up.
	maxSearchRounds = 4
)

// Metadata stores sidecar data for validating a persisted index.
type Metadata struct {
	PointCount int       `json:"point_count"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
}

const metadataVersion = 1

type point struct {
	vector  []float32
	payload Payload
}

// HNSWIndex is an in-process Index backed by a coder/hnsw graph with a
// payload map for filtered search. Graph nodes and the payload map are
// kept in lockstep: upserts replace the graph node, deletes remove it.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	points map[string]*point
	path   string // save/load location, empty disables persistence
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{points: make(map[string]*point)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = MaxNeighbors
	g.Ml = 1.0 / float64(MaxNeighbors) // standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Upsert stores or replaces a vector with its payload.
func (h *HNSWIndex) Upsert(_ context.Context, id string, vector []float32, payload Payload) error {
	if len(vector) == 0 {
		return fmt.Errorf("upsert %s: empty vector", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph()
	}
	// Graph.Add panics on a duplicate key, so an existing node has to be
	// removed first.
	h.graph.Delete(id)
	h.graph.Add(hnsw.MakeNode(id, vector))
	h.points[id] = &point{vector: vector, payload: payload.Clone()}
	return nil
}

// Search returns up to limit matches passing the filter with score >=
// scoreThreshold, nearest first. The graph is oversampled and widened in
// rounds so payload filtering does not starve the result set.
func (h *HNSWIndex) Search(_ context.Context, query []float32, filter Filter, limit int, scoreThreshold float64) ([]Match, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || limit <= 0 {
		return nil, nil
	}

	k := limit * SearchMultiplier
	for round := 0; ; round++ {
		if k > len(h.points) {
			k = len(h.points)
		}

		neighbors := h.graph.Search(query, k)
		matches := make([]Match, 0, limit)
		for _, n := range neighbors {
			p, ok := h.points[n.Key]
			if !ok {
				continue
			}
			if !filter.Matches(n.Key, p.payload) {
				continue
			}
			score := CosineSimilarity(query, p.vector)
			if score < scoreThreshold {
				continue
			}
			matches = append(matches, Match{ID: n.Key, Score: score, Payload: p.payload.Clone()})
			if len(matches) == limit {
				return matches, nil
			}
		}

		if k >= len(h.points) || round >= maxSearchRounds {
			return matches, nil
		}
		k *= SearchMultiplier
	}
}

// Retrieve returns the vector and payload of a single point.
func (h *HNSWIndex) Retrieve(_ context.Context, id string) ([]float32, Payload, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p, ok := h.points[id]
	if !ok {
		return nil, nil, fmt.Errorf("retrieve %s: %w", id, ErrNotFound)
	}
	return p.vector, p.payload.Clone(), nil
}

// RetrieveBatch returns the vectors of many points in one call. Unknown
// ids are absent from the result.
func (h *HNSWIndex) RetrieveBatch(_ context.Context, ids []string) (map[string][]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	vectors := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if p, ok := h.points[id]; ok {
			vectors[id] = p.vector
		}
	}
	return vectors, nil
}

// PatchPayload merges fields into the point's payload.
func (h *HNSWIndex) PatchPayload(_ context.Context, id string, fields Payload) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.points[id]
	if !ok {
		return fmt.Errorf("patch payload %s: %w", id, ErrNotFound)
	}
	if p.payload == nil {
		p.payload = make(Payload, len(fields))
	}
	for k, v := range fields {
		p.payload[k] = v
	}
	return nil
}

// DeletePayloadKey removes one payload field from a point.
func (h *HNSWIndex) DeletePayloadKey(_ context.Context, id string, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.points[id]
	if !ok {
		return fmt.Errorf("delete payload key %s: %w", id, ErrNotFound)
	}
	delete(p.payload, key)
	return nil
}

// Delete removes a point from the graph and the payload map. Deleting an
// unknown id is a no-op.
func (h *HNSWIndex) Delete(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.points, id)
	if h.graph != nil {
		h.graph.Delete(id)
	}
	return nil
}

// Count returns the number of live points.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// SetPath sets the persistence location for Save and Load.
func (h *HNSWIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

type persistedPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload,omitempty"`
}

// Save persists the graph, the payload sidecar and the metadata file.
// A configured path is required; without one Save is a no-op.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil
	}

	if h.graph == nil || len(h.points) == 0 {
		// Best-effort cleanup of stale files for an empty index.
		_ = os.Remove(h.path)
		_ = os.Remove(h.path + ".points")
		_ = os.Remove(h.path + ".meta")
		return nil
	}

	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting graph: %w", err)
	}

	pts := make([]persistedPoint, 0, len(h.points))
	for id, p := range h.points {
		pts = append(pts, persistedPoint{ID: id, Vector: p.vector, Payload: p.payload})
	}
	data, err := json.Marshal(pts)
	if err != nil {
		return fmt.Errorf("marshaling points: %w", err)
	}
	if err := os.WriteFile(h.path+".points", data, 0600); err != nil {
		return fmt.Errorf("writing points file: %w", err)
	}

	meta, err := json.Marshal(Metadata{
		PointCount: len(h.points),
		BuildTime:  time.Now().UTC(),
		Version:    metadataVersion,
	})
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(h.path+".meta", meta, 0600); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}
	return nil
}

// Load restores a persisted index. A missing file is not an error; the
// caller rebuilds from the store instead.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path
	if _, err := os.Stat(path + ".points"); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path + ".points") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("reading points file: %w", err)
	}
	var pts []persistedPoint
	if err := json.Unmarshal(data, &pts); err != nil {
		return fmt.Errorf("unmarshaling points: %w", err)
	}

	// The graph is rebuilt from the sidecar rather than imported, which
	// keeps the snapshot format independent of the graph export layout.
	g := newGraph()
	points := make(map[string]*point, len(pts))
	for i := range pts {
		p := &pts[i]
		if len(p.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(p.ID, p.Vector))
		points[p.ID] = &point{vector: p.Vector, payload: p.Payload}
	}

	h.graph = g
	h.points = points
	return nil
}

// LoadMetadata reads the metadata sidecar of a persisted index.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("reading metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return meta, nil
}
