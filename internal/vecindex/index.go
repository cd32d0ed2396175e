// Package vecindex defines the vector index the engine searches and the
// canonical payload schema both the write and the read path share. The
// index stores unit-length face embeddings with a small metadata payload
// used for filtered nearest-neighbor search.
package vecindex

import (
	"context"
	"errors"
)

// Canonical payload field names. Writers and search filters must use these
// constants; contract_test.go verifies the symmetry so a renamed field can
// never silently produce empty search results.
const (
	// PayloadKind discriminates observation points from prototype points.
	PayloadKind = "kind"
	// PayloadIdentityID is the owning identity of the point, empty or
	// absent for unassigned observations.
	PayloadIdentityID = "identity_id"
	// PayloadObservationID is the backing observation of the point.
	PayloadObservationID = "observation_id"
	// PayloadClusterLabel is the unsupervised cluster label of an
	// unassigned observation.
	PayloadClusterLabel = "cluster_label"
	// PayloadRole is the prototype role for prototype points.
	PayloadRole = "role"
)

// Point kinds stored under PayloadKind.
const (
	KindObservation = "observation"
	KindPrototype   = "prototype"
)

// ErrNotFound is returned for point lookups of unknown ids.
var ErrNotFound = errors.New("vector point not found")

// Payload is the metadata attached to an indexed vector.
type Payload map[string]string

// Clone returns a copy of the payload.
func (p Payload) Clone() Payload {
	c := make(Payload, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Filter restricts a search to points whose payload matches every set
// field. The zero filter matches everything.
type Filter struct {
	// Kind matches PayloadKind exactly when non-empty.
	Kind string
	// IdentityID matches PayloadIdentityID exactly when non-empty.
	IdentityID string
	// Unassigned, when true, matches only points with no identity payload.
	Unassigned bool
	// ExcludeIDs drops the listed point ids from results.
	ExcludeIDs []string
}

// Matches reports whether a point with the given id and payload passes the
// filter.
func (f *Filter) Matches(id string, payload Payload) bool {
	if f.Kind != "" && payload[PayloadKind] != f.Kind {
		return false
	}
	if f.IdentityID != "" && payload[PayloadIdentityID] != f.IdentityID {
		return false
	}
	if f.Unassigned && payload[PayloadIdentityID] != "" {
		return false
	}
	for _, ex := range f.ExcludeIDs {
		if id == ex {
			return false
		}
	}
	return true
}

// Match is one search hit. Score is cosine similarity in [-1, 1]; higher
// is closer.
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Index is the vector index consumed by the engine. Implementations must
// be safe for concurrent use. Search results are ordered by descending
// score.
type Index interface {
	// Upsert stores or replaces a vector with its payload.
	Upsert(ctx context.Context, id string, vector []float32, payload Payload) error
	// Search returns up to limit points matching the filter with score >=
	// scoreThreshold, nearest first.
	Search(ctx context.Context, query []float32, filter Filter, limit int, scoreThreshold float64) ([]Match, error)
	// Retrieve returns the vector and payload of a single point.
	Retrieve(ctx context.Context, id string) ([]float32, Payload, error)
	// RetrieveBatch returns the vectors of many points in one call. Ids
	// unknown to the index are absent from the result; callers needing
	// per-id errors check for missing keys.
	RetrieveBatch(ctx context.Context, ids []string) (map[string][]float32, error)
	// PatchPayload merges the given fields into the point's payload.
	PatchPayload(ctx context.Context, id string, fields Payload) error
	// DeletePayloadKey removes one payload field from a point.
	DeletePayloadKey(ctx context.Context, id string, key string) error
	// Delete removes a point entirely.
	Delete(ctx context.Context, id string) error
	// Count returns the number of stored points.
	Count() int
}
