package store

import (
	"time"
)

// IdentityStatus is the lifecycle state of an identity.
type IdentityStatus string

// Identity lifecycle states.
const (
	IdentityActive IdentityStatus = "active"
	IdentityMerged IdentityStatus = "merged"
	IdentityHidden IdentityStatus = "hidden"
)

// Identity represents a known person.
// A merged identity keeps its historical record; its faces are logically
// owned by MergedInto. Merge pointers are flattened at merge time so they
// never form chains.
type Identity struct {
	ID          string
	DisplayName string
	// NormalizedName is the lowercase, diacritics-stripped form of
	// DisplayName used for the case-insensitive uniqueness constraint.
	NormalizedName string
	Status         IdentityStatus
	MergedInto     string // identity id, only set when Status == IdentityMerged
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Observation is one detected face instance. The embedding reference is
// immutable and 1:1 with the observation. IdentityID is empty when the
// observation is unassigned; clearing it never deletes the observation.
type Observation struct {
	ID           string
	ImageUID     string
	BBox         []float64 // [x1, y1, x2, y2] in pixels
	DetScore     float64
	Quality      float64
	EmbeddingRef string // vector index point id, immutable
	ClusterLabel string // unsupervised grouping hint, never an identity
	IdentityID   string // empty means unassigned
	// Version increments on every identity mutation and backs the
	// optimistic concurrency check on assignment changes.
	Version   int64
	CreatedAt time.Time
}

// Assigned reports whether the observation currently belongs to an identity.
func (o *Observation) Assigned() bool {
	return o.IdentityID != ""
}

// PrototypeRole classifies what a prototype vector represents.
type PrototypeRole string

// Prototype roles.
const (
	RoleCentroid PrototypeRole = "centroid"
	RoleExemplar PrototypeRole = "exemplar"
	RolePrimary  PrototypeRole = "primary"
	RoleTemporal PrototypeRole = "temporal"
	RoleFallback PrototypeRole = "fallback"
)

// Prototype is a representative vector for an identity. A centroid
// prototype is synthetic and has no backing observation; every other role
// is derived from a single observation. At most one centroid prototype
// exists per identity.
type Prototype struct {
	ID         string
	IdentityID string
	VectorRef  string // vector index point id
	Role       PrototypeRole
	// ObservationID is the backing observation for non-centroid roles.
	// It is cleared (not cascaded) when the source observation is deleted,
	// keeping the vector usable.
	ObservationID  string
	TemporalBucket string // e.g. "2013-2015", only for RoleTemporal
	Pinned         bool
	PinnedBy       string
	PinnedAt       *time.Time
	// Fingerprint detects staleness of centroid prototypes: a hash of the
	// embedding model version, the centroid algorithm version and the
	// sorted set of contributing observation ids.
	Fingerprint string
	FaceCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SuggestionStatus is the review state of a suggestion.
type SuggestionStatus string

// Suggestion review states.
const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionExpired  SuggestionStatus = "expired"
)

// Suggestion is a proposed (observation, identity) pairing awaiting human
// review. At most one pending suggestion exists per pair; the store
// enforces this with a partial unique index, not an application check.
type Suggestion struct {
	ID            string
	ObservationID string
	IdentityID    string
	// Confidence is the aggregate score: the maximum similarity across all
	// prototypes that matched the observation.
	Confidence float64
	// PrototypeScores maps prototype id to the similarity it contributed.
	PrototypeScores map[string]float64
	PrototypeCount  int
	// SourceObservationID is the strongest triggering observation. When
	// that observation is unassigned or moved, this suggestion expires.
	SourceObservationID string
	Status              SuggestionStatus
	CreatedAt           time.Time
	ReviewedAt          *time.Time
}

// EventOp is the kind of assignment mutation an event records.
type EventOp string

// Assignment event operations.
const (
	OpAssign     EventOp = "assign"
	OpUnassign   EventOp = "unassign"
	OpMove       EventOp = "move"
	OpBulkRemove EventOp = "bulk_remove"
)

// AssignmentEvent is an immutable audit record of one assignment state
// transition. Events are never updated after insert and survive identity
// deletion with nulled identity references.
type AssignmentEvent struct {
	ID             string
	Op             EventOp
	FromIdentityID string // empty for ASSIGN
	ToIdentityID   string // empty for UNASSIGN / BULK_REMOVE
	ObservationIDs []string
	ImageUIDs      []string
	Count          int
	Actor          string
	Note           string
	CreatedAt      time.Time
}
