package store

import (
	"context"
	"time"
)

// IdentityRepository manages identity records.
type IdentityRepository interface {
	// CreateIdentity inserts a new identity. Returns ErrDuplicateName when
	// another identity already owns the same normalized display name.
	CreateIdentity(ctx context.Context, identity *Identity) error
	// GetIdentity retrieves an identity by id.
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// GetIdentityByName retrieves an identity by normalized display name.
	GetIdentityByName(ctx context.Context, normalizedName string) (*Identity, error)
	// ListIdentities returns identities with the given status, all when
	// status is empty.
	ListIdentities(ctx context.Context, status IdentityStatus) ([]Identity, error)
	// MergeIdentity marks source as merged into target and flattens every
	// existing pointer to source so merge chains never form.
	MergeIdentity(ctx context.Context, sourceID, targetID string) error
	// SetIdentityStatus updates the lifecycle status of an identity.
	SetIdentityStatus(ctx context.Context, id string, status IdentityStatus) error
}

// ObservationRepository manages face observations.
type ObservationRepository interface {
	// CreateObservation inserts a new observation.
	CreateObservation(ctx context.Context, obs *Observation) error
	// GetObservation retrieves an observation by id.
	GetObservation(ctx context.Context, id string) (*Observation, error)
	// GetObservations retrieves many observations in one round trip.
	// Missing ids are silently absent from the result.
	GetObservations(ctx context.Context, ids []string) ([]Observation, error)
	// ListUnassigned pages through unassigned observations ordered by id,
	// starting strictly after afterID. The cursor makes batch sweeps
	// resumable.
	ListUnassigned(ctx context.Context, afterID string, limit int) ([]Observation, error)
	// ListByIdentity returns all observations assigned to an identity.
	ListByIdentity(ctx context.Context, identityID string) ([]Observation, error)
	// ListByCluster returns all observations carrying a cluster label.
	ListByCluster(ctx context.Context, label string) ([]Observation, error)
	// CountByIdentity counts the observations assigned to an identity.
	CountByIdentity(ctx context.Context, identityID string) (int, error)
	// UpdateAssignment sets the identity of an observation guarded by an
	// optimistic version check. It returns ErrConflict when the stored
	// version no longer matches, which means a concurrent mutation won.
	// identityID may be empty to unassign.
	UpdateAssignment(ctx context.Context, obsID string, version int64, identityID string) error
	// SetClusterLabels stores cluster labels for a batch of observations.
	// An empty label clears the previous one.
	SetClusterLabels(ctx context.Context, labels map[string]string) error
}

// PrototypeRepository manages identity prototypes.
type PrototypeRepository interface {
	// CreatePrototype inserts a non-centroid prototype.
	CreatePrototype(ctx context.Context, p *Prototype) error
	// UpsertCentroid replaces the identity's centroid prototype in place,
	// keeping its id stable. The store guarantees at most one centroid per
	// identity.
	UpsertCentroid(ctx context.Context, p *Prototype) error
	// GetCentroid returns the centroid prototype of an identity, or
	// ErrNotFound when none has been computed yet.
	GetCentroid(ctx context.Context, identityID string) (*Prototype, error)
	// ListPrototypes returns every prototype of an identity.
	ListPrototypes(ctx context.Context, identityID string) ([]Prototype, error)
	// ListAllPrototypes returns prototypes of every active identity.
	ListAllPrototypes(ctx context.Context) ([]Prototype, error)
	// DeletePrototype removes a prototype. Pinned prototypes are refused
	// with ErrConflict.
	DeletePrototype(ctx context.Context, id string) error
}

// SuggestionRepository manages review suggestions.
type SuggestionRepository interface {
	// CreateSuggestion inserts a pending suggestion. Returns ErrConflict
	// when a pending suggestion for the same (observation, identity) pair
	// already exists; callers treat that as a no-op.
	CreateSuggestion(ctx context.Context, s *Suggestion) error
	// GetSuggestion retrieves a suggestion by id.
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)
	// ListPendingSuggestions returns pending suggestions, optionally
	// restricted to one identity (empty id means all).
	ListPendingSuggestions(ctx context.Context, identityID string) ([]Suggestion, error)
	// HasRejectedSuggestion reports whether the (observation, identity)
	// pair was ever rejected. Rejected pairs are never re-suggested.
	HasRejectedSuggestion(ctx context.Context, obsID, identityID string) (bool, error)
	// TransitionSuggestion moves a suggestion from one status to another.
	// Returns ErrConflict when the current status is not `from`, so racing
	// reviewers resolve deterministically.
	TransitionSuggestion(ctx context.Context, id string, from, to SuggestionStatus, reviewedAt time.Time) error
	// ExpireBySource transitions every pending suggestion whose triggering
	// source is the given observation to expired, returning the count.
	ExpireBySource(ctx context.Context, sourceObservationID string) (int, error)
}

// EventRepository is the append-only audit ledger.
type EventRepository interface {
	// AppendEvent inserts an immutable assignment event.
	AppendEvent(ctx context.Context, e *AssignmentEvent) error
	// ListEvents returns the most recent events touching an identity as
	// either endpoint (empty id means all), newest first.
	ListEvents(ctx context.Context, identityID string, limit int) ([]AssignmentEvent, error)
}

// Store bundles all repositories behind one handle. The engine receives a
// Store explicitly at construction; there is no package-level singleton.
type Store interface {
	IdentityRepository
	ObservationRepository
	PrototypeRepository
	SuggestionRepository
	EventRepository
}
