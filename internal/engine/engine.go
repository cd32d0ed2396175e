// Package engine implements the face-identity matching core: threshold
// classification of observations against identity prototypes, robust
// centroid computation, suggestion aggregation for human review and
// audited, race-guarded assignment mutations.
//
// The engine is a single synchronous, side-effect-explicit module. It is
// called both from interactive request handlers and from batch sweeps;
// asynchronous wrappers stay thin and never re-derive any of this logic.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// Engine is the face-identity matching core. Construct it once per
// process with NewEngine and pass it explicitly; there is no package
// level instance.
type Engine struct {
	store   store.Store
	index   vecindex.Index
	archive vecindex.Archive // optional durable vector copy

	autoThreshold    float64
	suggestThreshold float64
	propagationLimit int
	minCentroidFaces int
	batchSize        int
	modelVersion     string

	clusterDefaults config.ClusterConfig

	now func() time.Time
}

// Option customizes an Engine beyond its required dependencies.
type Option func(*Engine)

// WithArchive attaches a durable vector archive. Registered embeddings
// are written through to it and RebuildIndex restores the in-memory
// index from it.
func WithArchive(a vecindex.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// NewEngine validates the matching configuration and wires the engine to
// its two stores. A suggest threshold at or above the auto threshold is
// rejected here so it can never reach classification.
func NewEngine(st store.Store, idx vecindex.Index, cfg *config.Config, opts ...Option) (*Engine, error) {
	if st == nil || idx == nil {
		return nil, fmt.Errorf("%w: engine requires a store and a vector index", ErrInvalidConfiguration)
	}
	if cfg.Matching.SuggestThreshold >= cfg.Matching.AutoThreshold {
		return nil, fmt.Errorf("%w: suggest threshold %.3f must be below auto threshold %.3f",
			ErrInvalidConfiguration, cfg.Matching.SuggestThreshold, cfg.Matching.AutoThreshold)
	}
	if cfg.Matching.MinCentroidFaces < 2 {
		return nil, fmt.Errorf("%w: min centroid faces %d below 2", ErrInvalidConfiguration, cfg.Matching.MinCentroidFaces)
	}

	batchSize := cfg.Matching.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	propagationLimit := cfg.Matching.PropagationLimit
	if propagationLimit <= 0 {
		propagationLimit = 50
	}

	e := &Engine{
		store:            st,
		index:            idx,
		autoThreshold:    cfg.Matching.AutoThreshold,
		suggestThreshold: cfg.Matching.SuggestThreshold,
		propagationLimit: propagationLimit,
		minCentroidFaces: cfg.Matching.MinCentroidFaces,
		batchSize:        batchSize,
		modelVersion:     cfg.Embedding.ModelVersion,
		clusterDefaults:  cfg.Cluster,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateIdentity registers a new identity with a case-insensitive unique
// display name.
func (e *Engine) CreateIdentity(ctx context.Context, displayName string) (*store.Identity, error) {
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidConfiguration)
	}
	identity := &store.Identity{
		ID:             uuid.NewString(),
		DisplayName:    displayName,
		NormalizedName: store.NormalizeDisplayName(displayName),
		Status:         store.IdentityActive,
		CreatedAt:      e.now().UTC(),
		UpdatedAt:      e.now().UTC(),
	}
	if err := e.store.CreateIdentity(ctx, identity); err != nil {
		return nil, mapStoreErr(err)
	}
	return identity, nil
}

// MergeIdentities marks source as merged into target. Pointer flattening
// happens here, at merge time: the store rewrites every identity already
// merged into source so no read path ever follows a chain. Observations
// keep their historical identity_id; logical ownership is resolved
// through ResolveCanonical.
func (e *Engine) MergeIdentities(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge an identity into itself", ErrConflict)
	}
	target, err := e.store.GetIdentity(ctx, targetID)
	if err != nil {
		return mapStoreErr(err)
	}
	if target.Status == store.IdentityMerged {
		// Merging into a merged identity would recreate a chain.
		return fmt.Errorf("%w: target identity %s is itself merged", ErrConflict, targetID)
	}
	if _, err := e.store.GetIdentity(ctx, sourceID); err != nil {
		return mapStoreErr(err)
	}
	return mapStoreErr(e.store.MergeIdentity(ctx, sourceID, targetID))
}

// ResolveCanonical maps an identity id to its surviving identity. Merge
// pointers are flat, so a single hop suffices; a second hop would mean
// the merge-time flattening invariant was broken and is reported as a
// conflict.
func (e *Engine) ResolveCanonical(ctx context.Context, identityID string) (*store.Identity, error) {
	identity, err := e.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if identity.Status != store.IdentityMerged {
		return identity, nil
	}
	canonical, err := e.store.GetIdentity(ctx, identity.MergedInto)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if canonical.Status == store.IdentityMerged {
		return nil, fmt.Errorf("%w: merge chain detected at identity %s", ErrConflict, canonical.ID)
	}
	return canonical, nil
}

// RegisterObservation stores a new face observation and indexes its
// embedding. The embedding reference is fixed at creation and never
// changes afterwards.
func (e *Engine) RegisterObservation(ctx context.Context, obs *store.Observation, embedding []float32) error {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.EmbeddingRef == "" {
		obs.EmbeddingRef = "obs-" + obs.ID
	}
	obs.CreatedAt = e.now().UTC()

	// Index first, store second: an indexed vector without a relational
	// record is harmless, the reverse makes the face unclassifiable.
	payload := vecindex.Payload{
		vecindex.PayloadKind:          vecindex.KindObservation,
		vecindex.PayloadObservationID: obs.ID,
	}
	if err := e.index.Upsert(ctx, obs.EmbeddingRef, embedding, payload); err != nil {
		return mapIndexErr(err)
	}
	if err := e.store.CreateObservation(ctx, obs); err != nil {
		// Compensate so the index does not accumulate orphans.
		_ = e.index.Delete(ctx, obs.EmbeddingRef)
		return mapStoreErr(err)
	}
	e.archiveVector(ctx, obs.EmbeddingRef, embedding)
	return nil
}

// archiveVector writes a vector through to the durable archive when one
// is attached. Archive failures degrade rebuildability, not the
// operation that already committed, so they only log.
func (e *Engine) archiveVector(ctx context.Context, ref string, vector []float32) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveVector(ctx, ref, vector, e.modelVersion); err != nil {
		log.Printf("archiving vector %s: %v", ref, err)
	}
}

// Identities lists identities by status, all of them when status is
// empty.
func (e *Engine) Identities(ctx context.Context, status store.IdentityStatus) ([]store.Identity, error) {
	identities, err := e.store.ListIdentities(ctx, status)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return identities, nil
}

// IdentitySummary is an identity together with the number of faces
// currently assigned to it.
type IdentitySummary struct {
	Identity  store.Identity
	FaceCount int
}

// GetIdentity returns an identity with its assigned face count.
func (e *Engine) GetIdentity(ctx context.Context, id string) (*IdentitySummary, error) {
	identity, err := e.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	count, err := e.store.CountByIdentity(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &IdentitySummary{Identity: *identity, FaceCount: count}, nil
}

// HideIdentity removes an identity from active listings. Its faces stay
// assigned; hiding is a display decision, not an unassignment.
func (e *Engine) HideIdentity(ctx context.Context, id string) error {
	return e.setIdentityStatus(ctx, id, store.IdentityHidden)
}

// UnhideIdentity returns a hidden identity to the active listings.
func (e *Engine) UnhideIdentity(ctx context.Context, id string) error {
	return e.setIdentityStatus(ctx, id, store.IdentityActive)
}

func (e *Engine) setIdentityStatus(ctx context.Context, id string, status store.IdentityStatus) error {
	identity, err := e.store.GetIdentity(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	// A merged identity is a historical record owned by its target.
	if identity.Status == store.IdentityMerged {
		return fmt.Errorf("%w: identity %s was merged into %s", ErrConflict, id, identity.MergedInto)
	}
	if identity.Status == status {
		return nil
	}
	if err := e.store.SetIdentityStatus(ctx, id, status); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Events returns the most recent audit events for an identity.
func (e *Engine) Events(ctx context.Context, identityID string, limit int) ([]store.AssignmentEvent, error) {
	events, err := e.store.ListEvents(ctx, identityID, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return events, nil
}
