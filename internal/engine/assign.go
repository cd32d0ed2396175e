package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// Cross-store ordering for every assignment mutation: the vector-index
// payload is written first, the relational row second. If the relational
// commit fails (including losing the optimistic version check), the
// payload write is compensated by restoring the previous identity field.
// If the payload write fails, the relational mutation is never attempted.

// Assign links an observation to an identity as a manual, human-confirmed
// action. It propagates suggestions from the newly verified face.
func (e *Engine) Assign(ctx context.Context, obsID, identityID, actor string) error {
	if err := e.assign(ctx, obsID, identityID, actor, "manual assignment", true); err != nil {
		return err
	}
	// Manual confirmation is strong evidence; fan out review suggestions
	// from this single verified face. Best effort, the assignment stands
	// either way.
	if _, err := e.PropagateFromObservation(ctx, obsID); err != nil {
		log.Printf("propagation after assign %s: %v", obsID, err)
	}
	return nil
}

// assign performs the guarded assignment mutation shared by manual
// assignment, suggestion acceptance and auto-assignment. When exemplar is
// true, the labeled face also becomes an exemplar prototype for the
// identity.
func (e *Engine) assign(ctx context.Context, obsID, identityID, actor, note string, exemplar bool) error {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		return mapStoreErr(err)
	}
	canonical, err := e.ResolveCanonical(ctx, identityID)
	if err != nil {
		return err
	}
	if obs.IdentityID == canonical.ID {
		return nil // already there, nothing to mutate or audit
	}

	prev := obs.IdentityID
	if err := e.index.PatchPayload(ctx, obs.EmbeddingRef, vecindex.Payload{
		vecindex.PayloadIdentityID: canonical.ID,
	}); err != nil {
		return mapIndexErr(err)
	}

	if err := e.store.UpdateAssignment(ctx, obs.ID, obs.Version, canonical.ID); err != nil {
		e.compensateIdentityPayload(ctx, obs.ID, obs.EmbeddingRef)
		return mapStoreErr(err)
	}

	op := store.OpAssign
	if prev != "" {
		op = store.OpMove
	}
	e.appendEvent(ctx, &store.AssignmentEvent{
		Op:             op,
		FromIdentityID: prev,
		ToIdentityID:   canonical.ID,
		ObservationIDs: []string{obs.ID},
		ImageUIDs:      []string{obs.ImageUID},
		Count:          1,
		Actor:          actor,
		Note:           note,
	})

	if prev != "" {
		// The face changed hands: evidence it produced is no longer valid.
		e.expireBySource(ctx, obs.ID)
		e.retractExemplars(ctx, prev, obs.ID)
	}

	if exemplar {
		e.createExemplar(ctx, obs, canonical.ID)
	}
	return nil
}

// Unassign clears the identity of an observation. The observation itself
// is never deleted, and every pending suggestion this face triggered
// expires.
func (e *Engine) Unassign(ctx context.Context, obsID, actor string) error {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		return mapStoreErr(err)
	}
	if obs.IdentityID == "" {
		return nil
	}
	prev := obs.IdentityID

	if err := e.index.DeletePayloadKey(ctx, obs.EmbeddingRef, vecindex.PayloadIdentityID); err != nil {
		return mapIndexErr(err)
	}
	if err := e.store.UpdateAssignment(ctx, obs.ID, obs.Version, ""); err != nil {
		e.compensateIdentityPayload(ctx, obs.ID, obs.EmbeddingRef)
		return mapStoreErr(err)
	}

	e.appendEvent(ctx, &store.AssignmentEvent{
		Op:             store.OpUnassign,
		FromIdentityID: prev,
		ObservationIDs: []string{obs.ID},
		ImageUIDs:      []string{obs.ImageUID},
		Count:          1,
		Actor:          actor,
		Note:           "manual unassignment",
	})
	e.expireBySource(ctx, obs.ID)
	e.retractExemplars(ctx, prev, obs.ID)
	return nil
}

// MoveAssignment reassigns an observation to another identity.
func (e *Engine) MoveAssignment(ctx context.Context, obsID, toIdentityID, actor string) error {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		return mapStoreErr(err)
	}
	if obs.IdentityID == "" {
		return fmt.Errorf("%w: observation %s is unassigned, use assign", ErrConflict, obsID)
	}
	return e.assign(ctx, obsID, toIdentityID, actor, "moved between identities", true)
}

// BulkRemove unassigns many observations as one audited operation.
// Failures are collected per item; the rest of the batch proceeds.
func (e *Engine) BulkRemove(ctx context.Context, obsIDs []string, actor string) ([]ItemError, error) {
	var itemErrs []ItemError
	var removed []string
	var imageUIDs []string
	fromSet := map[string]string{}

	for _, id := range obsIDs {
		obs, err := e.store.GetObservation(ctx, id)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Err: mapStoreErr(err)})
			continue
		}
		if obs.IdentityID == "" {
			continue
		}
		prev := obs.IdentityID
		if err := e.index.DeletePayloadKey(ctx, obs.EmbeddingRef, vecindex.PayloadIdentityID); err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Err: mapIndexErr(err)})
			continue
		}
		if err := e.store.UpdateAssignment(ctx, obs.ID, obs.Version, ""); err != nil {
			e.compensateIdentityPayload(ctx, obs.ID, obs.EmbeddingRef)
			itemErrs = append(itemErrs, ItemError{ID: id, Err: mapStoreErr(err)})
			continue
		}
		removed = append(removed, obs.ID)
		imageUIDs = append(imageUIDs, obs.ImageUID)
		fromSet[prev] = prev
		e.expireBySource(ctx, obs.ID)
		e.retractExemplars(ctx, prev, obs.ID)
	}

	if len(removed) > 0 {
		from := ""
		if len(fromSet) == 1 {
			for id := range fromSet {
				from = id
			}
		}
		e.appendEvent(ctx, &store.AssignmentEvent{
			Op:             store.OpBulkRemove,
			FromIdentityID: from,
			ObservationIDs: removed,
			ImageUIDs:      imageUIDs,
			Count:          len(removed),
			Actor:          actor,
			Note:           fmt.Sprintf("bulk removal of %d observations", len(removed)),
		})
	}
	return itemErrs, nil
}

// compensateIdentityPayload restores the vector-index identity field after
// a failed relational commit. The field is restored from the store's
// current row, not the caller's snapshot: a conflicting writer may have
// committed between the snapshot read and the failed update, and its
// payload must survive the compensation.
func (e *Engine) compensateIdentityPayload(ctx context.Context, obsID, embeddingRef string) {
	obs, err := e.store.GetObservation(ctx, obsID)
	if err != nil {
		log.Printf("compensation read failed for %s: %v", obsID, err)
		return
	}
	if obs.IdentityID == "" {
		err = e.index.DeletePayloadKey(ctx, embeddingRef, vecindex.PayloadIdentityID)
	} else {
		err = e.index.PatchPayload(ctx, embeddingRef, vecindex.Payload{vecindex.PayloadIdentityID: obs.IdentityID})
	}
	if err != nil {
		// Compensation failed; the stores disagree until reconciliation.
		log.Printf("compensation failed for %s: %v", embeddingRef, err)
	}
}

// appendEvent writes one immutable audit record. Audit failures are
// logged, never propagated: the assignment itself already committed.
func (e *Engine) appendEvent(ctx context.Context, event *store.AssignmentEvent) {
	event.ID = uuid.NewString()
	event.CreatedAt = e.now().UTC()
	if err := e.store.AppendEvent(ctx, event); err != nil {
		log.Printf("appending audit event: %v", err)
	}
}

// expireBySource expires pending suggestions triggered by an observation
// whose assignment just changed.
func (e *Engine) expireBySource(ctx context.Context, obsID string) {
	n, err := e.store.ExpireBySource(ctx, obsID)
	if err != nil {
		log.Printf("expiring suggestions sourced at %s: %v", obsID, err)
		return
	}
	if n > 0 {
		log.Printf("expired %d suggestions sourced at observation %s", n, obsID)
	}
}

// retractExemplars removes the unpinned exemplar prototypes an identity
// gained from an observation whose label was just retracted. Pinned
// prototypes stay; a curator vouched for them beyond the label itself.
// Failures are logged, the unassignment already committed.
func (e *Engine) retractExemplars(ctx context.Context, identityID, obsID string) {
	prototypes, err := e.store.ListPrototypes(ctx, identityID)
	if err != nil {
		log.Printf("listing prototypes of %s: %v", identityID, err)
		return
	}
	for _, p := range prototypes {
		if p.ObservationID != obsID || p.Pinned || p.Role == store.RoleCentroid {
			continue
		}
		if err := e.store.DeletePrototype(ctx, p.ID); err != nil {
			log.Printf("retracting exemplar %s: %v", p.ID, err)
			continue
		}
		if err := e.index.Delete(ctx, p.VectorRef); err != nil {
			log.Printf("deleting exemplar vector %s: %v", p.VectorRef, err)
		}
		if e.archive != nil {
			if err := e.archive.DeleteVector(ctx, p.VectorRef); err != nil {
				log.Printf("deleting archived vector %s: %v", p.VectorRef, err)
			}
		}
	}
}

// createExemplar records a labeled face as an exemplar prototype of its
// identity. The prototype gets its own index point so pruning it never
// touches the observation's embedding.
func (e *Engine) createExemplar(ctx context.Context, obs *store.Observation, identityID string) {
	vector, _, err := e.index.Retrieve(ctx, obs.EmbeddingRef)
	if err != nil {
		log.Printf("exemplar for %s: %v", obs.ID, err)
		return
	}

	proto := &store.Prototype{
		ID:            uuid.NewString(),
		IdentityID:    identityID,
		Role:          store.RoleExemplar,
		ObservationID: obs.ID,
		FaceCount:     1,
		CreatedAt:     e.now().UTC(),
		UpdatedAt:     e.now().UTC(),
	}
	proto.VectorRef = "proto-" + proto.ID

	if err := e.index.Upsert(ctx, proto.VectorRef, vector, vecindex.Payload{
		vecindex.PayloadKind:          vecindex.KindPrototype,
		vecindex.PayloadIdentityID:    identityID,
		vecindex.PayloadRole:          string(store.RoleExemplar),
		vecindex.PayloadObservationID: obs.ID,
	}); err != nil {
		log.Printf("indexing exemplar for %s: %v", obs.ID, err)
		return
	}
	if err := e.store.CreatePrototype(ctx, proto); err != nil {
		_ = e.index.Delete(ctx, proto.VectorRef)
		log.Printf("storing exemplar for %s: %v", obs.ID, err)
		return
	}
	e.archiveVector(ctx, proto.VectorRef, vector)
}
