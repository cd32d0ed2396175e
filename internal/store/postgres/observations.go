package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facematch/internal/store"
)

const observationColumns = `id, image_uid, bbox, det_score, quality, embedding_ref, cluster_label, identity_id, version, created_at`

func (s *Store) CreateObservation(ctx context.Context, obs *store.Observation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO observations (id, image_uid, bbox, det_score, quality, embedding_ref, cluster_label, identity_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, obs.ID, obs.ImageUID, obs.BBox, obs.DetScore, obs.Quality,
		obs.EmbeddingRef, obs.ClusterLabel, nullable(obs.IdentityID), obs.Version, obs.CreatedAt)
	return mapErr(err, "inserting observation")
}

func (s *Store) scanObservation(row interface{ Scan(...any) error }) (*store.Observation, error) {
	var obs store.Observation
	var identityID *string
	if err := row.Scan(&obs.ID, &obs.ImageUID, &obs.BBox, &obs.DetScore, &obs.Quality,
		&obs.EmbeddingRef, &obs.ClusterLabel, &identityID, &obs.Version, &obs.CreatedAt); err != nil {
		return nil, err
	}
	obs.IdentityID = orEmpty(identityID)
	return &obs, nil
}

func (s *Store) GetObservation(ctx context.Context, id string) (*store.Observation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = $1`, id)
	obs, err := s.scanObservation(row)
	if err != nil {
		return nil, mapErr(err, "observation "+id)
	}
	return obs, nil
}

func (s *Store) GetObservations(ctx context.Context, ids []string) ([]store.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+observationColumns+` FROM observations WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, mapErr(err, "listing observations by id")
	}
	defer rows.Close()
	return s.collectObservations(rows)
}

func (s *Store) ListUnassigned(ctx context.Context, afterID string, limit int) ([]store.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE identity_id IS NULL AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, mapErr(err, "listing unassigned observations")
	}
	defer rows.Close()
	return s.collectObservations(rows)
}

func (s *Store) ListByIdentity(ctx context.Context, identityID string) ([]store.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+observationColumns+` FROM observations WHERE identity_id = $1 ORDER BY id
	`, identityID)
	if err != nil {
		return nil, mapErr(err, "listing observations by identity")
	}
	defer rows.Close()
	return s.collectObservations(rows)
}

func (s *Store) ListByCluster(ctx context.Context, label string) ([]store.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+observationColumns+` FROM observations WHERE cluster_label = $1 ORDER BY id
	`, label)
	if err != nil {
		return nil, mapErr(err, "listing observations by cluster")
	}
	defer rows.Close()
	return s.collectObservations(rows)
}

func (s *Store) CountByIdentity(ctx context.Context, identityID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM observations WHERE identity_id = $1
	`, identityID).Scan(&count)
	return count, mapErr(err, "counting observations")
}

// UpdateAssignment performs the optimistic assignment write. The version
// predicate makes exactly one of two racing writers succeed; the other
// sees zero rows and gets ErrConflict.
func (s *Store) UpdateAssignment(ctx context.Context, obsID string, version int64, identityID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE observations SET identity_id = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, obsID, version, nullable(identityID))
	if err != nil {
		return mapErr(err, "updating assignment")
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM observations WHERE id = $1)
		`, obsID).Scan(&exists); err != nil {
			return mapErr(err, "checking observation existence")
		}
		if !exists {
			return fmt.Errorf("%w: observation %s", store.ErrNotFound, obsID)
		}
		return fmt.Errorf("%w: observation %s version %d is stale", store.ErrConflict, obsID, version)
	}
	return nil
}

func (s *Store) SetClusterLabels(ctx context.Context, labels map[string]string) error {
	if len(labels) == 0 {
		return nil
	}
	ids := make([]string, 0, len(labels))
	values := make([]string, 0, len(labels))
	for id, label := range labels {
		ids = append(ids, id)
		values = append(values, label)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE observations AS o
		SET cluster_label = v.label
		FROM (SELECT UNNEST($1::uuid[]) AS id, UNNEST($2::text[]) AS label) AS v
		WHERE o.id = v.id
	`, ids, values)
	return mapErr(err, "setting cluster labels")
}

func (s *Store) collectObservations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]store.Observation, error) {
	var out []store.Observation
	for rows.Next() {
		obs, err := s.scanObservation(rows)
		if err != nil {
			return nil, mapErr(err, "scanning observation")
		}
		out = append(out, *obs)
	}
	return out, mapErr(rows.Err(), "iterating observations")
}
