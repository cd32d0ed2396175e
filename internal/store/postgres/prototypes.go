package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/facematch/internal/store"
)

const prototypeColumns = `id, identity_id, vector_ref, role, observation_id, temporal_bucket, pinned, pinned_by, pinned_at, fingerprint, face_count, created_at, updated_at`

func (s *Store) CreatePrototype(ctx context.Context, p *store.Prototype) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prototypes (id, identity_id, vector_ref, role, observation_id, temporal_bucket, pinned, pinned_by, pinned_at, fingerprint, face_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.IdentityID, p.VectorRef, p.Role, nullable(p.ObservationID), p.TemporalBucket,
		p.Pinned, p.PinnedBy, p.PinnedAt, p.Fingerprint, p.FaceCount, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "inserting prototype")
}

// UpsertCentroid replaces the centroid row in place. The partial unique
// index on (identity_id) WHERE role = 'centroid' backs the conflict
// target, so at most one centroid per identity can ever exist.
func (s *Store) UpsertCentroid(ctx context.Context, p *store.Prototype) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prototypes (id, identity_id, vector_ref, role, observation_id, temporal_bucket, pinned, pinned_by, pinned_at, fingerprint, face_count, created_at, updated_at)
		VALUES ($1, $2, $3, 'centroid', NULL, '', $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (identity_id) WHERE role = 'centroid'
		DO UPDATE SET
			vector_ref = EXCLUDED.vector_ref,
			fingerprint = EXCLUDED.fingerprint,
			face_count = EXCLUDED.face_count,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.IdentityID, p.VectorRef, p.Pinned, p.PinnedBy, p.PinnedAt,
		p.Fingerprint, p.FaceCount, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "upserting centroid")
}

func (s *Store) scanPrototype(row interface{ Scan(...any) error }) (*store.Prototype, error) {
	var p store.Prototype
	var observationID *string
	var pinnedAt *time.Time
	if err := row.Scan(&p.ID, &p.IdentityID, &p.VectorRef, &p.Role, &observationID,
		&p.TemporalBucket, &p.Pinned, &p.PinnedBy, &pinnedAt, &p.Fingerprint,
		&p.FaceCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ObservationID = orEmpty(observationID)
	p.PinnedAt = pinnedAt
	return &p, nil
}

func (s *Store) GetCentroid(ctx context.Context, identityID string) (*store.Prototype, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+prototypeColumns+` FROM prototypes
		WHERE identity_id = $1 AND role = 'centroid'
	`, identityID)
	p, err := s.scanPrototype(row)
	if err != nil {
		return nil, mapErr(err, "centroid of identity "+identityID)
	}
	return p, nil
}

func (s *Store) ListPrototypes(ctx context.Context, identityID string) ([]store.Prototype, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prototypeColumns+` FROM prototypes WHERE identity_id = $1 ORDER BY id
	`, identityID)
	if err != nil {
		return nil, mapErr(err, "listing prototypes")
	}
	defer rows.Close()
	return s.collectPrototypes(rows)
}

func (s *Store) ListAllPrototypes(ctx context.Context) ([]store.Prototype, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prototypeColumns+` FROM prototypes ORDER BY id
	`)
	if err != nil {
		return nil, mapErr(err, "listing all prototypes")
	}
	defer rows.Close()
	return s.collectPrototypes(rows)
}

func (s *Store) DeletePrototype(ctx context.Context, id string) error {
	// Pinned rows are excluded by the predicate, not checked first: a
	// concurrent pin can never slip between a check and the delete.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM prototypes WHERE id = $1 AND NOT pinned
	`, id)
	if err != nil {
		return mapErr(err, "deleting prototype")
	}
	if tag.RowsAffected() == 0 {
		var pinned bool
		err := s.pool.QueryRow(ctx, `SELECT pinned FROM prototypes WHERE id = $1`, id).Scan(&pinned)
		if err != nil {
			return mapErr(err, "prototype "+id)
		}
		if pinned {
			return fmt.Errorf("%w: prototype %s is pinned", store.ErrConflict, id)
		}
		return fmt.Errorf("%w: prototype %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) collectPrototypes(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]store.Prototype, error) {
	var out []store.Prototype
	for rows.Next() {
		p, err := s.scanPrototype(rows)
		if err != nil {
			return nil, mapErr(err, "scanning prototype")
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err(), "iterating prototypes")
}
