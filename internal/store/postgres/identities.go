package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facematch/internal/store"
)

func (s *Store) CreateIdentity(ctx context.Context, identity *store.Identity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (id, display_name, normalized_name, status, merged_into, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, identity.ID, identity.DisplayName, identity.NormalizedName, identity.Status,
		nullable(identity.MergedInto), identity.CreatedAt, identity.UpdatedAt)
	if err := mapErr(err, "inserting identity"); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateName, identity.DisplayName)
		}
		return err
	}
	return nil
}

const identityColumns = `id, display_name, normalized_name, status, merged_into, created_at, updated_at`

func (s *Store) scanIdentity(row interface{ Scan(...any) error }) (*store.Identity, error) {
	var identity store.Identity
	var mergedInto *string
	if err := row.Scan(&identity.ID, &identity.DisplayName, &identity.NormalizedName,
		&identity.Status, &mergedInto, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	identity.MergedInto = orEmpty(mergedInto)
	return &identity, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	identity, err := s.scanIdentity(row)
	if err != nil {
		return nil, mapErr(err, "identity "+id)
	}
	return identity, nil
}

func (s *Store) GetIdentityByName(ctx context.Context, normalizedName string) (*store.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE normalized_name = $1 AND status != 'merged'
	`, normalizedName)
	identity, err := s.scanIdentity(row)
	if err != nil {
		return nil, mapErr(err, "identity named "+normalizedName)
	}
	return identity, nil
}

func (s *Store) ListIdentities(ctx context.Context, status store.IdentityStatus) ([]store.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY normalized_name`
	args := []any{}
	if status != "" {
		query = `SELECT ` + identityColumns + ` FROM identities WHERE status = $1 ORDER BY normalized_name`
		args = append(args, status)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "listing identities")
	}
	defer rows.Close()

	var out []store.Identity
	for rows.Next() {
		identity, err := s.scanIdentity(rows)
		if err != nil {
			return nil, mapErr(err, "scanning identity")
		}
		out = append(out, *identity)
	}
	return out, mapErr(rows.Err(), "iterating identities")
}

// MergeIdentity marks source as merged into target and flattens every
// pointer to source in the same transaction, so no concurrent reader ever
// observes a chain.
func (s *Store) MergeIdentity(ctx context.Context, sourceID, targetID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err, "beginning merge transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE identities SET status = 'merged', merged_into = $2, updated_at = NOW()
		WHERE id = $1
	`, sourceID, targetID)
	if err != nil {
		return mapErr(err, "merging identity")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: identity %s", store.ErrNotFound, sourceID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE identities SET merged_into = $2, updated_at = NOW()
		WHERE merged_into = $1 AND id != $1
	`, sourceID, targetID); err != nil {
		return mapErr(err, "flattening merge pointers")
	}

	return mapErr(tx.Commit(ctx), "committing merge")
}

func (s *Store) SetIdentityStatus(ctx context.Context, id string, status store.IdentityStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return mapErr(err, "updating identity status")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: identity %s", store.ErrNotFound, id)
	}
	return nil
}
