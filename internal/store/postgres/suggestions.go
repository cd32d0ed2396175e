package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/facematch/internal/store"
)

const suggestionColumns = `id, observation_id, identity_id, confidence, prototype_scores, prototype_count, source_observation_id, status, created_at, reviewed_at`

func (s *Store) CreateSuggestion(ctx context.Context, sg *store.Suggestion) error {
	// The partial unique index turns a duplicate pending pair into a
	// unique violation, which surfaces as ErrConflict.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO suggestions (id, observation_id, identity_id, confidence, prototype_scores, prototype_count, source_observation_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sg.ID, sg.ObservationID, sg.IdentityID, sg.Confidence, sg.PrototypeScores,
		sg.PrototypeCount, nullable(sg.SourceObservationID), sg.Status, sg.CreatedAt)
	return mapErr(err, "inserting suggestion")
}

func (s *Store) scanSuggestion(row interface{ Scan(...any) error }) (*store.Suggestion, error) {
	var sg store.Suggestion
	var sourceObsID *string
	var reviewedAt *time.Time
	if err := row.Scan(&sg.ID, &sg.ObservationID, &sg.IdentityID, &sg.Confidence,
		&sg.PrototypeScores, &sg.PrototypeCount, &sourceObsID, &sg.Status,
		&sg.CreatedAt, &reviewedAt); err != nil {
		return nil, err
	}
	sg.SourceObservationID = orEmpty(sourceObsID)
	sg.ReviewedAt = reviewedAt
	return &sg, nil
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*store.Suggestion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
	sg, err := s.scanSuggestion(row)
	if err != nil {
		return nil, mapErr(err, "suggestion "+id)
	}
	return sg, nil
}

func (s *Store) ListPendingSuggestions(ctx context.Context, identityID string) ([]store.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE status = 'pending' ORDER BY confidence DESC`
	args := []any{}
	if identityID != "" {
		query = `SELECT ` + suggestionColumns + ` FROM suggestions WHERE status = 'pending' AND identity_id = $1 ORDER BY confidence DESC`
		args = append(args, identityID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "listing pending suggestions")
	}
	defer rows.Close()

	var out []store.Suggestion
	for rows.Next() {
		sg, err := s.scanSuggestion(rows)
		if err != nil {
			return nil, mapErr(err, "scanning suggestion")
		}
		out = append(out, *sg)
	}
	return out, mapErr(rows.Err(), "iterating suggestions")
}

func (s *Store) HasRejectedSuggestion(ctx context.Context, obsID, identityID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM suggestions
			WHERE observation_id = $1 AND identity_id = $2 AND status = 'rejected'
		)
	`, obsID, identityID).Scan(&exists)
	return exists, mapErr(err, "checking rejected pair")
}

// TransitionSuggestion flips the status with the previous status in the
// predicate. A racing reviewer who already moved the suggestion makes the
// update match zero rows, which resolves deterministically as a conflict.
func (s *Store) TransitionSuggestion(ctx context.Context, id string, from, to store.SuggestionStatus, reviewedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE suggestions SET status = $3, reviewed_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, reviewedAt)
	if err != nil {
		return mapErr(err, "transitioning suggestion")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM suggestions WHERE id = $1)
		`, id).Scan(&exists); err != nil {
			return mapErr(err, "checking suggestion existence")
		}
		if !exists {
			return fmt.Errorf("%w: suggestion %s", store.ErrNotFound, id)
		}
		return fmt.Errorf("%w: suggestion %s is not %s", store.ErrConflict, id, from)
	}
	return nil
}

func (s *Store) ExpireBySource(ctx context.Context, sourceObservationID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE suggestions SET status = 'expired', reviewed_at = NOW()
		WHERE source_observation_id = $1 AND status = 'pending'
	`, sourceObservationID)
	if err != nil {
		return 0, mapErr(err, "expiring suggestions by source")
	}
	return int(tag.RowsAffected()), nil
}
