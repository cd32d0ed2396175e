package postgres

import (
	"context"

	"github.com/kozaktomas/facematch/internal/store"
)

func (s *Store) AppendEvent(ctx context.Context, e *store.AssignmentEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assignment_events (id, op, from_identity_id, to_identity_id, observation_ids, image_uids, count, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Op, nullable(e.FromIdentityID), nullable(e.ToIdentityID),
		e.ObservationIDs, e.ImageUIDs, e.Count, e.Actor, e.Note, e.CreatedAt)
	return mapErr(err, "appending assignment event")
}

func (s *Store) ListEvents(ctx context.Context, identityID string, limit int) ([]store.AssignmentEvent, error) {
	const columns = `id, op, from_identity_id, to_identity_id, observation_ids, image_uids, count, actor, note, created_at`
	query := `SELECT ` + columns + ` FROM assignment_events ORDER BY created_at DESC LIMIT $1`
	args := []any{limit}
	if identityID != "" {
		query = `SELECT ` + columns + ` FROM assignment_events
			WHERE from_identity_id = $2 OR to_identity_id = $2
			ORDER BY created_at DESC LIMIT $1`
		args = append(args, identityID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "listing assignment events")
	}
	defer rows.Close()

	var out []store.AssignmentEvent
	for rows.Next() {
		var e store.AssignmentEvent
		var from, to *string
		if err := rows.Scan(&e.ID, &e.Op, &from, &to, &e.ObservationIDs, &e.ImageUIDs,
			&e.Count, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, mapErr(err, "scanning assignment event")
		}
		e.FromIdentityID = orEmpty(from)
		e.ToIdentityID = orEmpty(to)
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "iterating assignment events")
}
