package postgres

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// The embeddings table is the durable copy of every vector the in-memory
// index holds, keyed by the same embedding ref. It exists so a lost or
// stale index file can be rebuilt from the database instead of requiring
// re-embedding of the whole library.

// SaveVector stores or replaces the durable copy of an indexed vector.
func (s *Store) SaveVector(ctx context.Context, ref string, vector []float32, model string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embeddings (ref, embedding, model)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model
	`, ref, pgvector.NewVector(vector), model)
	return mapErr(err, "saving embedding")
}

// GetVector retrieves the durable copy of one vector.
func (s *Store) GetVector(ctx context.Context, ref string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM embeddings WHERE ref = $1`, ref).Scan(&vec)
	if err != nil {
		return nil, mapErr(err, "embedding "+ref)
	}
	return vec.Slice(), nil
}

// DeleteVector removes the durable copy of a vector.
func (s *Store) DeleteVector(ctx context.Context, ref string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM embeddings WHERE ref = $1`, ref)
	return mapErr(err, "deleting embedding")
}

// StreamVectors calls fn for every stored vector. Used by index rebuilds;
// rows stream instead of materializing the whole table.
func (s *Store) StreamVectors(ctx context.Context, fn func(ref string, vector []float32) error) error {
	rows, err := s.pool.Query(ctx, `SELECT ref, embedding FROM embeddings ORDER BY ref`)
	if err != nil {
		return mapErr(err, "streaming embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		var vec pgvector.Vector
		if err := rows.Scan(&ref, &vec); err != nil {
			return mapErr(err, "scanning embedding")
		}
		if err := fn(ref, vec.Slice()); err != nil {
			return err
		}
	}
	return mapErr(rows.Err(), "iterating embeddings")
}

// CountVectors returns the number of durable vectors.
func (s *Store) CountVectors(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count)
	return count, mapErr(err, "counting embeddings")
}
