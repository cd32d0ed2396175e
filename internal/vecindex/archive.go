package vecindex

import "context"

// Archive is a durable copy of every indexed vector, keyed by the same
// point id the index uses. The in-memory index is disposable as long as
// an archive exists: a lost or stale index file is rebuilt from it
// instead of re-embedding the library.
type Archive interface {
	SaveVector(ctx context.Context, ref string, vector []float32, model string) error
	GetVector(ctx context.Context, ref string) ([]float32, error)
	DeleteVector(ctx context.Context, ref string) error
	StreamVectors(ctx context.Context, fn func(ref string, vector []float32) error) error
}
