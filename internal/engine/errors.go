package engine

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/facematch/internal/cluster"
	"github.com/kozaktomas/facematch/internal/store"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// Caller-facing error kinds. Every failed single-item operation wraps
// exactly one of these; callers branch with errors.Is and never see a bare
// internal error.
var (
	// ErrNotFound means an unknown observation, identity or suggestion.
	// Surfaced to the caller, not retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a concurrent mutation or uniqueness violation.
	// Resolved deterministically; exactly one side of a race sees it.
	ErrConflict = errors.New("conflict")

	// ErrInvalidConfiguration means the threshold ordering was violated.
	// Rejected at construction, never at classification time.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientEvidence means too few labeled faces to build a
	// centroid. Local and non-fatal; the caller may retry later.
	ErrInsufficientEvidence = errors.New("insufficient evidence")

	// ErrClusterSetTooLarge means a clustering run exceeded the
	// memory-safety ceiling. Fatal for that batch.
	ErrClusterSetTooLarge = cluster.ErrSetTooLarge

	// ErrUpstreamUnavailable means the vector index or the relational
	// store could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// mapStoreErr translates store sentinels into engine error kinds.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateName):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	default:
		return err
	}
}

// mapIndexErr translates vector index errors into engine error kinds.
func mapIndexErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vecindex.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

// ItemError is one failed item of a batch operation.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}
