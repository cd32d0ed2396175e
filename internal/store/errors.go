package store

import "errors"

// Sentinel errors shared by every store implementation. Engine code maps
// these onto caller-facing error kinds with errors.Is.
var (
	// ErrNotFound means the requested identity, observation or suggestion
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint or an optimistic version
	// check rejected the write. Exactly one side of a race sees it.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateName means an identity with the same normalized display
	// name already exists.
	ErrDuplicateName = errors.New("duplicate display name")

	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)
