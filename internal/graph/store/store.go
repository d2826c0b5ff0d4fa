// Package store implements the Checkpoint Store: a key-value store of
// opaque graph-state snapshots addressed by thread id, with two required
// backends (a persistent one and an in-memory one for tests).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetLatest when a thread has no checkpoints.
var ErrNotFound = errors.New("store: no checkpoint for thread")

// Checkpoint is one opaque snapshot of graph state at a given index within
// a thread. Blob encoding is owned by the caller (internal/graph); the
// store never inspects it.
type Checkpoint struct {
	ThreadID string
	Index    int
	Blob     []byte
}

// Store is the Checkpoint Store contract. Implementations must
// guarantee read-your-writes within a single ThreadID: a GetLatest call
// that follows a successful Put for the same thread on the same connection
// must observe that write.
type Store interface {
	// Put appends a checkpoint at the given index. Index must be strictly
	// greater than any previously stored index for the same thread;
	// implementations may treat a non-increasing index as a no-op success
	// (idempotent retries of the same step).
	Put(ctx context.Context, threadID string, index int, blob []byte) error

	// GetLatest returns the highest-index checkpoint for threadID, or
	// ErrNotFound if none exists.
	GetLatest(ctx context.Context, threadID string) (Checkpoint, error)

	// Iter returns every checkpoint for threadID in ascending index order.
	Iter(ctx context.Context, threadID string) ([]Checkpoint, error)

	// DeleteByPrefix removes every checkpoint whose ThreadID has the given
	// prefix. Used for thread reset and on case closure.
	DeleteByPrefix(ctx context.Context, prefix string) error
}
