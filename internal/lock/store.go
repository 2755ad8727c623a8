// Package lock provides a lease-based mutual-exclusion primitive keyed
// by a resource identifier, backed by a shared store with no native
// locking. The existence of a non-expired record in the store is the
// lock; expiry makes abandoned locks self-healing.
package lock

import (
	"context"
	"time"
)

// Record is the lock document. One live record per resource id,
// enforced by a uniqueness constraint in the store.
type Record struct {
	ResourceID string
	Token      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Store is the persistence collaborator for lock records. Insert must be
// atomic insert-if-absent on ResourceID; a conflict with any existing
// record (live or expired) returns (false, nil).
type Store interface {
	Insert(ctx context.Context, rec Record) (bool, error)
	// DeleteExpired removes the record for the resource if its lease has
	// passed, returning the number of records swept (0 or 1).
	DeleteExpired(ctx context.Context, resourceID string, now time.Time) (int64, error)
	// Delete releases the record matching resource and token. Deleting a
	// record that no longer exists is not an error.
	Delete(ctx context.Context, resourceID, token string) error
}
