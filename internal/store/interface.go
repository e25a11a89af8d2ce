// Package store provides the local persisted copy of remote entities,
// backed by SQLite. It is consulted by the hybrid router for local-only,
// local-first, remote-first and bidirectional modes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kilupskalvis/restsync/internal/query"
)

// Record is one locally persisted entity row: its raw attributes plus the
// store's own last-modified timestamp, required for bidirectional sync.
type Record struct {
	ID           string
	Attributes   map[string]any
	LastModified time.Time
}

// LocalStore is the conventional CRUD contract the router depends on.
// Implementations provide their own consistency guarantees; the engine does
// not re-implement them.
type LocalStore interface {
	// Find returns the record for an identity, or nil when absent.
	Find(ctx context.Context, typeName, id string) (*Record, error)
	// Query returns records matching the descriptor's filters, sorted and
	// paginated per the descriptor.
	Query(ctx context.Context, typeName string, d *query.Descriptor) ([]*Record, error)
	// Upsert writes a record, stamping it with the given modification
	// time.
	Upsert(ctx context.Context, typeName, id string, attrs map[string]any, modified time.Time) error
	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, typeName, id string) error
	Close() error
}

// SyncBookkeeper is implemented by stores that track a per-type sync mark.
// The hybrid router records a mark after each bidirectional list
// reconciliation; it is advisory metadata, not a correctness requirement.
type SyncBookkeeper interface {
	LastSync(ctx context.Context, typeName string) (time.Time, error)
	SetLastSync(ctx context.Context, typeName string, t time.Time) error
}

// Error reports a failure from the local-store collaborator.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("local store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
