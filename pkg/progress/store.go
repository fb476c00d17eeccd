package progress

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("progress record not found")

// Store persists progress records.
//
// TryAdmit must be a single atomic conditional write: of any number of
// concurrent callers for the same key, at most one observes true while a
// record is active.
type Store interface {
	// TryAdmit creates or resets the record to Initialized with
	// createdAt = updatedAt = now and no error detail, provided no active
	// record exists. It returns false (and no error) when the key is held.
	TryAdmit(ctx context.Context, key Key, now time.Time) (bool, error)

	// SetState records a progress label on an existing record.
	SetState(ctx context.Context, key Key, state State, now time.Time) error

	// SetFailure records state together with an error detail.
	SetFailure(ctx context.Context, key Key, state State, detail string, now time.Time) error

	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// List returns every record under folder ordered by archive name.
	List(ctx context.Context, folder string) ([]Record, error)

	Close() error
}
