// Package cache defines the local persistent cache of food entries and
// selects one of its interchangeable backends at startup.
//
// Two backends implement Store with identical behaviour:
//
//   - sqlstore: an embedded SQLite database (durable, indexed)
//   - kvstore: a single JSON document kept under one key of a flat
//     key-value blob (a file, or a redis key)
//
// The sync engine only ever sees the Store interface; it never branches on
// the backend in use.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/macrolog/macrolog/internal/schema"
)

// ErrCache is wrapped by every failure of the underlying storage. It is
// fatal to the single operation that hit it, never to the process.
// Validation failures wrap schema.ErrInvalid instead.
var ErrCache = errors.New("local cache unavailable")

// ErrNotPending is returned by MarkConfirmed when the old identifier does
// not name a pending row.
var ErrNotPending = errors.New("entry is not pending")

// Wrap annotates err as a cache failure. It returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCache, op, err)
}

// Store is the persistent table of cached entries.
//
// Every method is atomic with respect to every other method on the same
// Store; callers never observe a half-applied operation.
type Store interface {
	// Upsert inserts or replaces an entry by identifier. Calling it twice
	// with the same entry leaves exactly one row.
	Upsert(ctx context.Context, entry schema.FoodEntry) error

	// ListByDate returns the entries of one date, newest CreatedAt first
	// (ties broken by identifier, highest first). It returns an empty,
	// non-nil slice when nothing is cached for the date.
	ListByDate(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)

	// Delete removes an entry. Deleting an absent identifier is a no-op.
	Delete(ctx context.Context, id schema.EntryID) error

	// ListPending returns every pending entry across all dates, oldest
	// CreatedAt first so resubmission preserves creation order.
	ListPending(ctx context.Context) ([]schema.FoodEntry, error)

	// CountPending returns the number of pending entries.
	CountPending(ctx context.Context) (int, error)

	// MarkConfirmed atomically replaces the pending row oldID with the
	// confirmed entry. It fails with ErrNotPending when oldID is not a
	// pending row, leaving the cache unchanged.
	MarkConfirmed(ctx context.Context, oldID schema.EntryID, confirmed schema.FoodEntry) error

	// ReplaceConfirmed atomically replaces every confirmed row of date with
	// entries. Pending rows of the date are kept as they are.
	ReplaceConfirmed(ctx context.Context, date schema.Date, entries []schema.FoodEntry) error

	// Close releases the backend.
	Close() error
}

// GoalsCache persists the last goals received from the remote service.
type GoalsCache interface {
	SaveGoals(ctx context.Context, goals schema.MacroGoals) error

	// LoadGoals reports ok=false when goals were never saved.
	LoadGoals(ctx context.Context) (goals schema.MacroGoals, ok bool, err error)
}

// Backend is a Store that also caches goals. Both shipped backends
// implement it.
type Backend interface {
	Store
	GoalsCache
}

// ValidateConfirmed checks an entry that must be in the confirmed state.
func ValidateConfirmed(e *schema.FoodEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.State != schema.StateConfirmed {
		return fmt.Errorf("%w: entry %s is %s, want confirmed", schema.ErrInvalid, e.ID, e.State)
	}
	return nil
}
