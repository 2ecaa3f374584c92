// Package remote talks to the authoritative entry service.
//
// The sync engine depends only on the Client interface. HTTPClient is the
// implementation for the REST API; fakebackend serves the same API from
// memory for tests and local development.
package remote

import (
	"context"

	"github.com/macrolog/macrolog/internal/schema"
)

// Client is the remote entry service.
type Client interface {
	// List returns the confirmed entries of one date.
	List(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)

	// Create submits a draft. The idempotency key lets the service
	// recognise a resubmission of a row it already accepted.
	Create(ctx context.Context, draft schema.Draft, idempotencyKey string) (schema.FoodEntry, error)

	// Delete removes a confirmed entry.
	Delete(ctx context.Context, id schema.EntryID) error

	// Summary returns the service's totals and goals for one date.
	Summary(ctx context.Context, date schema.Date) (schema.MacroSummary, error)
}

// Pinger is implemented by clients that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
