package sync

import (
	"context"
	"time"

	"github.com/macrolog/macrolog/internal/schema"
)

// Syncer is the entry API the presentation layer and the reconciler use.
// *Engine implements it.
type Syncer interface {
	// FetchEntries returns the entries of date, refreshed from the remote
	// service when it is reachable.
	FetchEntries(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)

	// AddEntry records a new entry. When the remote service cannot take it
	// the entry is cached as pending and returned together with the error.
	AddEntry(ctx context.Context, draft schema.Draft) (schema.FoodEntry, error)

	// DeleteEntry removes an entry. Confirmed entries are deleted remotely
	// first; the cache only changes once that succeeded.
	DeleteEntry(ctx context.Context, id schema.EntryID) error

	// SyncPending submits every pending entry once.
	SyncPending(ctx context.Context) (SyncResult, error)

	// PendingCount returns the size of the pending queue.
	PendingCount(ctx context.Context) (int, error)
}

// SyncResult summarises one SyncPending pass.
type SyncResult struct {
	// Attempted is the number of rows submitted.
	Attempted int `json:"attempted"`

	// Confirmed rows were accepted and swapped for their confirmed copy.
	Confirmed int `json:"confirmed"`

	// Failed rows stay pending for the next pass.
	Failed int `json:"failed"`

	// Skipped rows were not attempted because the pass was cancelled.
	Skipped int `json:"skipped"`

	// StillPending is the queue size after the pass.
	StillPending int `json:"still_pending"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// EventType names an Engine event.
type EventType string

const (
	EventEntryAdded     EventType = "entry_added"
	EventEntryConfirmed EventType = "entry_confirmed"
	EventEntryDeleted   EventType = "entry_deleted"
	EventSyncComplete   EventType = "sync_complete"
)

// Event describes a change to the cached entries.
type Event struct {
	Type EventType `json:"type"`

	// Entry is the added or confirmed entry.
	Entry *schema.FoodEntry `json:"entry,omitempty"`

	// ID is the deleted entry, or the placeholder a confirmed entry replaced.
	ID schema.EntryID `json:"id,omitempty"`

	// Result is set for EventSyncComplete.
	Result *SyncResult `json:"result,omitempty"`
}

// Notifier receives Engine events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Metrics records Engine activity.
type Metrics interface {
	EntryAdded(state schema.SyncState)
	RemoteFailure(op string, err error)
	FallbackServed(op string)
	SyncCompleted(result SyncResult)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

type nopMetrics struct{}

func (nopMetrics) EntryAdded(schema.SyncState) {}
func (nopMetrics) RemoteFailure(string, error) {}
func (nopMetrics) FallbackServed(string)       {}
func (nopMetrics) SyncCompleted(SyncResult)    {}
