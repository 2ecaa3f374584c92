package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
)

// Options configures an Engine. Every field is optional.
type Options struct {
	Logger   *log.Logger
	Notifier Notifier
	Metrics  Metrics

	// Now is the clock; nil uses time.Now.
	Now func() time.Time

	// Location decides which calendar day "today" is for drafts without a
	// date. nil uses time.Local.
	Location *time.Location

	// IDs issues placeholder identifiers; nil creates one on Now.
	IDs *schema.PlaceholderGenerator

	// NewRef returns a fresh client reference; nil uses random UUIDs.
	NewRef func() string
}

// Engine implements Syncer on a cache.Store and a remote.Client.
type Engine struct {
	store    cache.Store
	remote   remote.Client
	logger   *log.Logger
	notifier Notifier
	metrics  Metrics
	now      func() time.Time
	loc      *time.Location
	ids      *schema.PlaceholderGenerator
	newRef   func() string

	// pass serialises SyncPending.
	pass chan struct{}

	// primed is set once existing placeholders were fed to ids.
	primed atomic.Bool
}

var _ Syncer = (*Engine)(nil)

// New creates an Engine.
//
// Example:
//
//	store, _, err := probe.Open(ctx, probe.Options{Dir: dir})
//	if err != nil {
//	    return err
//	}
//	client, err := remote.NewHTTPClient(remote.Config{BaseURL: url})
//	if err != nil {
//	    return err
//	}
//	engine := sync.New(store, client, sync.Options{})
func New(store cache.Store, client remote.Client, opts Options) *Engine {
	e := &Engine{
		store:    store,
		remote:   client,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
		loc:      opts.Location,
		ids:      opts.IDs,
		newRef:   opts.NewRef,
		pass:     make(chan struct{}, 1),
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.ids == nil {
		e.ids = schema.NewPlaceholderGenerator(e.now)
	}
	if e.newRef == nil {
		e.newRef = func() string { return uuid.NewString() }
	}
	return e
}

// Today returns the current calendar date in the engine's location.
func (e *Engine) Today() schema.Date {
	return schema.DateOf(e.now().In(e.loc))
}

// FetchEntries implements Syncer.
//
// On success the remote list replaces every confirmed row of date while
// pending rows of date are kept, and the merged rows are returned. On a
// remote failure the cached rows are returned and the failure is only
// logged.
func (e *Engine) FetchEntries(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error) {
	entries, err := e.remote.List(ctx, date)
	if err != nil {
		e.metrics.RemoteFailure("list", err)
		e.metrics.FallbackServed("list")
		e.logger.Printf("WARNING: Failed to fetch entries for %s, serving cache: %v", date, err)
		return e.store.ListByDate(ctx, date)
	}

	confirmed := make([]schema.FoodEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.EntryDate != date {
			e.logger.Printf("WARNING: Ignoring entry %s dated %s in listing for %s", entry.ID, entry.EntryDate, date)
			continue
		}
		confirmed = append(confirmed, entry.Confirmed())
	}

	if err := e.store.ReplaceConfirmed(ctx, date, confirmed); err != nil {
		return nil, fmt.Errorf("failed to merge entries for %s: %w", date, err)
	}
	return e.store.ListByDate(ctx, date)
}

// AddEntry implements Syncer.
//
// An invalid draft is rejected without touching the cache or the remote
// service. Otherwise the returned entry is always visible in the cache;
// when err is non-nil and the entry is pending, err is the remote failure
// that caused it to be queued.
func (e *Engine) AddEntry(ctx context.Context, draft schema.Draft) (schema.FoodEntry, error) {
	draft.SetDefaults(e.now().In(e.loc))
	if err := draft.Validate(); err != nil {
		return schema.FoodEntry{}, err
	}

	ref := e.newRef()
	created, remoteErr := e.remote.Create(ctx, draft, ref)
	if remoteErr == nil {
		created = created.Confirmed()
		// The service already has the entry; record it even if ctx ended.
		if err := e.store.Upsert(context.WithoutCancel(ctx), created); err != nil {
			return created, fmt.Errorf("failed to cache entry %s: %w", created.ID, err)
		}
		e.metrics.EntryAdded(schema.StateConfirmed)
		e.notifier.Notify(Event{Type: EventEntryAdded, Entry: &created})
		e.logger.Printf("Added entry %s (%s)", created.ID, created.Name)
		return created, nil
	}

	e.metrics.RemoteFailure("create", remoteErr)
	localCtx := context.WithoutCancel(ctx)
	if err := e.primeIDs(localCtx); err != nil {
		return schema.FoodEntry{}, errors.Join(remoteErr, err)
	}

	pending := schema.NewPending(e.ids.Next(), draft, e.now(), ref)
	if err := e.store.Upsert(localCtx, pending); err != nil {
		return schema.FoodEntry{}, errors.Join(remoteErr, fmt.Errorf("failed to queue entry: %w", err))
	}
	e.metrics.EntryAdded(schema.StatePending)
	e.notifier.Notify(Event{Type: EventEntryAdded, Entry: &pending})
	e.logger.Printf("WARNING: Queued entry %s (%s) for later submission: %v", pending.ID, pending.Name, remoteErr)

	return pending, fmt.Errorf("entry %s saved locally only: %w", pending.ID, remoteErr)
}

// primeIDs feeds cached placeholders to the generator once, so a clock that
// went backwards across a restart cannot reissue one.
func (e *Engine) primeIDs(ctx context.Context) error {
	if e.primed.Load() {
		return nil
	}
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending entries: %w", err)
	}
	for _, p := range pending {
		e.ids.Observe(p.ID)
	}
	e.primed.Store(true)
	return nil
}

// DeleteEntry implements Syncer.
//
// A placeholder identifier names a row the service has never seen; it is
// removed from the cache without a remote call. For a confirmed identifier
// the remote delete must succeed first. A failed remote delete, including
// remote.ErrNotFound, leaves the cache unchanged and is returned.
func (e *Engine) DeleteEntry(ctx context.Context, id schema.EntryID) error {
	if id == 0 {
		return fmt.Errorf("%w: id is required", schema.ErrInvalid)
	}

	if id.IsPlaceholder() {
		if err := e.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete pending entry %s: %w", id, err)
		}
		e.notifier.Notify(Event{Type: EventEntryDeleted, ID: id})
		e.logger.Printf("Deleted pending entry %s", id)
		return nil
	}

	if err := e.remote.Delete(ctx, id); err != nil {
		e.metrics.RemoteFailure("delete", err)
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if err := e.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		return fmt.Errorf("entry %s deleted remotely but not from cache: %w", id, err)
	}
	e.notifier.Notify(Event{Type: EventEntryDeleted, ID: id})
	e.logger.Printf("Deleted entry %s", id)
	return nil
}

// SyncPending implements Syncer.
//
// Rows are submitted oldest first with their client reference as the
// idempotency key. A failed row stays pending and the pass moves on. A
// cancelled ctx stops the pass before the next row. The returned error is
// non-nil only when the pending queue could not be read.
func (e *Engine) SyncPending(ctx context.Context) (SyncResult, error) {
	select {
	case e.pass <- struct{}{}:
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
	defer func() { <-e.pass }()

	result := SyncResult{StartedAt: e.now()}

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending entries: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}
	for _, p := range pending {
		e.ids.Observe(p.ID)
	}
	e.primed.Store(true)

	e.logger.Printf("Submitting %d pending entries", len(pending))

	for i, row := range pending {
		if ctx.Err() != nil {
			result.Skipped = len(pending) - i
			e.logger.Printf("Sync pass cancelled, %d entries not attempted", result.Skipped)
			break
		}
		result.Attempted++
		if e.submit(ctx, row) {
			result.Confirmed++
		} else {
			result.Failed++
		}
	}

	count, err := e.store.CountPending(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Printf("WARNING: Failed to count pending entries: %v", err)
		count = result.Failed + result.Skipped
	}
	result.StillPending = count
	result.Duration = e.now().Sub(result.StartedAt)

	e.metrics.SyncCompleted(result)
	e.notifier.Notify(Event{Type: EventSyncComplete, Result: &result})
	e.logger.Printf("Sync pass complete: attempted=%d confirmed=%d failed=%d skipped=%d pending=%d",
		result.Attempted, result.Confirmed, result.Failed, result.Skipped, result.StillPending)

	return result, nil
}

// submit creates one pending row remotely and swaps it for the confirmed
// copy. It reports whether the row left the queue.
func (e *Engine) submit(ctx context.Context, row schema.FoodEntry) bool {
	created, err := e.remote.Create(ctx, row.Draft(), row.ClientRef)
	if err != nil {
		e.metrics.RemoteFailure("create", err)
		e.logger.Printf("WARNING: Failed to submit entry %s (%s): %v", row.ID, row.Name, err)
		return false
	}
	created = created.Confirmed()

	localCtx := context.WithoutCancel(ctx)
	err = e.store.MarkConfirmed(localCtx, row.ID, created)
	switch {
	case err == nil:
		e.notifier.Notify(Event{Type: EventEntryConfirmed, Entry: &created, ID: row.ID})
		e.logger.Printf("Confirmed entry %s as %s", row.ID, created.ID)
		return true

	case errors.Is(err, cache.ErrNotPending):
		// Deleted locally while the create was in flight; honour the delete.
		e.logger.Printf("Entry %s was deleted during submission, removing %s remotely", row.ID, created.ID)
		if err := e.remote.Delete(localCtx, created.ID); err != nil && !errors.Is(err, remote.ErrNotFound) {
			e.metrics.RemoteFailure("delete", err)
			e.logger.Printf("WARNING: Failed to remove %s remotely: %v", created.ID, err)
		}
		return true

	default:
		// Still pending; the next pass resubmits with the same reference.
		e.logger.Printf("WARNING: Entry %s accepted as %s but cache update failed: %v", row.ID, created.ID, err)
		return false
	}
}

// PendingCount implements Syncer.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	n, err := e.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}
