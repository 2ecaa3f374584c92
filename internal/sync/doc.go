// Package sync keeps the local entry cache and the remote entry service in
// step while the network comes and goes.
//
// # Overview
//
// The Engine is the only writer of the cache. Reads prefer the remote
// service and fall back to the cache; writes go to the remote service and,
// when that fails, are queued in the cache as pending rows:
//
//	AddEntry / DeleteEntry / FetchEntries
//	               ↓
//	            Engine ──────→ remote.Client
//	               ↓               ↑
//	          cache.Store     SyncPending
//	  (confirmed + pending rows)
//
// # Identifiers
//
// A pending row carries a negative placeholder identifier and a client
// reference. The reference is sent as the idempotency key of every create
// attempt for that row, so a create whose response was lost is not
// duplicated by the next pass. When the service accepts the row, the
// placeholder row is swapped for the confirmed one in a single cache
// operation.
//
// # Error handling
//
// Reads never fail because of the network: FetchEntries logs the remote
// failure and serves the cache. Writes surface the remote failure after
// doing the local bookkeeping, so the caller knows the write has not
// reached the service yet:
//
//	entry, err := engine.AddEntry(ctx, draft)
//	if errors.Is(err, remote.ErrNetwork) && entry.IsPending() {
//	    // shown locally, will be submitted by the next SyncPending
//	}
//
// SyncPending never stops at a failed row. It reports how many rows are
// still pending afterwards.
//
// Only cache failures (cache.ErrCache) are returned from the read path,
// and they are fatal to that one call only.
//
// # Concurrency
//
// An Engine is safe for concurrent use. Sync passes are serialised: a
// second SyncPending waits for the running pass to finish and then runs
// its own, so no row is submitted twice at the same time.
package sync
