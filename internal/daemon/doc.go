// Package daemon runs the reconciler: a background loop that submits
// queued entries whenever the remote service is reachable.
//
// # Triggers
//
// A reconciliation pass (one SyncPending call) runs:
//
//   - once when the daemon starts
//   - on the configured cron schedule (default "@every 1m")
//   - after Trigger, e.g. when connectivity is restored or the dashboard
//     asks for a sync
//
// Triggers arriving within DebounceInterval of each other collapse into a
// single pass. Passes never overlap.
//
// # Connectivity
//
// When a remote.Pinger is supplied, each pass starts with a health check.
// An unreachable service skips the pass without touching the queue:
//
//	d, err := daemon.New(engine, client, daemon.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go d.Start(ctx)
//	...
//	d.Trigger() // network came back
//
// # Error Handling
//
// Nothing the reconciler does is fatal. Failed passes are logged and the
// next trigger tries again; Status reports the outcome of the last pass.
package daemon
