package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/macrolog/macrolog/internal/cache/sqlstore"
	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/remote/fakebackend"
	"github.com/macrolog/macrolog/internal/schema"
)

// TestOfflineSessionOverHTTP drives the engine against the HTTP client, a
// fake service and the SQLite cache through an outage.
func TestOfflineSessionOverHTTP(t *testing.T) {
	ctx := context.Background()
	clock := stepClock()

	backend := fakebackend.New(fakebackend.WithClock(clock))
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	client, err := remote.NewHTTPClient(remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RequestsPerSecond: 1000})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	store, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	defer store.Close()

	engine := New(store, client, Options{Logger: log.New(io.Discard, "", 0), Now: clock, Location: time.UTC})

	online, err := engine.AddEntry(ctx, meal("breakfast", 400))
	if err != nil {
		t.Fatalf("online AddEntry: %v", err)
	}

	backend.SetDown(true)
	queued, err := engine.AddEntry(ctx, meal("lunch", 650))
	if !errors.Is(err, remote.ErrServer) || !queued.IsPending() {
		t.Fatalf("AddEntry during outage = %+v, %v; want pending entry and ErrServer", queued, err)
	}
	if err := engine.DeleteEntry(ctx, online.ID); err == nil {
		t.Fatal("DeleteEntry succeeded during outage")
	}

	entries, err := engine.FetchEntries(ctx, day)
	if err != nil {
		t.Fatalf("FetchEntries during outage: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("outage view has %d entries, want 2", len(entries))
	}

	backend.SetDown(false)
	result, err := engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("SyncPending: %v", err)
	}
	if result.Confirmed != 1 || result.StillPending != 0 {
		t.Errorf("result = %+v", result)
	}

	entries, err = engine.FetchEntries(ctx, day)
	if err != nil {
		t.Fatalf("FetchEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("converged view has %d entries, want 2: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.State != schema.StateConfirmed {
			t.Errorf("entry %s still %s after sync", e.ID, e.State)
		}
	}
	if entries[0].Name != "lunch" {
		t.Errorf("newest entry = %q, want lunch", entries[0].Name)
	}
	if n := len(backend.Entries(day)); n != 2 {
		t.Errorf("service holds %d entries, want 2", n)
	}
}
