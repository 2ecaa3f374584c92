// Package cachetest is the behavioural contract every cache backend must
// satisfy. Backends call Run from their own tests.
package cachetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/schema"
)

// Opener opens (or reopens) a backend persisted under dir.
type Opener func(t *testing.T, dir string) cache.Backend

// base is a fixed creation time so ordering assertions are deterministic.
var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// Confirmed builds a confirmed entry created offset after a fixed base time.
func Confirmed(id schema.EntryID, name string, date string, calories float64, offset time.Duration) schema.FoodEntry {
	return schema.FoodEntry{
		ID:        id,
		Name:      name,
		Calories:  calories,
		Protein:   1,
		Carbs:     2,
		Fats:      3,
		EntryDate: schema.MustParseDate(date),
		CreatedAt: base.Add(offset),
		State:     schema.StateConfirmed,
	}
}

// Pending builds a pending entry created offset after a fixed base time.
// A positive id is turned into the matching placeholder.
func Pending(id schema.EntryID, name string, date string, calories float64, offset time.Duration) schema.FoodEntry {
	if id > 0 {
		id = -id
	}
	e := Confirmed(id, name, date, calories, offset)
	e.State = schema.StatePending
	e.ClientRef = "ref-" + name
	return e
}

// Run executes the contract against the backend produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"UpsertIsIdempotent", testUpsertIdempotent},
		{"UpsertReplacesByID", testUpsertReplaces},
		{"UpsertRejectsInvalid", testUpsertRejectsInvalid},
		{"ListByDateOrderAndScope", testListByDate},
		{"ListByDateEmpty", testListByDateEmpty},
		{"DeleteRemovesAndIgnoresAbsent", testDelete},
		{"ListPendingAcrossDates", testListPending},
		{"MarkConfirmedReplacesPendingRow", testMarkConfirmed},
		{"MarkConfirmedRequiresPendingRow", testMarkConfirmedNotPending},
		{"ReplaceConfirmedKeepsPending", testReplaceConfirmed},
		{"GoalsRoundTrip", testGoals},
		{"SurvivesReopen", testReopen},
		{"HandlesShareOneCache", testSharedHandles},
		{"ClosedStoreIsCacheError", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open)
		})
	}
}

func openFresh(t *testing.T, open Opener) cache.Backend {
	t.Helper()
	store := open(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustUpsert(t *testing.T, store cache.Store, entries ...schema.FoodEntry) {
	t.Helper()
	for _, e := range entries {
		if err := store.Upsert(context.Background(), e); err != nil {
			t.Fatalf("Upsert(%s): %v", e.ID, err)
		}
	}
}

func mustList(t *testing.T, store cache.Store, date string) []schema.FoodEntry {
	t.Helper()
	entries, err := store.ListByDate(context.Background(), schema.MustParseDate(date))
	if err != nil {
		t.Fatalf("ListByDate(%s): %v", date, err)
	}
	return entries
}

func ids(entries []schema.FoodEntry) []schema.EntryID {
	out := make([]schema.EntryID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func testUpsertIdempotent(t *testing.T, open Opener) {
	store := openFresh(t, open)
	e := Confirmed(1, "oatmeal", "2024-05-01", 300, 0)

	mustUpsert(t, store, e, e)

	got := mustList(t, store, "2024-05-01")
	if len(got) != 1 {
		t.Fatalf("expected 1 row after double upsert, got %d", len(got))
	}
	if diff := cmp.Diff(e, got[0]); diff != "" {
		t.Errorf("stored entry mismatch (-want +got):\n%s", diff)
	}
}

func testUpsertReplaces(t *testing.T, open Opener) {
	store := openFresh(t, open)
	e := Confirmed(1, "oatmeal", "2024-05-01", 300, 0)
	mustUpsert(t, store, e)

	e.Name = "porridge"
	e.ServingSize = "1 bowl"
	e.ImageURL = "https://img.example/1.jpg"
	mustUpsert(t, store, e)

	got := mustList(t, store, "2024-05-01")
	if len(got) != 1 || got[0].Name != "porridge" || got[0].ServingSize != "1 bowl" || got[0].ImageURL != e.ImageURL {
		t.Errorf("upsert did not replace row: %+v", got)
	}
}

func testUpsertRejectsInvalid(t *testing.T, open Opener) {
	store := openFresh(t, open)
	bad := Confirmed(-1, "oops", "2024-05-01", 100, 0) // confirmed with placeholder id

	err := store.Upsert(context.Background(), bad)
	if !errors.Is(err, schema.ErrInvalid) {
		t.Fatalf("Upsert(invalid) = %v, want ErrInvalid", err)
	}
	if errors.Is(err, cache.ErrCache) {
		t.Errorf("validation failure reported as cache failure: %v", err)
	}
	if got := mustList(t, store, "2024-05-01"); len(got) != 0 {
		t.Errorf("invalid entry was stored: %+v", got)
	}
}

func testListByDate(t *testing.T, open Opener) {
	store := openFresh(t, open)
	mustUpsert(t, store,
		Confirmed(1, "breakfast", "2024-05-01", 300, 0),
		Confirmed(2, "lunch", "2024-05-01", 600, 4*time.Hour),
		Pending(5, "snack", "2024-05-01", 150, 6*time.Hour),
		Confirmed(3, "dinner", "2024-05-02", 700, 24*time.Hour),
		Confirmed(4, "tie", "2024-05-01", 10, 4*time.Hour),
	)

	got := ids(mustList(t, store, "2024-05-01"))
	want := []schema.EntryID{-5, 4, 2, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListByDate order mismatch (-want +got):\n%s", diff)
	}
}

func testListByDateEmpty(t *testing.T, open Opener) {
	store := openFresh(t, open)
	got := mustList(t, store, "2030-01-01")
	if got == nil {
		t.Error("ListByDate returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func testDelete(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()
	mustUpsert(t, store,
		Confirmed(1, "a", "2024-05-01", 100, 0),
		Pending(2, "b", "2024-05-01", 100, time.Minute),
	)

	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete(1): %v", err)
	}
	if err := store.Delete(ctx, -2); err != nil {
		t.Fatalf("Delete(-2): %v", err)
	}
	if err := store.Delete(ctx, 999); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
	if got := mustList(t, store, "2024-05-01"); len(got) != 0 {
		t.Errorf("rows remain after delete: %+v", got)
	}
}

func testListPending(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()
	mustUpsert(t, store,
		Pending(1, "first", "2024-05-02", 100, 0),
		Confirmed(7, "confirmed", "2024-05-01", 100, time.Minute),
		Pending(2, "second", "2024-05-01", 100, 2*time.Minute),
		Pending(3, "third", "2024-04-30", 100, 3*time.Minute),
	)

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	want := []schema.EntryID{-1, -2, -3}
	if diff := cmp.Diff(want, ids(pending)); diff != "" {
		t.Errorf("ListPending mismatch (-want +got):\n%s", diff)
	}
	for _, e := range pending {
		if e.State != schema.StatePending || e.ClientRef == "" {
			t.Errorf("pending row lost bookkeeping: %+v", e)
		}
	}

	n, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 3 {
		t.Errorf("CountPending = %d, want 3", n)
	}
}

func testMarkConfirmed(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()
	p := Pending(1, "offline", "2024-05-01", 250, 0)
	mustUpsert(t, store, p)

	confirmed := p
	confirmed.ID = 101
	confirmed = confirmed.Confirmed()
	if err := store.MarkConfirmed(ctx, p.ID, confirmed); err != nil {
		t.Fatalf("MarkConfirmed: %v", err)
	}

	got := mustList(t, store, "2024-05-01")
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(got), got)
	}
	if diff := cmp.Diff(confirmed, got[0]); diff != "" {
		t.Errorf("confirmed row mismatch (-want +got):\n%s", diff)
	}
	if n, _ := store.CountPending(ctx); n != 0 {
		t.Errorf("CountPending = %d after confirm, want 0", n)
	}
}

func testMarkConfirmedNotPending(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()
	c := Confirmed(5, "already", "2024-05-01", 100, 0)
	mustUpsert(t, store, c)

	replacement := Confirmed(6, "replacement", "2024-05-01", 100, 0)
	if err := store.MarkConfirmed(ctx, -77, replacement); !errors.Is(err, cache.ErrNotPending) {
		t.Errorf("MarkConfirmed(absent) = %v, want ErrNotPending", err)
	}
	if err := store.MarkConfirmed(ctx, 5, replacement); !errors.Is(err, cache.ErrNotPending) {
		t.Errorf("MarkConfirmed(confirmed row) = %v, want ErrNotPending", err)
	}

	p := Pending(8, "p", "2024-05-01", 100, time.Minute)
	mustUpsert(t, store, p)
	if err := store.MarkConfirmed(ctx, p.ID, p); !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("MarkConfirmed(with pending replacement) = %v, want ErrInvalid", err)
	}

	got := ids(mustList(t, store, "2024-05-01"))
	if diff := cmp.Diff([]schema.EntryID{-8, 5}, got); diff != "" {
		t.Errorf("cache changed by failed MarkConfirmed (-want +got):\n%s", diff)
	}
}

func testReplaceConfirmed(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()
	mustUpsert(t, store,
		Confirmed(1, "stale", "2024-05-01", 100, 0),
		Pending(9, "offline", "2024-05-01", 120, time.Hour),
		Confirmed(3, "other day", "2024-05-02", 100, 0),
	)

	fresh := []schema.FoodEntry{
		Confirmed(10, "eggs", "2024-05-01", 140, 2*time.Hour),
		Confirmed(11, "toast", "2024-05-01", 90, 3*time.Hour),
	}
	if err := store.ReplaceConfirmed(ctx, schema.MustParseDate("2024-05-01"), fresh); err != nil {
		t.Fatalf("ReplaceConfirmed: %v", err)
	}

	got := ids(mustList(t, store, "2024-05-01"))
	if diff := cmp.Diff([]schema.EntryID{11, 10, -9}, got); diff != "" {
		t.Errorf("merged rows mismatch (-want +got):\n%s", diff)
	}
	if other := mustList(t, store, "2024-05-02"); len(other) != 1 {
		t.Errorf("other date touched: %+v", other)
	}

	if err := store.ReplaceConfirmed(ctx, schema.MustParseDate("2024-05-01"), nil); err != nil {
		t.Fatalf("ReplaceConfirmed(empty): %v", err)
	}
	if got := ids(mustList(t, store, "2024-05-01")); len(got) != 1 || got[0] != -9 {
		t.Errorf("empty replace should keep only pending row, got %v", got)
	}
}

func testGoals(t *testing.T, open Opener) {
	store := openFresh(t, open)
	ctx := context.Background()

	if _, ok, err := store.LoadGoals(ctx); err != nil || ok {
		t.Fatalf("LoadGoals on empty cache = ok %v err %v", ok, err)
	}

	goals := schema.MacroGoals{Calories: 2400, Protein: 180, Carbs: 250, Fats: 80}
	if err := store.SaveGoals(ctx, goals); err != nil {
		t.Fatalf("SaveGoals: %v", err)
	}
	got, ok, err := store.LoadGoals(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadGoals = ok %v err %v", ok, err)
	}
	if got != goals {
		t.Errorf("LoadGoals = %+v, want %+v", got, goals)
	}
}

func testReopen(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()

	p := Pending(4, "restart me", "2024-05-01", 321, 0)
	p.ServingSize = "1 cup"
	c := Confirmed(12, "kept", "2024-05-01", 50, time.Minute)

	store := open(t, dir)
	mustUpsert(t, store, p, c)
	if err := store.SaveGoals(ctx, schema.DefaultGoals()); err != nil {
		t.Fatalf("SaveGoals: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := open(t, dir)
	t.Cleanup(func() { _ = reopened.Close() })

	pending, err := reopened.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending after reopen: %v", err)
	}
	if diff := cmp.Diff([]schema.FoodEntry{p}, pending); diff != "" {
		t.Errorf("pending row mismatch after reopen (-want +got):\n%s", diff)
	}
	if got := mustList(t, reopened, "2024-05-01"); len(got) != 2 {
		t.Errorf("expected 2 rows after reopen, got %d", len(got))
	}
	if _, ok, _ := reopened.LoadGoals(ctx); !ok {
		t.Error("goals lost across reopen")
	}
}

// testSharedHandles models the daemon and the CLI holding the same cache
// open at once. Neither may drop rows the other wrote.
func testSharedHandles(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()

	daemon := open(t, dir)
	t.Cleanup(func() { _ = daemon.Close() })
	cli := open(t, dir)
	t.Cleanup(func() { _ = cli.Close() })

	queuedByCLI := Pending(10, "cli", "2024-05-01", 100, 0)
	queuedByDaemon := Pending(20, "daemon", "2024-05-01", 200, time.Minute)
	mustUpsert(t, cli, queuedByCLI)
	mustUpsert(t, daemon, queuedByDaemon)

	pending, err := daemon.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if diff := cmp.Diff([]schema.EntryID{queuedByCLI.ID, queuedByDaemon.ID}, ids(pending)); diff != "" {
		t.Errorf("daemon view of pending rows (-want +got):\n%s", diff)
	}

	if err := daemon.MarkConfirmed(ctx, queuedByCLI.ID, Confirmed(501, "cli", "2024-05-01", 100, 0)); err != nil {
		t.Fatalf("MarkConfirmed: %v", err)
	}
	if err := cli.SaveGoals(ctx, schema.DefaultGoals()); err != nil {
		t.Fatalf("SaveGoals: %v", err)
	}

	got := mustList(t, cli, "2024-05-01")
	if diff := cmp.Diff([]schema.EntryID{queuedByDaemon.ID, 501}, ids(got)); diff != "" {
		t.Errorf("cli view after daemon confirmed (-want +got):\n%s", diff)
	}
	if n, err := daemon.CountPending(ctx); err != nil || n != 1 {
		t.Errorf("CountPending = %d, %v; want 1", n, err)
	}
	if _, ok, err := daemon.LoadGoals(ctx); err != nil || !ok {
		t.Errorf("goals saved through the other handle not visible: ok %v err %v", ok, err)
	}
}

func testClosed(t *testing.T, open Opener) {
	store := open(t, t.TempDir())
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	checks := map[string]func() error{
		"Upsert": func() error {
			return store.Upsert(ctx, Pending(1, "late", "2024-05-01", 100, 0))
		},
		"ListByDate": func() error {
			_, err := store.ListByDate(ctx, schema.MustParseDate("2024-05-01"))
			return err
		},
		"Delete": func() error {
			return store.Delete(ctx, -1)
		},
		"ListPending": func() error {
			_, err := store.ListPending(ctx)
			return err
		},
		"CountPending": func() error {
			_, err := store.CountPending(ctx)
			return err
		},
		"MarkConfirmed": func() error {
			return store.MarkConfirmed(ctx, -1, Confirmed(1, "late", "2024-05-01", 100, 0))
		},
		"ReplaceConfirmed": func() error {
			return store.ReplaceConfirmed(ctx, schema.MustParseDate("2024-05-01"), nil)
		},
		"SaveGoals": func() error {
			return store.SaveGoals(ctx, schema.DefaultGoals())
		},
		"LoadGoals": func() error {
			_, _, err := store.LoadGoals(ctx)
			return err
		},
	}
	for name, call := range checks {
		if err := call(); !errors.Is(err, cache.ErrCache) {
			t.Errorf("%s after Close = %v, want ErrCache", name, err)
		}
	}
}
