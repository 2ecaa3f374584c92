package summary

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/macrolog/macrolog/internal/cache/kvstore"
	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
)

var day = schema.MustParseDate("2024-05-01")

type stubRemote struct {
	summary schema.MacroSummary
	err     error
	calls   int
}

func (s *stubRemote) Summary(ctx context.Context, date schema.Date) (schema.MacroSummary, error) {
	s.calls++
	return s.summary, s.err
}

type countingMetrics struct {
	failures  int
	fallbacks int
}

func (m *countingMetrics) RemoteFailure(string, error) { m.failures++ }
func (m *countingMetrics) FallbackServed(string)       { m.fallbacks++ }

func setupComputer(t *testing.T, r Remote) (*Computer, *kvstore.Store, *kvstore.MemoryBlob, *countingMetrics) {
	t.Helper()

	blob := &kvstore.MemoryBlob{}
	store, err := kvstore.Open(context.Background(), blob)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m := &countingMetrics{}
	c := New(r, store, store, Options{Logger: log.New(io.Discard, "", 0), Metrics: m})
	return c, store, blob, m
}

func cacheEntry(t *testing.T, store *kvstore.Store, id schema.EntryID, calories float64, state schema.SyncState) {
	t.Helper()
	e := schema.FoodEntry{
		ID: id, Name: "item", Calories: calories, Protein: 10, Carbs: 5, Fats: 2,
		EntryDate: day, CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), State: state,
	}
	if state == schema.StatePending {
		e.ClientRef = "ref-" + id.String()
	}
	if err := store.Upsert(context.Background(), e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

var offline = &remote.Error{Op: "get summary", Kind: remote.ErrNetwork}

func TestRemoteSummaryCachesGoals(t *testing.T) {
	goals := schema.MacroGoals{Calories: 1800, Protein: 120, Carbs: 180, Fats: 50}
	r := &stubRemote{summary: schema.MacroSummary{
		Totals: schema.MacroTotals{Calories: 900},
		Goals:  goals,
	}}
	c, store, _, _ := setupComputer(t, r)

	s, err := c.SummaryFor(context.Background(), day)
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if s.Source != schema.SourceRemote || s.Date != day || s.Totals.Calories != 900 {
		t.Errorf("summary = %+v", s)
	}

	cached, ok, err := store.LoadGoals(context.Background())
	if err != nil || !ok || cached != goals {
		t.Errorf("cached goals = %+v, %v, %v; want %+v", cached, ok, err, goals)
	}
}

func TestFallbackSumsCachedEntries(t *testing.T) {
	c, store, _, m := setupComputer(t, &stubRemote{err: offline})
	cacheEntry(t, store, 1, 300, schema.StateConfirmed)
	cacheEntry(t, store, -2, 250, schema.StatePending)

	s, err := c.SummaryFor(context.Background(), day)
	if err != nil {
		t.Fatalf("SummaryFor returned error on remote failure: %v", err)
	}
	want := schema.MacroSummary{
		Date:   day,
		Totals: schema.MacroTotals{Calories: 550, Protein: 20, Carbs: 10, Fats: 4},
		Goals:  schema.DefaultGoals(),
		Source: schema.SourceLocal,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("fallback summary mismatch (-want +got):\n%s", diff)
	}
	if m.fallbacks != 1 || m.failures != 1 {
		t.Errorf("metrics = %+v, want one failure and one fallback", m)
	}
}

func TestFallbackUsesLastKnownGoals(t *testing.T) {
	goals := schema.MacroGoals{Calories: 2500, Protein: 180, Carbs: 250, Fats: 80}
	r := &stubRemote{summary: schema.MacroSummary{Goals: goals}}
	c, store, _, _ := setupComputer(t, r)
	cacheEntry(t, store, 1, 300, schema.StateConfirmed)

	if _, err := c.SummaryFor(context.Background(), day); err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}

	r.err = offline
	s, err := c.SummaryFor(context.Background(), day)
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if s.Goals != goals || s.Source != schema.SourceLocal {
		t.Errorf("summary = %+v, want local totals with cached goals %+v", s, goals)
	}
}

func TestFallbackEmptyDay(t *testing.T) {
	c, _, _, _ := setupComputer(t, &stubRemote{err: offline})

	s, err := c.SummaryFor(context.Background(), schema.MustParseDate("2030-01-01"))
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if s.Totals != (schema.MacroTotals{}) || s.Goals != schema.DefaultGoals() {
		t.Errorf("summary = %+v, want zero totals and default goals", s)
	}
}

func TestGoalCacheFailureNotSurfaced(t *testing.T) {
	r := &stubRemote{summary: schema.MacroSummary{Goals: schema.DefaultGoals()}}
	c, _, blob, _ := setupComputer(t, r)
	blob.FailWrites(errors.New("disk full"))

	if _, err := c.SummaryFor(context.Background(), day); err != nil {
		t.Errorf("SummaryFor surfaced goal cache failure: %v", err)
	}
}

func TestNilGoalsCacheUsesDefaults(t *testing.T) {
	blob := &kvstore.MemoryBlob{}
	store, err := kvstore.Open(context.Background(), blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	c := New(&stubRemote{err: offline}, store, nil, Options{Logger: log.New(io.Discard, "", 0)})
	s, err := c.SummaryFor(context.Background(), day)
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if s.Goals != schema.DefaultGoals() {
		t.Errorf("Goals = %+v, want defaults", s.Goals)
	}
}
