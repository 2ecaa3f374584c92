package view

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/macrolog/macrolog/internal/schema"
)

var (
	may1 = schema.MustParseDate("2024-05-01")
	may2 = schema.MustParseDate("2024-05-02")
)

// fakeEntries serves fixed entries per date. A date listed in gates blocks
// FetchEntries until its channel is closed.
type fakeEntries struct {
	mu        sync.Mutex
	byDate    map[schema.Date][]schema.FoodEntry
	gates     map[schema.Date]chan struct{}
	started   chan schema.Date
	addResult schema.FoodEntry
	addErr    error
	deleteErr error
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{
		byDate:  map[schema.Date][]schema.FoodEntry{},
		gates:   map[schema.Date]chan struct{}{},
		started: make(chan schema.Date, 10),
	}
}

func (f *fakeEntries) FetchEntries(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error) {
	f.mu.Lock()
	gate := f.gates[date]
	entries := append([]schema.FoodEntry{}, f.byDate[date]...)
	f.mu.Unlock()

	f.started <- date
	if gate != nil {
		<-gate
	}
	return entries, nil
}

func (f *fakeEntries) AddEntry(ctx context.Context, d schema.Draft) (schema.FoodEntry, error) {
	return f.addResult, f.addErr
}

func (f *fakeEntries) DeleteEntry(ctx context.Context, id schema.EntryID) error {
	return f.deleteErr
}

type countingSummaries struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSummaries) SummaryFor(ctx context.Context, date schema.Date) (schema.MacroSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return schema.MacroSummary{Date: date, Goals: schema.DefaultGoals(), Source: schema.SourceLocal}, nil
}

func (c *countingSummaries) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func entry(id schema.EntryID, date schema.Date, minute int) schema.FoodEntry {
	state := schema.StateConfirmed
	if id < 0 {
		state = schema.StatePending
	}
	return schema.FoodEntry{
		ID: id, Name: "item", Calories: 100, EntryDate: date, State: state,
		CreatedAt: time.Date(2024, 5, 1, 8, minute, 0, 0, time.UTC),
	}
}

func setupDay(t *testing.T) (*Day, *fakeEntries, *countingSummaries) {
	t.Helper()
	f := newFakeEntries()
	s := &countingSummaries{}
	return NewDay(f, s, may1, log.New(io.Discard, "", 0)), f, s
}

func ids(entries []schema.FoodEntry) []schema.EntryID {
	out := []schema.EntryID{}
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestLoad(t *testing.T) {
	day, f, _ := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(1, may1, 0)}

	if err := day.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := day.State()
	if st.Date != may1 || len(st.Entries) != 1 || st.Summary == nil {
		t.Errorf("state = %+v", st)
	}
	if st.Summary.Date != may1 {
		t.Errorf("summary date = %s, want %s", st.Summary.Date, may1)
	}
}

func TestLateResponseForPreviousDateIsDiscarded(t *testing.T) {
	day, f, _ := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(1, may1, 0)}
	f.byDate[may2] = []schema.FoodEntry{entry(2, may2, 0), entry(3, may2, 1)}
	gate := make(chan struct{})
	f.gates[may1] = gate

	slow := make(chan error, 1)
	go func() { slow <- day.RefreshEntries(context.Background()) }()
	<-f.started

	if err := day.SelectDate(context.Background(), may2); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Errorf("late refresh = %v, want ErrStale", err)
	}
	st := day.State()
	if st.Date != may2 {
		t.Errorf("selected = %s, want %s", st.Date, may2)
	}
	if got := ids(st.Entries); len(got) != 2 || got[0] != 2 {
		t.Errorf("entries = %v, want the 2024-05-02 entries", got)
	}
}

func TestOlderResponseForSameDateIsDiscarded(t *testing.T) {
	day, f, _ := setupDay(t)
	gate := make(chan struct{})
	f.gates[may1] = gate

	first := make(chan error, 1)
	go func() { first <- day.RefreshEntries(context.Background()) }()
	<-f.started

	// The newer load completes first.
	f.mu.Lock()
	delete(f.gates, may1)
	f.byDate[may1] = []schema.FoodEntry{entry(7, may1, 0)}
	f.mu.Unlock()
	if err := day.RefreshEntries(context.Background()); err != nil {
		t.Fatalf("RefreshEntries: %v", err)
	}
	close(gate)

	if err := <-first; !errors.Is(err, ErrStale) {
		t.Errorf("older refresh = %v, want ErrStale", err)
	}
	if got := ids(day.State().Entries); len(got) != 1 || got[0] != 7 {
		t.Errorf("entries = %v, want [7]", got)
	}
}

func TestSelectDateClearsPreviousDay(t *testing.T) {
	day, f, _ := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(1, may1, 0)}
	if err := day.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	<-f.started // the Load above

	gate := make(chan struct{})
	f.gates[may2] = gate
	done := make(chan error, 1)
	go func() { done <- day.SelectDate(context.Background(), may2) }()
	<-f.started

	st := day.State()
	if len(st.Entries) != 0 || st.Summary != nil {
		t.Errorf("previous day still shown while loading: %+v", st)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Errorf("SelectDate: %v", err)
	}
}

func TestAddRefreshesSummaryAndShowsQueuedEntry(t *testing.T) {
	day, f, s := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(1, may1, 0)}
	if err := day.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := s.count()

	queued := entry(-5, may1, 30)
	queued.ClientRef = "ref"
	f.addResult = queued
	f.addErr = errors.New("network unavailable")

	got, err := day.Add(context.Background(), schema.Draft{Name: "item", EntryDate: may1})
	if err == nil || got.ID != -5 {
		t.Fatalf("Add = %+v, %v; want queued entry and its error", got, err)
	}
	if gotIDs := ids(day.State().Entries); len(gotIDs) != 2 || gotIDs[0] != -5 {
		t.Errorf("entries = %v, want queued entry first", gotIDs)
	}
	if s.count() != before+1 {
		t.Errorf("summary computed %d times after add, want 1", s.count()-before)
	}
}

func TestAddForOtherDateNotShown(t *testing.T) {
	day, f, s := setupDay(t)
	f.addResult = entry(9, may2, 0)

	if _, err := day.Add(context.Background(), schema.Draft{Name: "item", EntryDate: may2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := len(day.State().Entries); n != 0 {
		t.Errorf("entry for another date shown: %d entries", n)
	}
	if s.count() != 1 {
		t.Errorf("summary computed %d times, want 1", s.count())
	}
}

func TestAddRejectedDraftChangesNothing(t *testing.T) {
	day, f, s := setupDay(t)
	f.addErr = schema.ErrInvalid

	if _, err := day.Add(context.Background(), schema.Draft{}); !errors.Is(err, schema.ErrInvalid) {
		t.Fatalf("Add error = %v, want ErrInvalid", err)
	}
	if s.count() != 0 {
		t.Errorf("summary recomputed after rejected add")
	}
}

func TestDelete(t *testing.T) {
	day, f, s := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(2, may1, 1), entry(1, may1, 0)}
	if err := day.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	f.deleteErr = errors.New("server error")
	if err := day.Delete(context.Background(), 1); err == nil {
		t.Fatal("Delete succeeded despite remote failure")
	}
	if n := len(day.State().Entries); n != 2 {
		t.Errorf("failed delete removed entry: %d left", n)
	}

	f.deleteErr = nil
	before := s.count()
	if err := day.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := ids(day.State().Entries); len(got) != 1 || got[0] != 2 {
		t.Errorf("entries = %v, want [2]", got)
	}
	if s.count() != before+1 {
		t.Errorf("summary not refreshed after delete")
	}
}

func TestRefreshIssuedBeforeAddDoesNotHideEntry(t *testing.T) {
	day, f, _ := setupDay(t)
	gate := make(chan struct{})
	f.gates[may1] = gate

	slow := make(chan error, 1)
	go func() { slow <- day.RefreshEntries(context.Background()) }()
	<-f.started

	f.addResult = entry(4, may1, 0)
	if _, err := day.Add(context.Background(), schema.Draft{Name: "apple", EntryDate: may1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Errorf("refresh issued before add = %v, want ErrStale", err)
	}
	if got := ids(day.State().Entries); len(got) != 1 || got[0] != 4 {
		t.Errorf("entries = %v, want [4]", got)
	}
}

func TestRefreshIssuedBeforeDeleteDoesNotRestoreEntry(t *testing.T) {
	day, f, _ := setupDay(t)
	f.byDate[may1] = []schema.FoodEntry{entry(2, may1, 1), entry(1, may1, 0)}
	if err := day.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	<-f.started

	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[may1] = gate
	f.mu.Unlock()

	slow := make(chan error, 1)
	go func() { slow <- day.RefreshEntries(context.Background()) }()
	<-f.started

	if err := day.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Errorf("refresh issued before delete = %v, want ErrStale", err)
	}
	if got := ids(day.State().Entries); len(got) != 1 || got[0] != 2 {
		t.Errorf("entries = %v, want [2]", got)
	}
}

func TestInsertNewestFirst(t *testing.T) {
	list := []schema.FoodEntry{entry(3, may1, 30), entry(1, may1, 10)}

	got := ids(insertNewestFirst(list, entry(2, may1, 20)))
	want := []schema.EntryID{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("insert = %v, want %v", got, want)
		}
	}

	got = ids(insertNewestFirst(list, entry(3, may1, 5)))
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("replace = %v, want [1 3]", got)
	}
}
