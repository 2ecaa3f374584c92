// Package view holds the "current day" state a presentation layer renders:
// the selected date, its entries and its summary.
//
// Every load is tagged with the date it was issued for. A response that
// arrives after the user selected another date is dropped and reported as
// ErrStale, so a slow reply for yesterday can never overwrite today. The
// same happens to a response issued before a newer load or a local add or
// delete was applied.
package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/macrolog/macrolog/internal/schema"
)

// ErrStale is returned when a response was discarded because the selected
// date changed while it was in flight.
var ErrStale = errors.New("response discarded: selected date changed")

// Entries is the entry API the view drives. sync.Syncer satisfies it.
type Entries interface {
	FetchEntries(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)
	AddEntry(ctx context.Context, draft schema.Draft) (schema.FoodEntry, error)
	DeleteEntry(ctx context.Context, id schema.EntryID) error
}

// Summaries computes daily summaries. *summary.Computer satisfies it.
type Summaries interface {
	SummaryFor(ctx context.Context, date schema.Date) (schema.MacroSummary, error)
}

// State is a snapshot of the view.
type State struct {
	Date    schema.Date
	Entries []schema.FoodEntry

	// Summary is nil until the first summary load for Date completes.
	Summary *schema.MacroSummary
}

// tag identifies one load.
type tag struct {
	date schema.Date
	seq  uint64
}

// Day is the date-tagged view. Safe for concurrent use.
type Day struct {
	entries   Entries
	summaries Summaries
	logger    *log.Logger

	mu         sync.Mutex
	selected   schema.Date
	seq        uint64
	list       []schema.FoodEntry
	listSeq    uint64
	summary    *schema.MacroSummary
	summarySeq uint64
}

// NewDay creates a view with date selected. Nothing is loaded yet.
func NewDay(entries Entries, summaries Summaries, date schema.Date, logger *log.Logger) *Day {
	if logger == nil {
		logger = log.New(os.Stderr, "[view] ", log.LstdFlags)
	}
	return &Day{
		entries:   entries,
		summaries: summaries,
		logger:    logger,
		selected:  date,
		list:      []schema.FoodEntry{},
	}
}

// Selected returns the selected date.
func (d *Day) Selected() schema.Date {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// State returns a copy of the current state.
func (d *Day) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := State{Date: d.selected, Entries: append([]schema.FoodEntry(nil), d.list...)}
	if d.summary != nil {
		sum := *d.summary
		s.Summary = &sum
	}
	return s
}

func (d *Day) newTag() tag {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return tag{date: d.selected, seq: d.seq}
}

// SelectDate switches to date, clears the previous day's state and loads
// the new one.
func (d *Day) SelectDate(ctx context.Context, date schema.Date) error {
	d.mu.Lock()
	if d.selected != date {
		d.selected = date
		d.list = []schema.FoodEntry{}
		d.summary = nil
	}
	d.mu.Unlock()

	return d.Load(ctx)
}

// Load refreshes entries and summary for the selected date.
func (d *Day) Load(ctx context.Context) error {
	if err := d.RefreshEntries(ctx); err != nil {
		return err
	}
	return d.RefreshSummary(ctx)
}

// RefreshEntries fetches the selected date's entries.
func (d *Day) RefreshEntries(ctx context.Context) error {
	t := d.newTag()
	entries, err := d.entries.FetchEntries(ctx, t.date)
	if err != nil {
		return fmt.Errorf("failed to load entries for %s: %w", t.date, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.currentLocked(t, d.listSeq) {
		d.logger.Printf("Discarded entries for %s (selected %s)", t.date, d.selected)
		return ErrStale
	}
	d.list = entries
	d.listSeq = t.seq
	return nil
}

// RefreshSummary recomputes the selected date's summary.
func (d *Day) RefreshSummary(ctx context.Context) error {
	t := d.newTag()
	s, err := d.summaries.SummaryFor(ctx, t.date)
	if err != nil {
		return fmt.Errorf("failed to load summary for %s: %w", t.date, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.currentLocked(t, d.summarySeq) {
		d.logger.Printf("Discarded summary for %s (selected %s)", t.date, d.selected)
		return ErrStale
	}
	d.summary = &s
	d.summarySeq = t.seq
	return nil
}

// currentLocked reports whether a response tagged t may be applied: its
// date is still selected and nothing newer has been applied.
func (d *Day) currentLocked(t tag, applied uint64) bool {
	return t.date == d.selected && t.seq > applied
}

// markListChangedLocked records a local edit of the list as the newest
// applied load, so entry fetches issued before the edit are discarded.
func (d *Day) markListChangedLocked() {
	d.seq++
	d.listSeq = d.seq
}

// Add adds an entry and refreshes the summary. The entry is shown when it
// belongs to the selected date, including when it was only queued; in that
// case the queuing error is returned alongside it.
func (d *Day) Add(ctx context.Context, draft schema.Draft) (schema.FoodEntry, error) {
	entry, addErr := d.entries.AddEntry(ctx, draft)
	if entry.ID == 0 {
		return entry, addErr
	}

	d.mu.Lock()
	if entry.EntryDate == d.selected {
		d.list = insertNewestFirst(d.list, entry)
		d.markListChangedLocked()
	}
	d.mu.Unlock()

	if err := d.RefreshSummary(ctx); err != nil && !errors.Is(err, ErrStale) {
		d.logger.Printf("WARNING: Failed to refresh summary after add: %v", err)
	}
	return entry, addErr
}

// Delete deletes an entry and refreshes the summary. On failure the entry
// stays visible.
func (d *Day) Delete(ctx context.Context, id schema.EntryID) error {
	if err := d.entries.DeleteEntry(ctx, id); err != nil {
		return err
	}

	d.mu.Lock()
	for i, e := range d.list {
		if e.ID == id {
			d.list = append(d.list[:i:i], d.list[i+1:]...)
			d.markListChangedLocked()
			break
		}
	}
	d.mu.Unlock()

	if err := d.RefreshSummary(ctx); err != nil && !errors.Is(err, ErrStale) {
		d.logger.Printf("WARNING: Failed to refresh summary after delete: %v", err)
	}
	return nil
}

// insertNewestFirst places e in a newest-first list, replacing any entry
// with the same identifier.
func insertNewestFirst(list []schema.FoodEntry, e schema.FoodEntry) []schema.FoodEntry {
	out := make([]schema.FoodEntry, 0, len(list)+1)
	placed := false
	for _, cur := range list {
		if cur.ID == e.ID {
			continue
		}
		if !placed && newer(e, cur) {
			out = append(out, e)
			placed = true
		}
		out = append(out, cur)
	}
	if !placed {
		out = append(out, e)
	}
	return out
}

func newer(a, b schema.FoodEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
