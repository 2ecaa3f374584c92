// Package kvstore is the flat key-value cache backend.
//
// The whole cache is one JSON document stored under a single key of a Blob.
// It targets environments that only offer a simple key-value store. Every
// row keeps its own sync_state, so confirmed rows are never mistaken for
// unsynced ones after a restart.
//
// Several processes may share one blob, typically the daemon and the CLI.
// Reads load the current document. Writes are read-modify-write cycles
// that the Blob performs atomically, so a write never drops a row another
// process added since this one last looked. A failed write leaves the
// blob unchanged.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/schema"
)

// documentVersion is bumped on incompatible layout changes.
const documentVersion = 1

// Blob is a single value in a key-value store.
type Blob interface {
	// Load returns the stored bytes, or nil with no error when the value
	// has never been written.
	Load(ctx context.Context) ([]byte, error)

	// Update atomically replaces the stored bytes with fn's result. fn
	// receives the current bytes (nil when unset) and may run more than
	// once. An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error

	Close() error
}

type document struct {
	Version int                         `json:"version"`
	Entries map[string]schema.FoodEntry `json:"entries"`
	Goals   *schema.MacroGoals          `json:"goals,omitempty"`
}

func decode(data []byte) (*document, error) {
	doc := &document{Version: documentVersion, Entries: map[string]schema.FoodEntry{}}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("document version %d is newer than supported %d", doc.Version, documentVersion)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]schema.FoodEntry{}
	}
	doc.Version = documentVersion
	return doc, nil
}

func key(id schema.EntryID) string {
	return strconv.FormatInt(int64(id), 10)
}

var (
	errClosed = errors.New("store is closed")

	// errUnchanged aborts an update that has nothing to write.
	errUnchanged = errors.New("unchanged")
)

// Store implements cache.Backend on a Blob.
type Store struct {
	mu   sync.Mutex
	blob Blob
}

var _ cache.Backend = (*Store)(nil)

// Open checks the document in blob can be read, starting empty when
// nothing is stored.
func Open(ctx context.Context, blob Blob) (*Store, error) {
	data, err := blob.Load(ctx)
	if err != nil {
		return nil, cache.Wrap("load cache document", err)
	}
	if _, err := decode(data); err != nil {
		return nil, cache.Wrap("decode cache document", err)
	}
	return &Store{blob: blob}, nil
}

// Close closes the blob.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil
	}
	err := s.blob.Close()
	s.blob = nil
	if err != nil {
		return cache.Wrap("close blob", err)
	}
	return nil
}

// load returns the current document. Callers must hold s.mu.
func (s *Store) load(ctx context.Context, op string) (*document, error) {
	if s.blob == nil {
		return nil, cache.Wrap(op, errClosed)
	}
	data, err := s.blob.Load(ctx)
	if err != nil {
		return nil, cache.Wrap(op, err)
	}
	doc, err := decode(data)
	if err != nil {
		return nil, cache.Wrap(op, err)
	}
	return doc, nil
}

// mutate applies fn to the current document and persists the result in
// one atomic blob update. Errors returned by fn pass through unwrapped.
// Callers must hold s.mu.
func (s *Store) mutate(ctx context.Context, op string, fn func(d *document) error) error {
	if s.blob == nil {
		return cache.Wrap(op, errClosed)
	}
	var fnErr error
	err := s.blob.Update(ctx, func(current []byte) ([]byte, error) {
		doc, err := decode(current)
		if err != nil {
			return nil, err
		}
		if fnErr = fn(doc); fnErr != nil {
			return nil, fnErr
		}
		return json.Marshal(doc)
	})
	switch {
	case errors.Is(fnErr, errUnchanged):
		return nil
	case fnErr != nil:
		return fnErr
	case err != nil:
		return cache.Wrap(op, err)
	}
	return nil
}

// Upsert implements cache.Store.
func (s *Store) Upsert(ctx context.Context, entry schema.FoodEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, fmt.Sprintf("upsert entry %s", entry.ID), func(d *document) error {
		d.Entries[key(entry.ID)] = entry
		return nil
	})
}

// ListByDate implements cache.Store.
func (s *Store) ListByDate(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, "list entries for "+date.String())
	if err != nil {
		return nil, err
	}
	entries := []schema.FoodEntry{}
	for _, e := range doc.Entries {
		if e.EntryDate == date {
			entries = append(entries, e)
		}
	}
	cache.SortNewestFirst(entries)
	return entries, nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, id schema.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, fmt.Sprintf("delete entry %s", id), func(d *document) error {
		if _, ok := d.Entries[key(id)]; !ok {
			return errUnchanged
		}
		delete(d.Entries, key(id))
		return nil
	})
}

// ListPending implements cache.Store.
func (s *Store) ListPending(ctx context.Context) ([]schema.FoodEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, "list pending entries")
	if err != nil {
		return nil, err
	}
	entries := []schema.FoodEntry{}
	for _, e := range doc.Entries {
		if e.State == schema.StatePending {
			entries = append(entries, e)
		}
	}
	cache.SortOldestFirst(entries)
	return entries, nil
}

// CountPending implements cache.Store.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, "count pending entries")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range doc.Entries {
		if e.State == schema.StatePending {
			n++
		}
	}
	return n, nil
}

// MarkConfirmed implements cache.Store.
func (s *Store) MarkConfirmed(ctx context.Context, oldID schema.EntryID, confirmed schema.FoodEntry) error {
	if err := cache.ValidateConfirmed(&confirmed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, fmt.Sprintf("confirm entry %s", oldID), func(d *document) error {
		old, ok := d.Entries[key(oldID)]
		if !ok || old.State != schema.StatePending {
			return fmt.Errorf("mark %s confirmed: %w", oldID, cache.ErrNotPending)
		}
		delete(d.Entries, key(oldID))
		d.Entries[key(confirmed.ID)] = confirmed
		return nil
	})
}

// ReplaceConfirmed implements cache.Store.
func (s *Store) ReplaceConfirmed(ctx context.Context, date schema.Date, entries []schema.FoodEntry) error {
	for i := range entries {
		if err := cache.ValidateConfirmed(&entries[i]); err != nil {
			return err
		}
		if entries[i].EntryDate != date {
			return fmt.Errorf("%w: entry %s belongs to %s, not %s", schema.ErrInvalid, entries[i].ID, entries[i].EntryDate, date)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, "replace confirmed entries for "+date.String(), func(d *document) error {
		for k, e := range d.Entries {
			if e.EntryDate == date && e.State == schema.StateConfirmed {
				delete(d.Entries, k)
			}
		}
		for _, e := range entries {
			d.Entries[key(e.ID)] = e
		}
		return nil
	})
}

// SaveGoals implements cache.GoalsCache.
func (s *Store) SaveGoals(ctx context.Context, goals schema.MacroGoals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, "save goals", func(d *document) error {
		d.Goals = &goals
		return nil
	})
}

// LoadGoals implements cache.GoalsCache.
func (s *Store) LoadGoals(ctx context.Context) (schema.MacroGoals, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, "load goals")
	if err != nil {
		return schema.MacroGoals{}, false, err
	}
	if doc.Goals == nil {
		return schema.MacroGoals{}, false, nil
	}
	return *doc.Goals, true, nil
}
