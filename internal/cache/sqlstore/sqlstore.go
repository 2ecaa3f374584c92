// Package sqlstore is the embedded relational cache backend.
//
// The database is a single SQLite file opened through the pure-Go
// ncruces/go-sqlite3 driver in WAL mode, so readers never block the writer.
//
// Schema:
//   - food_entries: one row per cached entry, keyed by identifier, with the
//     persisted sync state and the idempotency reference of pending rows
//   - meta: small key/value table holding the cached goals
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/schema"
)

// DriverName is the database/sql driver registered by ncruces/go-sqlite3.
const DriverName = "sqlite3"

const goalsKey = "goals"

var errClosed = errors.New("store is closed")

// Store implements cache.Backend on SQLite.
type Store struct {
	mu   sync.RWMutex
	conn *sqlx.DB // nil once closed
	path string
}

var _ cache.Backend = (*Store)(nil)

// Open opens or creates the cache database at path and ensures the schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, cache.Wrap("create database directory", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate", path)
	conn, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, cache.Wrap("open database", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, cache.Wrap("ping database", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}
	if err := s.InitSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open connection. The schema is not created; call
// InitSchema when needed.
func New(db *sql.DB) *Store {
	return &Store{conn: sqlx.NewDb(db, DriverName)}
}

// Path returns the database file path, empty for stores built with New.
func (s *Store) Path() string {
	return s.path
}

// db returns the open connection, or a cache error once the store is closed.
func (s *Store) db(op string) (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, cache.Wrap(op, errClosed)
	}
	return s.conn, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if s.path != "" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return cache.Wrap("close database", err)
	}
	return nil
}

// InitSchema creates tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	conn, err := s.db("initialize schema")
	if err != nil {
		return err
	}
	ddl := `
	CREATE TABLE IF NOT EXISTS food_entries (
		id INTEGER PRIMARY KEY,
		food_name TEXT NOT NULL,
		calories REAL NOT NULL,
		protein REAL NOT NULL,
		carbs REAL NOT NULL,
		fats REAL NOT NULL,
		serving_size TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		entry_date TEXT NOT NULL,   -- YYYY-MM-DD
		created_at INTEGER NOT NULL, -- unix nanoseconds, UTC
		state TEXT NOT NULL CHECK (state IN ('confirmed', 'pending')),
		client_ref TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_entries_date ON food_entries(entry_date, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_pending
	    ON food_entries(created_at) WHERE state = 'pending';

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return cache.Wrap("initialize schema", err)
	}
	return nil
}

// entryRow is the column layout of food_entries.
type entryRow struct {
	ID          int64   `db:"id"`
	Name        string  `db:"food_name"`
	Calories    float64 `db:"calories"`
	Protein     float64 `db:"protein"`
	Carbs       float64 `db:"carbs"`
	Fats        float64 `db:"fats"`
	ServingSize string  `db:"serving_size"`
	ImageURL    string  `db:"image_url"`
	EntryDate   string  `db:"entry_date"`
	CreatedAt   int64   `db:"created_at"`
	State       string  `db:"state"`
	ClientRef   string  `db:"client_ref"`
}

const selectColumns = `id, food_name, calories, protein, carbs, fats,
	serving_size, image_url, entry_date, created_at, state, client_ref`

func toRow(e schema.FoodEntry) entryRow {
	return entryRow{
		ID:          int64(e.ID),
		Name:        e.Name,
		Calories:    e.Calories,
		Protein:     e.Protein,
		Carbs:       e.Carbs,
		Fats:        e.Fats,
		ServingSize: e.ServingSize,
		ImageURL:    e.ImageURL,
		EntryDate:   e.EntryDate.String(),
		CreatedAt:   e.CreatedAt.UTC().UnixNano(),
		State:       string(e.State),
		ClientRef:   e.ClientRef,
	}
}

func (r entryRow) toEntry() (schema.FoodEntry, error) {
	date, err := schema.ParseDate(r.EntryDate)
	if err != nil {
		return schema.FoodEntry{}, fmt.Errorf("row %d: %w", r.ID, err)
	}
	return schema.FoodEntry{
		ID:          schema.EntryID(r.ID),
		Name:        r.Name,
		Calories:    r.Calories,
		Protein:     r.Protein,
		Carbs:       r.Carbs,
		Fats:        r.Fats,
		ServingSize: r.ServingSize,
		ImageURL:    r.ImageURL,
		EntryDate:   date,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		State:       schema.SyncState(r.State),
		ClientRef:   r.ClientRef,
	}, nil
}

func toEntries(rows []entryRow) ([]schema.FoodEntry, error) {
	entries := make([]schema.FoodEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

const upsertQuery = `
	INSERT INTO food_entries (
		id, food_name, calories, protein, carbs, fats,
		serving_size, image_url, entry_date, created_at, state, client_ref
	) VALUES (
		:id, :food_name, :calories, :protein, :carbs, :fats,
		:serving_size, :image_url, :entry_date, :created_at, :state, :client_ref
	)
	ON CONFLICT(id) DO UPDATE SET
		food_name = excluded.food_name,
		calories = excluded.calories,
		protein = excluded.protein,
		carbs = excluded.carbs,
		fats = excluded.fats,
		serving_size = excluded.serving_size,
		image_url = excluded.image_url,
		entry_date = excluded.entry_date,
		created_at = excluded.created_at,
		state = excluded.state,
		client_ref = excluded.client_ref
	`

// Upsert implements cache.Store.
func (s *Store) Upsert(ctx context.Context, entry schema.FoodEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	conn, err := s.db(fmt.Sprintf("upsert entry %s", entry.ID))
	if err != nil {
		return err
	}
	if _, err := conn.NamedExecContext(ctx, upsertQuery, toRow(entry)); err != nil {
		return cache.Wrap(fmt.Sprintf("upsert entry %s", entry.ID), err)
	}
	return nil
}

// ListByDate implements cache.Store.
func (s *Store) ListByDate(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error) {
	conn, err := s.db("list entries for " + date.String())
	if err != nil {
		return nil, err
	}
	var rows []entryRow
	query := `SELECT ` + selectColumns + `
		FROM food_entries
		WHERE entry_date = ?
		ORDER BY created_at DESC, id DESC`
	if err := conn.SelectContext(ctx, &rows, query, date.String()); err != nil {
		return nil, cache.Wrap("list entries for "+date.String(), err)
	}
	entries, err := toEntries(rows)
	if err != nil {
		return nil, cache.Wrap("decode entries", err)
	}
	return entries, nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, id schema.EntryID) error {
	conn, err := s.db(fmt.Sprintf("delete entry %s", id))
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM food_entries WHERE id = ?`, int64(id)); err != nil {
		return cache.Wrap(fmt.Sprintf("delete entry %s", id), err)
	}
	return nil
}

// ListPending implements cache.Store.
func (s *Store) ListPending(ctx context.Context) ([]schema.FoodEntry, error) {
	conn, err := s.db("list pending entries")
	if err != nil {
		return nil, err
	}
	var rows []entryRow
	query := `SELECT ` + selectColumns + `
		FROM food_entries
		WHERE state = 'pending'
		ORDER BY created_at ASC, id DESC`
	if err := conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, cache.Wrap("list pending entries", err)
	}
	entries, err := toEntries(rows)
	if err != nil {
		return nil, cache.Wrap("decode entries", err)
	}
	return entries, nil
}

// CountPending implements cache.Store.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	conn, err := s.db("count pending entries")
	if err != nil {
		return 0, err
	}
	var count int
	if err := conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM food_entries WHERE state = 'pending'`); err != nil {
		return 0, cache.Wrap("count pending entries", err)
	}
	return count, nil
}

// MarkConfirmed implements cache.Store.
func (s *Store) MarkConfirmed(ctx context.Context, oldID schema.EntryID, confirmed schema.FoodEntry) error {
	if err := cache.ValidateConfirmed(&confirmed); err != nil {
		return err
	}
	conn, err := s.db(fmt.Sprintf("confirm entry %s", oldID))
	if err != nil {
		return err
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return cache.Wrap("begin transaction", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.GetContext(ctx, &state, `SELECT state FROM food_entries WHERE id = ?`, int64(oldID))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && state != string(schema.StatePending)) {
		return fmt.Errorf("mark %s confirmed: %w", oldID, cache.ErrNotPending)
	}
	if err != nil {
		return cache.Wrap(fmt.Sprintf("read entry %s", oldID), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM food_entries WHERE id = ?`, int64(oldID)); err != nil {
		return cache.Wrap(fmt.Sprintf("delete pending entry %s", oldID), err)
	}
	if _, err := tx.NamedExecContext(ctx, upsertQuery, toRow(confirmed)); err != nil {
		return cache.Wrap(fmt.Sprintf("insert confirmed entry %s", confirmed.ID), err)
	}

	if err := tx.Commit(); err != nil {
		return cache.Wrap("commit transaction", err)
	}
	return nil
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
	conn, err := s.db("replace confirmed entries for " + date.String())
	if err != nil {
		return err
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return cache.Wrap("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM food_entries WHERE entry_date = ? AND state = 'confirmed'`, date.String()); err != nil {
		return cache.Wrap("clear confirmed entries for "+date.String(), err)
	}
	for _, e := range entries {
		if _, err := tx.NamedExecContext(ctx, upsertQuery, toRow(e)); err != nil {
			return cache.Wrap(fmt.Sprintf("insert entry %s", e.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cache.Wrap("commit transaction", err)
	}
	return nil
}

// SaveGoals implements cache.GoalsCache.
func (s *Store) SaveGoals(ctx context.Context, goals schema.MacroGoals) error {
	value, err := json.Marshal(goals)
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}
	conn, err := s.db("save goals")
	if err != nil {
		return err
	}
	query := `
	INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := conn.ExecContext(ctx, query, goalsKey, string(value), time.Now().UnixNano()); err != nil {
		return cache.Wrap("save goals", err)
	}
	return nil
}

// LoadGoals implements cache.GoalsCache.
func (s *Store) LoadGoals(ctx context.Context) (schema.MacroGoals, bool, error) {
	conn, err := s.db("load goals")
	if err != nil {
		return schema.MacroGoals{}, false, err
	}
	var value string
	err = conn.GetContext(ctx, &value, `SELECT value FROM meta WHERE key = ?`, goalsKey)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.MacroGoals{}, false, nil
	}
	if err != nil {
		return schema.MacroGoals{}, false, cache.Wrap("load goals", err)
	}

	var goals schema.MacroGoals
	if err := json.Unmarshal([]byte(value), &goals); err != nil {
		return schema.MacroGoals{}, false, cache.Wrap("decode goals", err)
	}
	return goals, true, nil
}
