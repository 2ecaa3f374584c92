// Package fakebackend serves the entry REST API from memory.
//
// It backs remote and sync tests and the `macrolog dev serve` command. It
// can be switched into failure modes to simulate an unreachable or broken
// service.
package fakebackend

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/macrolog/macrolog/internal/schema"
)

// timestampLayout matches the service's zone-less UTC timestamps.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Backend is an in-memory entry service.
type Backend struct {
	mu        sync.Mutex
	nextID    schema.EntryID
	entries   map[schema.EntryID]schema.FoodEntry
	byKey     map[string]schema.EntryID
	goals     *schema.MacroGoals
	token     string
	now       func() time.Time
	down      bool
	failNext  []int
	creates   int
	recognize map[string]interface{}
	logger    *log.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithToken requires a bearer token on every request except /health.
func WithToken(token string) Option {
	return func(b *Backend) { b.token = token }
}

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithLogger logs every request.
func WithLogger(logger *log.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New returns an empty backend. Identifiers start at 1.
func New(opts ...Option) *Backend {
	b := &Backend{
		nextID:  1,
		entries: map[schema.EntryID]schema.FoodEntry{},
		byKey:   map[string]schema.EntryID{},
		now:     time.Now,
		recognize: map[string]interface{}{
			"food_name":    "apple",
			"calories":     95,
			"protein":      0.5,
			"carbs":        25,
			"fats":         0.3,
			"serving_size": "1 medium",
			"confidence":   0.9,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetDown makes every request fail with 503 until called with false.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// FailNext makes the next len(statuses) requests fail with the given
// statuses, in order.
func (b *Backend) FailNext(statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = append(b.failNext, statuses...)
}

// Creates returns the number of create requests that produced a new entry.
func (b *Backend) Creates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

// Seed stores an entry as if it had been created earlier and returns it
// with its assigned identifier.
func (b *Backend) Seed(d schema.Draft, createdAt time.Time) schema.FoodEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(d, createdAt, "")
}

// Entries returns every stored entry of date, newest first.
func (b *Backend) Entries(date schema.Date) []schema.FoodEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listLocked(date)
}

// SetGoals stores goals as if the user had saved them.
func (b *Backend) SetGoals(g schema.MacroGoals) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.goals = &g
}

// Handler returns the HTTP API.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if b.isDown() {
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Group(func(r chi.Router) {
		r.Use(b.faults)
		r.Use(b.auth)

		r.Get("/food/entries", b.handleList)
		r.Post("/food/entries", b.handleCreate)
		r.Delete("/food/entries/{id}", b.handleDelete)
		r.Get("/dashboard/summary", b.handleSummary)
		r.Get("/macro-goals", b.handleGetGoals)
		r.Post("/macro-goals", b.handleSetGoals)
		r.Post("/food/recognize", b.handleRecognize)
	})

	return r
}

func (b *Backend) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.logger != nil {
			b.logger.Printf("%s %s", r.Method, r.URL.RequestURI())
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) isDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

func (b *Backend) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := 0
		if b.down {
			status = http.StatusServiceUnavailable
		} else if len(b.failNext) > 0 {
			status = b.failNext[0]
			b.failNext = b.failNext[1:]
		}
		b.mu.Unlock()

		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.token != "" && r.Header.Get("Authorization") != "Bearer "+b.token {
			writeError(w, http.StatusUnauthorized, "Invalid authentication credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) dateParam(r *http.Request) (schema.Date, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return schema.DateOf(b.now().UTC()), nil
	}
	return schema.ParseDate(raw)
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	date, err := b.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := b.Entries(date)
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d schema.Draft
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&d); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}

	b.mu.Lock()
	d.SetDefaults(b.now())
	if err := d.Validate(); err != nil {
		b.mu.Unlock()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if id, ok := b.byKey[key]; ok && key != "" {
		if existing, ok := b.entries[id]; ok {
			b.mu.Unlock()
			writeJSON(w, http.StatusOK, wire(existing))
			return
		}
	}
	e := b.insertLocked(d, b.now(), key)
	b.creates++
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, wire(e))
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid entry id")
		return
	}

	b.mu.Lock()
	_, ok := b.entries[schema.EntryID(id)]
	delete(b.entries, schema.EntryID(id))
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Entry deleted successfully"})
}

func (b *Backend) handleSummary(w http.ResponseWriter, r *http.Request) {
	date, err := b.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b.mu.Lock()
	s := schema.MacroSummary{
		Date:   date,
		Totals: schema.Sum(b.listLocked(date)),
		Goals:  b.goalsLocked(),
	}
	b.mu.Unlock()

	// The service does not report a source; clients set it.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":         s.Date.String(),
		"calories":     s.Totals.Calories,
		"protein":      s.Totals.Protein,
		"carbs":        s.Totals.Carbs,
		"fats":         s.Totals.Fats,
		"calorie_goal": s.Goals.Calories,
		"protein_goal": s.Goals.Protein,
		"carb_goal":    s.Goals.Carbs,
		"fat_goal":     s.Goals.Fats,
	})
}

func (b *Backend) handleGetGoals(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	g := b.goalsLocked()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, g)
}

func (b *Backend) handleSetGoals(w http.ResponseWriter, r *http.Request) {
	var g schema.MacroGoals
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&g); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	b.SetGoals(g)
	writeJSON(w, http.StatusOK, g)
}

func (b *Backend) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Recognition failed: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Recognition failed: missing file")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") && !looksLikeImage(header.Filename) {
		writeError(w, http.StatusBadRequest, "Recognition failed: not an image")
		return
	}
	writeJSON(w, http.StatusOK, b.recognize)
}

func looksLikeImage(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (b *Backend) insertLocked(d schema.Draft, createdAt time.Time, key string) schema.FoodEntry {
	if d.EntryDate.IsZero() {
		d.EntryDate = schema.DateOf(createdAt.UTC())
	}
	id := b.nextID
	b.nextID++
	e := schema.FoodEntry{
		ID:          id,
		Name:        d.Name,
		Calories:    d.Calories,
		Protein:     d.Protein,
		Carbs:       d.Carbs,
		Fats:        d.Fats,
		ServingSize: d.ServingSize,
		ImageURL:    d.ImageURL,
		EntryDate:   d.EntryDate,
		// Timestamps travel with microsecond precision.
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
		State:     schema.StateConfirmed,
	}
	b.entries[id] = e
	if key != "" {
		b.byKey[key] = id
	}
	return e
}

func (b *Backend) listLocked(date schema.Date) []schema.FoodEntry {
	out := []schema.FoodEntry{}
	for _, e := range b.entries {
		if e.EntryDate == date {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (b *Backend) goalsLocked() schema.MacroGoals {
	if b.goals != nil {
		return *b.goals
	}
	return schema.DefaultGoals()
}

func wire(e schema.FoodEntry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           int64(e.ID),
		"user_id":      "local-user",
		"food_name":    e.Name,
		"calories":     e.Calories,
		"protein":      e.Protein,
		"carbs":        e.Carbs,
		"fats":         e.Fats,
		"serving_size": nil,
		"image_url":    nil,
		"entry_date":   e.EntryDate.String(),
		"created_at":   e.CreatedAt.UTC().Format(timestampLayout),
	}
	if e.ServingSize != "" {
		m["serving_size"] = e.ServingSize
	}
	if e.ImageURL != "" {
		m["image_url"] = e.ImageURL
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("fakebackend: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// String describes the backend state for logs.
func (b *Backend) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("fakebackend(entries=%d down=%v)", len(b.entries), b.down)
}
