// Package loadtest drives many concurrent loggers through one sync engine
// against an unreliable in-memory service.
//
// A run has two phases. First every simulated client adds its entries
// concurrently while a share of requests fail, so some entries are confirmed
// at once and the rest are queued. Then the queue is drained with sync
// passes. A run succeeds when every entry reached the service exactly once,
// including entries whose create was applied but whose response was lost.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/macrolog/macrolog/internal/cache/probe"
	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/remote/fakebackend"
	"github.com/macrolog/macrolog/internal/schema"
	entrysync "github.com/macrolog/macrolog/internal/sync"
)

var (
	// ErrNotDrained means pending entries remained after MaxPasses.
	ErrNotDrained = errors.New("pending queue not drained")

	// ErrMismatch means the service holds a different number of entries
	// than were added.
	ErrMismatch = errors.New("service entry count mismatch")
)

// Options configures a run.
type Options struct {
	// Clients is the number of concurrent loggers.
	Clients int

	// EntriesPerClient is how many entries each logger adds.
	EntriesPerClient int

	// FailRate is the share of requests rejected before the service sees
	// them.
	FailRate float64

	// LostRate is the share of create requests the service applies but
	// answers with an error.
	LostRate float64

	// MaxPasses bounds the drain phase.
	MaxPasses int

	// Seed makes the failure pattern reproducible.
	Seed int64

	// Logger receives engine activity (default: discarded)
	Logger *log.Logger
}

// DefaultOptions returns a moderate run.
func DefaultOptions() Options {
	return Options{
		Clients:          20,
		EntriesPerClient: 10,
		FailRate:         0.2,
		LostRate:         0.05,
		MaxPasses:        50,
		Seed:             42,
	}
}

// LatencyStats captures the latency of a set of operations.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a run.
type Report struct {
	Adds LatencyStats

	// Confirmed and Queued split the adds by their immediate outcome.
	Confirmed int
	Queued    int

	// Errors counts adds that returned no entry at all.
	Errors int

	// Passes is the number of sync passes needed to drain the queue.
	Passes int

	// Stored is the number of entries the service holds afterwards.
	Stored int

	Duration time.Duration
}

// Run performs one load test.
func Run(ctx context.Context, opts Options) (*Report, error) {
	defaults := DefaultOptions()
	if opts.Clients <= 0 {
		opts.Clients = defaults.Clients
	}
	if opts.EntriesPerClient <= 0 {
		opts.EntriesPerClient = defaults.EntriesPerClient
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = defaults.MaxPasses
	}
	if opts.FailRate < 0 || opts.FailRate >= 1 || opts.LostRate < 0 || opts.LostRate >= 1 {
		return nil, fmt.Errorf("failure rates must be in [0, 1)")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	backend := fakebackend.New()
	srv := httptest.NewServer(newFlaky(backend.Handler(), opts.FailRate, opts.LostRate, opts.Seed))
	defer srv.Close()

	client, err := remote.NewHTTPClient(remote.Config{
		BaseURL:           srv.URL,
		RequestsPerSecond: 1e6,
		Burst:             opts.Clients,
	})
	if err != nil {
		return nil, err
	}
	store, _, err := probe.Open(ctx, probe.Options{Backend: probe.BackendMemory, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	engine := entrysync.New(store, client, entrysync.Options{Logger: opts.Logger})
	date := engine.Today()
	start := time.Now()

	report := &Report{}
	var mu sync.Mutex
	var durations []time.Duration
	var wg sync.WaitGroup

	for i := 0; i < opts.Clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			local := make([]time.Duration, 0, opts.EntriesPerClient)
			var confirmed, queued, failed int
			for j := 0; j < opts.EntriesPerClient; j++ {
				draft := schema.Draft{
					Name:      fmt.Sprintf("client %d item %d", clientID, j),
					Calories:  float64(100 + j),
					Protein:   float64(j % 30),
					EntryDate: date,
				}
				began := time.Now()
				entry, _ := engine.AddEntry(ctx, draft)
				local = append(local, time.Since(began))

				switch {
				case entry.ID == 0:
					failed++
				case entry.IsPending():
					queued++
				default:
					confirmed++
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			report.Confirmed += confirmed
			report.Queued += queued
			report.Errors += failed
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	report.Adds = computeLatencyStats(durations)

	for report.Passes < opts.MaxPasses {
		pending, err := engine.PendingCount(ctx)
		if err != nil {
			return report, err
		}
		if pending == 0 {
			break
		}
		if _, err := engine.SyncPending(ctx); err != nil {
			return report, err
		}
		report.Passes++
	}
	report.Duration = time.Since(start)

	if pending, err := engine.PendingCount(ctx); err != nil {
		return report, err
	} else if pending > 0 {
		return report, fmt.Errorf("%w: %d entries after %d passes", ErrNotDrained, pending, report.Passes)
	}

	report.Stored = len(backend.Entries(date))
	if want := opts.Clients*opts.EntriesPerClient - report.Errors; report.Stored != want {
		return report, fmt.Errorf("%w: service holds %d entries, want %d", ErrMismatch, report.Stored, want)
	}
	return report, nil
}

// flaky fails a share of requests. Lost creates reach next before the
// error is returned.
type flaky struct {
	next     http.Handler
	failRate float64
	lostRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newFlaky(next http.Handler, failRate, lostRate float64, seed int64) *flaky {
	return &flaky{next: next, failRate: failRate, lostRate: lostRate, rng: rand.New(rand.NewSource(seed))}
}

func (f *flaky) roll() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

func (f *flaky) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		f.next.ServeHTTP(w, r)
		return
	}
	if f.roll() < f.failRate {
		http.Error(w, `{"detail":"injected failure"}`, http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost && f.roll() < f.lostRate {
		f.next.ServeHTTP(httptest.NewRecorder(), r)
		http.Error(w, `{"detail":"injected lost response"}`, http.StatusBadGateway)
		return
	}
	f.next.ServeHTTP(w, r)
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(durations),
	}
}

// Write formats the report.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "Adds:            %d (%d confirmed, %d queued, %d errors)\n",
		r.Adds.Count, r.Confirmed, r.Queued, r.Errors)
	fmt.Fprintf(w, "Add latency:\n")
	fmt.Fprintf(w, "  Min:           %v\n", r.Adds.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Adds.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Adds.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Adds.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Adds.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Adds.Max)
	fmt.Fprintf(w, "Sync passes:     %d\n", r.Passes)
	fmt.Fprintf(w, "Stored:          %d\n", r.Stored)
	fmt.Fprintf(w, "Duration:        %v\n", r.Duration)
}
