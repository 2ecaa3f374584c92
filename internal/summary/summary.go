// Package summary computes the daily macro summary, preferring the remote
// service's figures and falling back to the cache.
package summary

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/schema"
)

// Remote is the part of the remote client the computer needs.
type Remote interface {
	Summary(ctx context.Context, date schema.Date) (schema.MacroSummary, error)
}

// EntrySource lists the cached entries of a date.
type EntrySource interface {
	ListByDate(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)
}

// Metrics records fallbacks.
type Metrics interface {
	RemoteFailure(op string, err error)
	FallbackServed(op string)
}

// Options configures a Computer.
type Options struct {
	Logger  *log.Logger
	Metrics Metrics
}

// Computer implements SummaryFor.
type Computer struct {
	remote  Remote
	entries EntrySource
	goals   cache.GoalsCache
	logger  *log.Logger
	metrics Metrics
}

// New creates a Computer. goals may be nil, in which case the local
// fallback always uses schema.DefaultGoals.
func New(remote Remote, entries EntrySource, goals cache.GoalsCache, opts Options) *Computer {
	c := &Computer{
		remote:  remote,
		entries: entries,
		goals:   goals,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[summary] ", log.LstdFlags)
	}
	return c
}

// SummaryFor returns the summary of date.
//
// The remote summary is used when available and its goals are cached.
// Otherwise totals are summed over every cached entry of date, pending
// included, and paired with the last cached goals or the defaults. Remote
// failures never reach the caller; only a failure to read cached entries
// does.
func (c *Computer) SummaryFor(ctx context.Context, date schema.Date) (schema.MacroSummary, error) {
	s, err := c.remote.Summary(ctx, date)
	if err == nil {
		s.Date = date
		s.Source = schema.SourceRemote
		c.saveGoals(ctx, s.Goals)
		return s, nil
	}

	if c.metrics != nil {
		c.metrics.RemoteFailure("summary", err)
		c.metrics.FallbackServed("summary")
	}
	c.logger.Printf("WARNING: Failed to fetch summary for %s, computing locally: %v", date, err)

	entries, lerr := c.entries.ListByDate(ctx, date)
	if lerr != nil {
		return schema.MacroSummary{}, fmt.Errorf("failed to compute summary for %s: %w", date, lerr)
	}

	return schema.MacroSummary{
		Date:   date,
		Totals: schema.Sum(entries),
		Goals:  c.loadGoals(ctx),
		Source: schema.SourceLocal,
	}, nil
}

func (c *Computer) saveGoals(ctx context.Context, g schema.MacroGoals) {
	if c.goals == nil || g.IsZero() {
		return
	}
	if err := c.goals.SaveGoals(context.WithoutCancel(ctx), g); err != nil {
		c.logger.Printf("WARNING: Failed to cache goals: %v", err)
	}
}

func (c *Computer) loadGoals(ctx context.Context) schema.MacroGoals {
	if c.goals == nil {
		return schema.DefaultGoals()
	}
	g, ok, err := c.goals.LoadGoals(ctx)
	if err != nil {
		c.logger.Printf("WARNING: Failed to read cached goals, using defaults: %v", err)
		return schema.DefaultGoals()
	}
	if !ok {
		return schema.DefaultGoals()
	}
	return g
}
