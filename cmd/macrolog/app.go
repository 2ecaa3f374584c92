package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/cache/probe"
	"github.com/macrolog/macrolog/internal/config"
	"github.com/macrolog/macrolog/internal/logging"
	"github.com/macrolog/macrolog/internal/metrics"
	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/summary"
	entrysync "github.com/macrolog/macrolog/internal/sync"
	"github.com/macrolog/macrolog/internal/view"
)

var errNoServer = errors.New("server URL is not configured; run 'macrolog config init --server URL' or set MACROLOG_SERVER_URL")

// app holds the components one command invocation works with.
type app struct {
	cfg       *config.Config
	logs      *logging.Factory
	loc       *time.Location
	metrics   *metrics.Collector
	client    *remote.HTTPClient
	store     cache.Backend
	backend   string
	notify    *notifyHub
	engine    *entrysync.Engine
	summaries *summary.Computer
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Server.URL == "" {
		return nil, errNoServer
	}

	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Verbose:    flagVerbose,
	})
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		logs.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logs: logs, loc: loc, metrics: metrics.New(), notify: &notifyHub{}}

	a.client, err = remote.NewHTTPClient(remote.Config{
		BaseURL:           cfg.Server.URL,
		Token:             cfg.Server.Token,
		Timeout:           cfg.Server.Timeout,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		UserAgent:         "macrolog/" + Version,
		HTTPClient:        &http.Client{Transport: a.metrics.InstrumentTransport(nil)},
	})
	if err != nil {
		logs.Close()
		return nil, err
	}

	a.store, a.backend, err = probe.Open(ctx, probe.Options{
		Backend:  cfg.Cache.Backend,
		Dir:      cfg.Cache.Dir,
		RedisURL: cfg.Cache.RedisURL,
		RedisKey: cfg.Cache.RedisKey,
		Logger:   logs.Logger("cache"),
	})
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	a.engine = entrysync.New(a.store, a.client, entrysync.Options{
		Logger:   logs.Logger("sync"),
		Notifier: a.notify,
		Metrics:  a.metrics,
		Location: loc,
	})
	a.summaries = summary.New(a.client, a.store, a.store, summary.Options{
		Logger:  logs.Logger("summary"),
		Metrics: a.metrics,
	})
	return a, nil
}

// date resolves a --date flag value in the configured time zone.
func (a *app) date(s string) (schema.Date, error) {
	return parseDate(s, time.Now().In(a.loc))
}

// day returns a view of date backed by the engine.
func (a *app) day(date string) (*view.Day, error) {
	d, err := a.date(date)
	if err != nil {
		return nil, err
	}
	return view.NewDay(a.engine, a.summaries, d, a.logs.Logger("view")), nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logs.Logger("cache").Printf("WARNING: Failed to close cache: %v", err)
	}
	_ = a.logs.Close()
}

// notifyHub fans engine events out to subscribers added after the engine
// was built.
type notifyHub struct {
	mu   sync.RWMutex
	subs []entrysync.Notifier
}

func (h *notifyHub) Add(n entrysync.Notifier) {
	h.mu.Lock()
	h.subs = append(h.subs, n)
	h.mu.Unlock()
}

func (h *notifyHub) Notify(ev entrysync.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, n := range h.subs {
		n.Notify(ev)
	}
}
