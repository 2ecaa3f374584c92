package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/macrolog/macrolog/internal/remote"
	entrysync "github.com/macrolog/macrolog/internal/sync"
)

// ErrOffline is returned by RunOnce when the health check failed and the
// pass was skipped.
var ErrOffline = errors.New("remote service unreachable")

// Syncer runs one reconciliation pass. *sync.Engine implements it.
type Syncer interface {
	SyncPending(ctx context.Context) (entrysync.SyncResult, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec for periodic passes, e.g. "@every 1m" or
	// "*/5 * * * *".
	Schedule string

	// DebounceInterval is how long a trigger waits for further triggers
	// before the pass runs.
	DebounceInterval time.Duration

	// PassTimeout bounds a single pass.
	PassTimeout time.Duration

	// PingTimeout bounds the health check before a pass.
	PingTimeout time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 1m",
		DebounceInterval: 2 * time.Second,
		PassTimeout:      2 * time.Minute,
		PingTimeout:      5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Status describes the daemon's latest activity.
type Status struct {
	Running    bool                 `json:"running"`
	Schedule   string               `json:"schedule"`
	Online     bool                 `json:"online"`
	Passes     int                  `json:"passes"`
	LastRun    time.Time            `json:"last_run,omitempty"`
	LastResult entrysync.SyncResult `json:"last_result"`
	LastError  string               `json:"last_error,omitempty"`
	NextRun    time.Time            `json:"next_run,omitempty"`
}

// Daemon schedules reconciliation passes.
type Daemon struct {
	syncer Syncer
	pinger remote.Pinger
	config *Config

	cron    *cron.Cron
	entryID cron.EntryID
	trigger chan struct{}

	// passMu serialises passes started by RunOnce and the loop.
	passMu sync.Mutex

	mu     sync.Mutex
	status Status

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. pinger may be nil, in which case every pass is
// attempted.
func New(syncer Syncer, pinger remote.Pinger, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = defaults.PassTimeout
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaults.PingTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(config.Logger)))
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		syncer:  syncer,
		pinger:  pinger,
		config:  config,
		cron:    c,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.status.Schedule = config.Schedule
	d.status.Online = true

	id, err := c.AddFunc(config.Schedule, d.Trigger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}
	d.entryID = id

	return d, nil
}

// Start runs an initial pass, then serves the schedule and triggers.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (schedule %s)", d.config.Schedule)
	d.setRunning(true)

	if _, err := d.RunOnce(ctx); err != nil {
		d.config.Logger.Printf("Initial pass: %v", err)
	}

	d.wg.Add(1)
	go d.loop()
	d.cron.Start()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		<-d.cron.Stop().Done()
		d.wg.Wait()
		d.setRunning(false)
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Trigger requests a pass soon. It never blocks; triggers that arrive while
// one is already queued are merged.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// SetSchedule replaces the periodic schedule of a daemon, running or not.
func (d *Daemon) SetSchedule(spec string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if spec == d.status.Schedule {
		return nil
	}
	id, err := d.cron.AddFunc(spec, d.Trigger)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	d.cron.Remove(d.entryID)
	d.entryID = id
	d.status.Schedule = spec
	d.config.Logger.Printf("Schedule changed to %s", spec)
	return nil
}

// Status returns a snapshot of the daemon's state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	s := d.status
	id := d.entryID
	d.mu.Unlock()

	if next := d.cron.Entry(id).Next; !next.IsZero() {
		s.NextRun = next
	}
	return s
}

// loop waits for triggers and runs debounced passes.
func (d *Daemon) loop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.trigger:
		}

		timer := time.NewTimer(d.config.DebounceInterval)
	debounce:
		for {
			select {
			case <-d.ctx.Done():
				timer.Stop()
				return
			case <-d.trigger:
			case <-timer.C:
				break debounce
			}
		}

		if _, err := d.RunOnce(d.ctx); err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, context.Canceled) {
			d.config.Logger.Printf("WARNING: Failed to sync pending entries: %v", err)
		}
	}
}

// RunOnce performs a single pass now, bypassing the schedule. It returns
// ErrOffline when the health check failed.
func (d *Daemon) RunOnce(ctx context.Context) (entrysync.SyncResult, error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	if d.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, d.config.PingTimeout)
		err := d.pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			d.record(entrysync.SyncResult{}, fmt.Errorf("%w: %v", ErrOffline, err), false)
			d.config.Logger.Printf("Remote unreachable, skipping pass: %v", err)
			return entrysync.SyncResult{}, fmt.Errorf("%w: %v", ErrOffline, err)
		}
	}

	passCtx, cancel := context.WithTimeout(ctx, d.config.PassTimeout)
	defer cancel()

	result, err := d.syncer.SyncPending(passCtx)
	d.record(result, err, true)
	if err != nil {
		return result, err
	}
	if result.Attempted > 0 {
		d.config.Logger.Printf("Pass complete: confirmed %d of %d, %d still pending",
			result.Confirmed, result.Attempted, result.StillPending)
	}
	return result, nil
}

func (d *Daemon) record(result entrysync.SyncResult, err error, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status.Passes++
	d.status.LastRun = time.Now()
	d.status.LastResult = result
	d.status.Online = online
	d.status.LastError = ""
	if err != nil {
		d.status.LastError = err.Error()
	}
}

func (d *Daemon) setRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Running = running
}
