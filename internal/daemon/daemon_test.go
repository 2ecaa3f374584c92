package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	entrysync "github.com/macrolog/macrolog/internal/sync"
)

// countingSyncer records passes and signals each one on passes.
type countingSyncer struct {
	mu     sync.Mutex
	calls  int
	err    error
	passes chan struct{}
}

func newCountingSyncer() *countingSyncer {
	return &countingSyncer{passes: make(chan struct{}, 100)}
}

func (s *countingSyncer) SyncPending(ctx context.Context) (entrysync.SyncResult, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	s.passes <- struct{}{}
	if err != nil {
		return entrysync.SyncResult{}, err
	}
	return entrysync.SyncResult{Attempted: 1, Confirmed: 1}, nil
}

func (s *countingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func testConfig() *Config {
	return &Config{
		Schedule:         "@every 1h",
		DebounceInterval: 20 * time.Millisecond,
		PassTimeout:      time.Second,
		PingTimeout:      time.Second,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func waitPass(t *testing.T, s *countingSyncer, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.passes:
	case <-time.After(timeout):
		t.Fatalf("no pass within %v", timeout)
	}
}

// waitStatus polls until cond holds for the daemon's status.
func waitStatus(t *testing.T, d *Daemon, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		st := d.Status()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never reached expected state: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startDaemon(t *testing.T, d *Daemon) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		syncer  Syncer
		config  *Config
		wantErr bool
	}{
		{name: "valid configuration", syncer: newCountingSyncer(), config: testConfig()},
		{name: "nil config uses defaults", syncer: newCountingSyncer(), config: nil},
		{name: "nil syncer", syncer: nil, config: testConfig(), wantErr: true},
		{name: "bad schedule", syncer: newCountingSyncer(), config: &Config{Schedule: "every now and then"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, nil, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				_ = d.Stop()
			}
		})
	}
}

func TestStartRunsInitialPass(t *testing.T) {
	s := newCountingSyncer()
	d, err := New(s, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	waitPass(t, s, 2*time.Second)
	st := waitStatus(t, d, func(st Status) bool { return st.Passes == 1 && !st.NextRun.IsZero() })
	if !st.Running || st.LastResult.Confirmed != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestTriggersAreDebounced(t *testing.T) {
	s := newCountingSyncer()
	d, err := New(s, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()
	waitPass(t, s, 2*time.Second)

	for i := 0; i < 5; i++ {
		d.Trigger()
	}
	waitPass(t, s, 2*time.Second)

	time.Sleep(100 * time.Millisecond)
	if got := s.count(); got != 2 {
		t.Errorf("passes = %d, want 2 (initial + one debounced)", got)
	}
}

func TestOfflineSkipsPass(t *testing.T) {
	s := newCountingSyncer()
	p := &stubPinger{err: errors.New("dial tcp: connection refused")}
	d, err := New(s, p, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = d.RunOnce(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("RunOnce = %v, want ErrOffline", err)
	}
	if s.count() != 0 {
		t.Error("pass ran while offline")
	}
	if st := d.Status(); st.Online || st.LastError == "" {
		t.Errorf("status = %+v, want offline with error", st)
	}

	p.set(nil)
	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce after recovery: %v", err)
	}
	if res.Confirmed != 1 || !d.Status().Online {
		t.Errorf("result = %+v, status = %+v", res, d.Status())
	}
}

func TestFailedPassIsNotFatal(t *testing.T) {
	s := newCountingSyncer()
	s.err = errors.New("local cache unavailable")
	d, err := New(s, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	waitPass(t, s, 2*time.Second)
	d.Trigger()
	waitPass(t, s, 2*time.Second)

	st := waitStatus(t, d, func(st Status) bool { return st.Passes == 2 })
	if st.LastError == "" || !st.Running {
		t.Errorf("status = %+v, want running with last error", st)
	}
}

func TestScheduledPass(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron schedule")
	}
	s := newCountingSyncer()
	cfg := testConfig()
	cfg.Schedule = "@every 1s"
	d, err := New(s, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	waitPass(t, s, 2*time.Second) // initial
	waitPass(t, s, 3*time.Second) // scheduled
}

func TestSetSchedule(t *testing.T) {
	d, err := New(newCountingSyncer(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Stop()

	if err := d.SetSchedule("*/5 * * * *"); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if got := d.Status().Schedule; got != "*/5 * * * *" {
		t.Errorf("Schedule = %q", got)
	}
	if err := d.SetSchedule("bogus"); err == nil {
		t.Error("SetSchedule accepted an invalid spec")
	}
	if got := d.Status().Schedule; got != "*/5 * * * *" {
		t.Errorf("invalid spec replaced schedule: %q", got)
	}
}

func TestStopTwice(t *testing.T) {
	d, err := New(newCountingSyncer(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startDaemon(t, d)
	stop()
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
	if d.Status().Running {
		t.Error("Running after Stop")
	}
}
