package loadtest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReliableService(t *testing.T) {
	report, err := Run(context.Background(), Options{Clients: 5, EntriesPerClient: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Adds.Count != 20 {
		t.Errorf("Expected 20 adds, got %d", report.Adds.Count)
	}
	if report.Stored != 20 {
		t.Errorf("Expected 20 stored entries, got %d", report.Stored)
	}
	if report.Errors != 0 {
		t.Errorf("Got %d add errors", report.Errors)
	}
}

func TestRunUnreliableServiceDrains(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	report, err := Run(context.Background(), Options{
		Clients:          10,
		EntriesPerClient: 10,
		FailRate:         0.3,
		LostRate:         0.1,
		Seed:             7,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Queued == 0 {
		t.Error("Expected some entries to be queued with a 30% failure rate")
	}
	if report.Confirmed+report.Queued != 100 {
		t.Errorf("Confirmed (%d) + Queued (%d) != 100", report.Confirmed, report.Queued)
	}
	if report.Passes == 0 {
		t.Error("Expected at least one sync pass")
	}
	if report.Stored != 100 {
		t.Errorf("Expected 100 stored entries, got %d", report.Stored)
	}

	var buf bytes.Buffer
	report.Write(&buf)
	if !strings.Contains(buf.String(), "Stored:          100") {
		t.Errorf("Report output missing stored count:\n%s", buf.String())
	}
	t.Logf("\n%s", buf.String())
}

func TestRunRejectsBadRates(t *testing.T) {
	for _, opts := range []Options{{FailRate: 1}, {LostRate: -0.1}} {
		if _, err := Run(context.Background(), opts); err == nil {
			t.Errorf("Run(%+v) succeeded, want error", opts)
		}
	}
}

func TestFlakyLostResponseReachesService(t *testing.T) {
	var hits atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	f := newFlaky(next, 0, 0.999999, 1)

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/food/entries", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for lost response, got %d", rec.Code)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected the request to reach the service once, got %d", hits.Load())
	}

	rec = httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected health to bypass failures, got %d", rec.Code)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d", stats.Count)
	}

	if empty := computeLatencyStats(nil); empty != (LatencyStats{}) {
		t.Errorf("Expected zero stats for no durations, got %+v", empty)
	}
}
