package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/macrolog/macrolog/internal/schema"
	entrysync "github.com/macrolog/macrolog/internal/sync"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()

	if config == nil {
		config = &Config{}
	}
	config.Port = 0
	config.Logger = testLogger()

	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// dial connects a client, consumes the welcome message and waits until the
// server has registered the connection.
func dial(t *testing.T, server *Server, want int) (*websocket.Conn, Message) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	welcome := read(t, conn)

	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", server.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, welcome
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func decode(t *testing.T, msg Message, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(msg.Data, v); err != nil {
		t.Fatalf("Failed to unmarshal %s data: %v", msg.Type, err)
	}
}

type stubCounter struct {
	n   int
	err error
}

func (c stubCounter) PendingCount(context.Context) (int, error) {
	return c.n, c.err
}

func pendingEntry(id schema.EntryID, name string) *schema.FoodEntry {
	d := schema.Draft{Name: name, Calories: 250, EntryDate: schema.MustParseDate("2024-05-01")}
	e := schema.NewPending(id, d, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), "ref")
	return &e
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("GetAddr = %q, want a bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop on unstarted server: %v", err)
	}
	// Broadcast after Stop must return immediately.
	server.Broadcast(Message{Type: MessageTypeStats})
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t, nil)

	for i := 1; i <= 3; i++ {
		dial(t, server, i)
	}
	if count := server.ClientCount(); count != 3 {
		t.Errorf("Expected 3 clients, got %d", count)
	}
}

func TestWelcomeCarriesStats(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, testLogger())

	if err := handler.Refresh(context.Background(), stubCounter{n: 4}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	_, welcome := dial(t, server, 1)
	if welcome.Type != MessageTypeStats {
		t.Fatalf("welcome type = %s, want %s", welcome.Type, MessageTypeStats)
	}
	var stats StatsData
	decode(t, welcome, &stats)
	if stats.Pending != 4 {
		t.Errorf("welcome pending = %d, want 4", stats.Pending)
	}
}

func TestRefreshError(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	handler := NewHandler(server, testLogger())

	boom := errors.New("database is locked")
	if err := handler.Refresh(context.Background(), stubCounter{err: boom}); !errors.Is(err, boom) {
		t.Errorf("Refresh error = %v, want %v", err, boom)
	}
}

func TestHandlerEntryEvents(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, testLogger())
	conn, _ := dial(t, server, 1)

	pending := pendingEntry(-7, "banana")
	handler.Notify(entrysync.Event{Type: entrysync.EventEntryAdded, Entry: pending})

	msg := read(t, conn)
	if msg.Type != MessageTypeEntryUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeEntryUpdate, msg.Type)
	}
	var update EntryUpdateData
	decode(t, msg, &update)
	if update.Action != "added" || update.State != "pending" || update.ID != "local-7" {
		t.Errorf("added update = %+v", update)
	}

	var stats StatsData
	decode(t, read(t, conn), &stats)
	if stats.Pending != 1 || stats.Added != 1 {
		t.Errorf("stats after add = %+v, want pending 1 added 1", stats)
	}

	confirmed := pending.Confirmed()
	confirmed.ID = 42
	handler.Notify(entrysync.Event{Type: entrysync.EventEntryConfirmed, Entry: &confirmed, ID: -7})

	decode(t, read(t, conn), &update)
	if update.Action != "confirmed" || update.ID != "42" || update.Replaces != "local-7" {
		t.Errorf("confirmed update = %+v", update)
	}
	decode(t, read(t, conn), &stats)
	if stats.Pending != 0 || stats.Confirmed != 1 {
		t.Errorf("stats after confirm = %+v, want pending 0 confirmed 1", stats)
	}

	handler.Notify(entrysync.Event{Type: entrysync.EventEntryDeleted, ID: 42})
	decode(t, read(t, conn), &update)
	if update.Action != "deleted" || update.ID != "42" {
		t.Errorf("deleted update = %+v", update)
	}
	decode(t, read(t, conn), &stats)
	if stats.Deleted != 1 || stats.Pending != 0 {
		t.Errorf("stats after delete = %+v", stats)
	}
}

func TestHandlerSyncComplete(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, testLogger())
	conn, _ := dial(t, server, 1)

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	result := entrysync.SyncResult{
		Attempted:    3,
		Confirmed:    2,
		Failed:       1,
		StillPending: 1,
		StartedAt:    started,
		Duration:     time.Second,
	}
	handler.Notify(entrysync.Event{Type: entrysync.EventSyncComplete, Result: &result})

	msg := read(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var data SyncCompleteData
	decode(t, msg, &data)
	if data.Attempted != 3 || data.Confirmed != 2 || data.Failed != 1 || data.StillPending != 1 {
		t.Errorf("sync data = %+v", data)
	}

	var stats StatsData
	decode(t, read(t, conn), &stats)
	if stats.Passes != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want one pass with one pending", stats)
	}
	if stats.LastSync == nil || !stats.LastSync.Equal(started.Add(time.Second)) {
		t.Errorf("LastSync = %v, want %v", stats.LastSync, started.Add(time.Second))
	}
}

func TestHandlerIgnoresIncompleteEvents(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	handler := NewHandler(server, testLogger())

	handler.Notify(entrysync.Event{Type: entrysync.EventEntryAdded})
	handler.Notify(entrysync.Event{Type: entrysync.EventEntryConfirmed})
	handler.Notify(entrysync.Event{Type: entrysync.EventSyncComplete})

	if stats := handler.GetStats(); stats != (StatsData{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestHTTPRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "macrolog_test_gauge", Help: "test"})
	registry.MustRegister(gauge)
	gauge.Set(3)

	var triggered atomic.Int32
	server := NewServer(&Config{
		Logger:  testLogger(),
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Trigger: func() { triggered.Add(1) },
	})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, `"status":"ok"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "macrolog_test_gauge 3"},
		{"sync", http.MethodPost, "/api/sync", http.StatusAccepted, ""},
		{"sync wrong method", http.MethodGet, "/api/sync", http.StatusMethodNotAllowed, ""},
		{"root", http.MethodGet, "/", http.StatusOK, "/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", body, tt.wantBody)
			}
		})
	}

	if got := triggered.Load(); got != 1 {
		t.Errorf("trigger called %d times, want 1", got)
	}
}

func TestSyncRouteDisabledWithoutTrigger(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRootPageEscapesHost(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = `evil"><script>alert(1)</script>`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<script>") {
		t.Errorf("host written unescaped:\n%s", body)
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("escaped host missing:\n%s", body)
	}
}
