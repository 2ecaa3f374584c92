// Package dashboard provides a real-time WebSocket feed of the local entry
// cache.
//
// The dashboard broadcasts entry changes, sync pass results and pending queue
// statistics to connected WebSocket clients. It also serves /health, the
// Prometheus /metrics endpoint and POST /api/sync, which asks the reconciler
// for an immediate pass.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeEntryUpdate indicates an entry was added, confirmed or deleted
	MessageTypeEntryUpdate MessageType = "entry_update"

	// MessageTypeSyncComplete indicates a sync pass finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats indicates updated queue statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntryUpdateData contains entry change information
type EntryUpdateData struct {
	ID       string  `json:"id"`
	Action   string  `json:"action"` // added, confirmed, deleted
	State    string  `json:"state,omitempty"`
	Name     string  `json:"food_name,omitempty"`
	Date     string  `json:"entry_date,omitempty"`
	Calories float64 `json:"calories,omitempty"`

	// Replaces is the placeholder a confirmed entry took over from.
	Replaces string `json:"replaces,omitempty"`
}

// SyncCompleteData contains sync pass information
type SyncCompleteData struct {
	Attempted    int           `json:"attempted"`
	Confirmed    int           `json:"confirmed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	StillPending int           `json:"still_pending"`
	Duration     time.Duration `json:"duration"`
}

// StatsData contains queue statistics
type StatsData struct {
	Pending   int        `json:"pending"`
	Added     int        `json:"added"`
	Confirmed int        `json:"confirmed"`
	Deleted   int        `json:"deleted"`
	Passes    int        `json:"passes"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  http.Handler

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// welcome builds the first message a new client receives.
	welcome   func() Message
	welcomeMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on. 0 picks a free port.
	Port int

	// Metrics serves /metrics (default: promhttp.Handler())
	Metrics http.Handler

	// Trigger is called by POST /api/sync. Nil disables the route.
	Trigger func()

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8787,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Metrics == nil {
		config.Metrics = promhttp.Handler()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		welcome: func() Message {
			return Message{Type: MessageTypeStats, Timestamp: time.Now()}
		},
		ctx:    ctx,
		cancel: cancel,
		logger: config.Logger,
	}
	s.handler = s.routes(config)
	return s
}

func (s *Server) routes(config *Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", config.Metrics)
	if config.Trigger != nil {
		trigger := config.Trigger
		r.Post("/api/sync", func(w http.ResponseWriter, r *http.Request) {
			trigger()
			w.WriteHeader(http.StatusAccepted)
		})
	}
	r.Get("/", s.handleRoot)
	return r
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetWelcome replaces the message sent to each new client.
func (s *Server) SetWelcome(fn func() Message) {
	s.welcomeMu.Lock()
	s.welcome = fn
	s.welcomeMu.Unlock()
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients. It never blocks.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("WARNING: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("WARNING: Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("WARNING: Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The welcome goes out before the client is registered so that it is
	// always the first frame the client reads.
	s.welcomeMu.RLock()
	welcome := s.welcome()
	s.welcomeMu.RUnlock()
	if welcome.Timestamp.IsZero() {
		welcome.Timestamp = time.Now()
	}
	if data, err := json.Marshal(welcome); err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "")
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

var rootPage = template.Must(template.New("root").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>macrolog</title>
</head>
<body>
    <h1>macrolog sync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://{{.}}/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`))

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := rootPage.Execute(w, r.Host); err != nil {
		s.logger.Printf("WARNING: Failed to render index page: %v", err)
	}
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
