package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	entrysync "github.com/macrolog/macrolog/internal/sync"
)

// PendingCounter reports the pending queue size.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Handler turns engine events into dashboard messages. It implements
// sync.Notifier and never blocks the caller.
type Handler struct {
	server *Server
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats StatsData
}

var _ entrysync.Notifier = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// New clients receive the current statistics as their first message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		logger: logger,
		now:    time.Now,
	}
	server.SetWelcome(func() Message {
		msg, err := h.statsMessage()
		if err != nil {
			return Message{Type: MessageTypeStats, Timestamp: h.now()}
		}
		return msg
	})
	return h
}

// Refresh loads the pending count from counter and broadcasts it.
func (h *Handler) Refresh(ctx context.Context, counter PendingCounter) error {
	n, err := counter.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending entries: %w", err)
	}

	h.mu.Lock()
	h.stats.Pending = n
	h.mu.Unlock()

	h.broadcastStats()
	return nil
}

// Notify handles an engine event.
func (h *Handler) Notify(ev entrysync.Event) {
	switch ev.Type {
	case entrysync.EventEntryAdded:
		if ev.Entry == nil {
			return
		}
		h.mu.Lock()
		h.stats.Added++
		if ev.Entry.IsPending() {
			h.stats.Pending++
		}
		h.mu.Unlock()
		h.broadcastEntry("added", EntryUpdateData{
			ID:       ev.Entry.ID.String(),
			State:    string(ev.Entry.State),
			Name:     ev.Entry.Name,
			Date:     ev.Entry.EntryDate.String(),
			Calories: ev.Entry.Calories,
		})

	case entrysync.EventEntryConfirmed:
		if ev.Entry == nil {
			return
		}
		h.mu.Lock()
		h.stats.Confirmed++
		if h.stats.Pending > 0 {
			h.stats.Pending--
		}
		h.mu.Unlock()
		h.broadcastEntry("confirmed", EntryUpdateData{
			ID:       ev.Entry.ID.String(),
			State:    string(ev.Entry.State),
			Name:     ev.Entry.Name,
			Date:     ev.Entry.EntryDate.String(),
			Calories: ev.Entry.Calories,
			Replaces: ev.ID.String(),
		})

	case entrysync.EventEntryDeleted:
		h.mu.Lock()
		h.stats.Deleted++
		if ev.ID.IsPlaceholder() && h.stats.Pending > 0 {
			h.stats.Pending--
		}
		h.mu.Unlock()
		h.broadcastEntry("deleted", EntryUpdateData{ID: ev.ID.String()})

	case entrysync.EventSyncComplete:
		if ev.Result == nil {
			return
		}
		r := *ev.Result
		h.logger.Printf("Sync complete: %d attempted, %d confirmed, %d failed in %v",
			r.Attempted, r.Confirmed, r.Failed, r.Duration)

		finished := r.StartedAt.Add(r.Duration)
		h.mu.Lock()
		h.stats.Passes++
		h.stats.Pending = r.StillPending
		h.stats.LastSync = &finished
		h.mu.Unlock()

		h.send(MessageTypeSyncComplete, SyncCompleteData{
			Attempted:    r.Attempted,
			Confirmed:    r.Confirmed,
			Failed:       r.Failed,
			Skipped:      r.Skipped,
			StillPending: r.StillPending,
			Duration:     r.Duration,
		})
		h.broadcastStats()
	}
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) broadcastEntry(action string, data EntryUpdateData) {
	data.Action = action
	h.send(MessageTypeEntryUpdate, data)
	h.broadcastStats()
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	msg, err := h.statsMessage()
	if err != nil {
		h.logger.Printf("WARNING: Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(msg)
}

func (h *Handler) statsMessage() (Message, error) {
	stats := h.GetStats()
	data, err := json.Marshal(stats)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeStats, Timestamp: h.now(), Data: data}, nil
}

func (h *Handler) send(typ MessageType, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("WARNING: Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: h.now(), Data: data})
}
