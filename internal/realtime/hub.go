// Package realtime pushes row-change notifications to websocket subscribers.
//
// The browser front end subscribes once and merges events into its local view
// state; delivery is at-least-once and unordered relative to polling, so the
// consumer re-sorts and re-truncates locally. Slow subscribers are dropped
// rather than ever back-pressuring the tick path.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one row-change notification.
type Event struct {
	// Table is the affected record set: "messages", "agents", "rooms", or
	// "world_state".
	Table string `json:"table"`

	// Event is "INSERT" or "UPDATE".
	Event string `json:"event"`

	// Row is the affected row, marshalled as-is.
	Row any `json:"row"`
}

// subscriberBuffer is the per-subscriber event queue depth. A subscriber
// whose queue is full when an event arrives is disconnected.
const subscriberBuffer = 64

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Hub fans change events out to websocket subscribers. It implements the
// store's Notifier interface. The zero value is not usable; use [NewHub].
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Publish marshals the event and enqueues it to every subscriber. It never
// blocks: subscribers whose queues are full are closed and removed.
func (h *Hub) Publish(table, event string, row any) {
	data, err := json.Marshal(Event{Table: table, Event: event, Row: row})
	if err != nil {
		slog.Warn("realtime: drop unmarshalable event", "table", table, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			// Queue full; this subscriber is too slow to keep.
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed either by cancel or by the hub when
// the subscriber falls behind.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("realtime: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends application data; CloseRead surfaces
	// disconnects through context cancellation.
	ctx := conn.CloseRead(r.Context())

	events, cancel := h.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := h.write(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
