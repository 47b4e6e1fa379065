package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/types"
)

// Event is one message on the websocket feed.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Session   SessionInfo `json:"session"`
}

// subscriber is one connected websocket client. Events are dropped rather
// than buffered without bound when the client cannot keep up; the dashboard
// re-syncs via the list endpoint.
type subscriber struct {
	runID string
	ch    chan []byte
}

// EventsHandler pushes session transitions to websocket clients so the
// dashboard does not need to poll. It subscribes to every coordinator the
// registry manages.
type EventsHandler struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewEventsHandler creates the websocket feed and hooks it into the
// registry's transition stream.
func NewEventsHandler(registry *coordinator.Registry, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		logger: logger.With(zap.String("component", "events_handler")),
		subs:   make(map[*subscriber]struct{}),
	}
	registry.OnTransition(h.broadcast)
	return h
}

// HandleEvents serves GET /api/v1/interventions/events. An optional run_id
// query parameter restricts the feed to one run.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{
		runID: r.URL.Query().Get("run_id"),
		ch:    make(chan []byte, 32),
	}
	h.subscribe(sub)
	defer h.unsubscribe(sub)

	h.logger.Info("events client connected", zap.String("run_id", sub.runID))

	// CloseRead discards incoming frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("events client disconnected", zap.String("run_id", sub.runID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-sub.ch:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// SubscriberCount reports connected clients.
func (h *EventsHandler) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventsHandler) subscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
}

func (h *EventsHandler) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// broadcast fans a transition out to matching subscribers. Runs on the
// coordinator's handler goroutine.
func (h *EventsHandler) broadcast(sess *types.Session) {
	msg, err := json.Marshal(Event{
		Type:      "transition",
		Timestamp: time.Now(),
		Session:   toSessionInfo(sess),
	})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != sess.RunID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Slow client: drop the event instead of blocking the lifecycle.
		}
	}
}
