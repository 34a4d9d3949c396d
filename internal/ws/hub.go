package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"social-chat/internal/observability"
)

const wsRoutingKey = "ws_events.chats"

// Hub owns the connected clients and delivers events to them by session id.
type Hub struct {
	registry *Registry
	clients  map[string]*Client
	mu       sync.RWMutex
	seq      atomic.Int64
	logger   *zap.Logger
}

// NewHub creates an empty hub backed by registry.
func NewHub(registry *Registry, logger *zap.Logger) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		logger:   logger,
	}
}

// Register adds a client and records its session for its user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.info.ConnID] = c
	h.mu.Unlock()
	h.registry.Register(c.info.UserID, c.info.ConnID)
	online := h.registry.OnlineUsers()
	observability.SetOnlineUsers(online)

	h.logger.Info("ws client connected",
		zap.String("user_id", c.info.UserID),
		zap.String("session_id", c.info.ConnID),
		zap.Int("sessions", len(h.registry.SessionsFor(c.info.UserID))),
		zap.Int("online_users", online),
	)
}

// Unregister removes a client and closes its send queue. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.info.ConnID]
	if !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.info.ConnID)
	close(c.send)
	h.mu.Unlock()
	h.registry.Unregister(c.info.ConnID)
	observability.SetOnlineUsers(h.registry.OnlineUsers())

	h.logger.Info("ws client disconnected",
		zap.String("user_id", c.info.UserID),
		zap.String("session_id", c.info.ConnID),
	)
}

// SessionsFor returns the connected sessions of a user.
func (h *Hub) SessionsFor(userID string) []string {
	return h.registry.SessionsFor(userID)
}

// Emit queues an outbound event for a session, stamping it with the next sequence number.
func (h *Hub) Emit(sessionID string, op string, payload any) bool {
	return h.send(sessionID, Event{Op: op, Data: payload, Seq: h.seq.Add(1)})
}

func (h *Hub) send(sessionID string, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("ws marshal failed", zap.String("op", event.Op), zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	if !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("ws send buffer full, dropping connection", zap.String("session_id", sessionID), zap.String("user_id", c.info.UserID))
		go h.dropSlow(c)
		return false
	}
}

func (h *Hub) dropSlow(c *Client) {
	h.Unregister(c)
	publishWSEvent(context.Background(), c.info, "ws_error", "send buffer full")
	observability.IncWSEvent("ws_error")
}

// Shutdown closes every client's send queue.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
	h.logger.Info("ws hub shut down", zap.Int("closed", len(clients)))
}

func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"kind":        "chat",
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": info.Age().Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.NewEnvelope("ws_events", event, payload), observability.BuildHeaders(info.RequestID, info.TraceID))
}
