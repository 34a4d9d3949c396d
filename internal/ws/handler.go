package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"social-chat/internal/auth"
	"social-chat/internal/observability"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Options tunes connection handling.
type Options struct {
	EventTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to chat sessions.
type Handler struct {
	hub        *Hub
	verifier   TokenVerifier
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, verifier TokenVerifier, dispatcher Dispatcher, opts Options, logger *zap.Logger) *Handler {
	h := &Handler{hub: hub, verifier: verifier, dispatcher: dispatcher, opts: opts, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handle authenticates the request, upgrades it and runs the session pumps.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("social-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		var err error
		if token, err = auth.BearerToken(header); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceID(c.Request),
		IP:          observability.ClientIP(c.Request),
		RequestID:   observability.RequestID(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(h.hub, conn, info, h.dispatcher, h.opts.SendBuffer, h.opts.EventTimeout, h.logger)
	h.hub.Register(client)

	observability.SessionOpened()
	observability.IncWSEvent("ws_connect")
	publishWSEvent(ctx, info, "ws_connect", "")

	// The request context ends when this handler returns; the session outlives it.
	baseCtx := context.WithoutCancel(ctx)
	connCtx, cancel := context.WithCancel(baseCtx)
	go client.WritePump()
	go func() {
		reason := client.ReadPump(connCtx)
		cancel()
		h.hub.Unregister(client)
		conn.Close()
		observability.SessionClosed()
		observability.IncWSEvent("ws_disconnect")
		publishWSEvent(baseCtx, info, "ws_disconnect", reason)
	}()
}
