package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"social-chat/internal/chat"
	"social-chat/internal/models"
	"social-chat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Dispatcher handles the chat operations a socket can request.
type Dispatcher interface {
	SendMessage(ctx context.Context, origin chat.Origin, in chat.SendInput) (models.FormattedMessage, error)
	Typing(ctx context.Context, origin chat.Origin, in chat.TypingInput) error
	DeleteMessage(ctx context.Context, origin chat.Origin, in chat.DeleteInput) (chat.DeleteResult, error)
	MarkRead(ctx context.Context, origin chat.Origin, in chat.ReadInput) error
	React(ctx context.Context, origin chat.Origin, in chat.ReactInput) (chat.ReactResult, error)
}

// Client is one websocket session. Inbound events are handled one at a time
// in ReadPump; all writes go through WritePump.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	info         ConnInfo
	send         chan []byte
	dispatcher   Dispatcher
	eventTimeout time.Duration
	logger       *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, info ConnInfo, dispatcher Dispatcher, sendBuffer int, eventTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		info:         info,
		send:         make(chan []byte, sendBuffer),
		dispatcher:   dispatcher,
		eventTimeout: eventTimeout,
		logger:       logger.With(zap.String("user_id", info.UserID), zap.String("session_id", info.ConnID)),
	}
}

// ReadPump reads events until the connection fails and returns the close reason.
func (c *Client) ReadPump(ctx context.Context) string {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws unexpected close", zap.Error(err))
				observability.IncWSEvent("ws_error")
				publishWSEvent(ctx, c.info, "ws_error", err.Error())
			}
			return err.Error()
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.logger.Debug("ws invalid frame", zap.Error(err))
			continue
		}
		c.handle(ctx, event)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(parent context.Context, event inboundEvent) {
	ctx, cancel := context.WithTimeout(parent, c.eventTimeout)
	defer cancel()
	observability.IncWSEvent(event.Op)

	switch event.Op {
	case chat.OpSendMessage:
		c.handleSend(ctx, event)
	case chat.OpTyping:
		var in chat.TypingInput
		if err := decode(event.Data, &in); err != nil {
			return
		}
		if err := c.dispatcher.Typing(ctx, c.info.Origin(), in); err != nil {
			c.logger.Debug("typing dropped", zap.Error(err))
		}
	case chat.OpDeleteMessage:
		var in chat.DeleteInput
		if err := decode(event.Data, &in); err != nil {
			c.ack(event.Ack, statusAck{Status: false, Error: chat.Reason(err)})
			return
		}
		res, err := c.dispatcher.DeleteMessage(ctx, c.info.Origin(), in)
		if err != nil {
			c.ack(event.Ack, statusAck{Status: false, MessageID: in.MessageID, Error: chat.Reason(err)})
			return
		}
		c.ack(event.Ack, statusAck{Status: true, MessageID: res.MessageID})
	case chat.OpMarkRead:
		var in chat.ReadInput
		if err := decode(event.Data, &in); err != nil {
			return
		}
		if err := c.dispatcher.MarkRead(ctx, c.info.Origin(), in); err != nil {
			c.logger.Debug("mark read dropped", zap.Error(err))
		}
	case chat.OpReact:
		var in chat.ReactInput
		if err := decode(event.Data, &in); err != nil {
			c.ack(event.Ack, statusAck{Status: false, Error: chat.Reason(err)})
			return
		}
		res, err := c.dispatcher.React(ctx, c.info.Origin(), in)
		if err != nil {
			c.ack(event.Ack, statusAck{Status: false, MessageID: in.MessageID, Error: chat.Reason(err)})
			return
		}
		c.ack(event.Ack, statusAck{Status: true, MessageID: res.MessageID, Reactions: res.Reactions})
	default:
		c.logger.Debug("ws unknown op", zap.String("op", event.Op))
	}
}

func (c *Client) handleSend(ctx context.Context, event inboundEvent) {
	var in chat.SendInput
	if err := decode(event.Data, &in); err != nil {
		c.ack(event.Ack, sendFailure{Error: true, Message: failedMessage{SendInput: in, Status: "failed"}, Reason: chat.Reason(err)})
		return
	}
	out, err := c.dispatcher.SendMessage(ctx, c.info.Origin(), in)
	if err != nil {
		c.ack(event.Ack, sendFailure{Error: true, Message: failedMessage{SendInput: in, Status: "failed"}, Reason: chat.Reason(err)})
		return
	}
	c.ack(event.Ack, sendAck{Status: "sent", MessageID: out.ID, FormattedMessage: out})
}

// ack replies to the event that carried id. Events without an id get no reply.
func (c *Client) ack(id string, payload any) {
	if id == "" {
		return
	}
	c.hub.send(c.info.ConnID, Event{Op: OpAck, Ack: id, Data: payload})
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", chat.ErrValidation)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: invalid payload", chat.ErrValidation)
	}
	return nil
}
