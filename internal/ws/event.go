package ws

import (
	"encoding/json"

	"social-chat/internal/chat"
	"social-chat/internal/models"
)

// OpAck carries the reply to an inbound event that asked for one.
const OpAck = "ack"

// Event is the socket envelope.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Ack  string `json:"ack,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

type inboundEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
	Ack  string          `json:"ack,omitempty"`
}

type sendAck struct {
	Status           string                  `json:"status"`
	MessageID        string                  `json:"message_id"`
	FormattedMessage models.FormattedMessage `json:"formatted_message"`
}

type failedMessage struct {
	chat.SendInput
	Status string `json:"status"`
}

type sendFailure struct {
	Error   bool          `json:"error"`
	Message failedMessage `json:"message"`
	Reason  string        `json:"reason"`
}

type statusAck struct {
	Status    bool              `json:"status"`
	MessageID string            `json:"message_id,omitempty"`
	Reactions []models.Reaction `json:"reactions,omitempty"`
	Error     string            `json:"error,omitempty"`
}
