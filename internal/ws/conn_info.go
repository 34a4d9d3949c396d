package ws

import (
	"time"

	"social-chat/internal/chat"
)

// ConnInfo describes a connected session. ConnID doubles as the session id.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Origin identifies this session to the chat service.
func (i ConnInfo) Origin() chat.Origin {
	return chat.Origin{UserID: i.UserID, SessionID: i.ConnID, RequestID: i.RequestID}
}

// Age is how long the session has been connected.
func (i ConnInfo) Age() time.Duration {
	if i.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(i.ConnectedAt)
}
