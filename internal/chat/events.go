package chat

import "social-chat/internal/models"

// Socket operation names.
const (
	OpSendMessage     = "message:send"
	OpReceive         = "message:receive"
	OpTyping          = "message:typing"
	OpUserTyping      = "message:user_typing"
	OpUserListTyping  = "message:userlist_typing"
	OpDeleteMessage   = "message:delete_message"
	OpMessageDeleted  = "message:message_deleted"
	OpMarkRead        = "message:chat_read"
	OpChatListUpdated = "message:chatlist_updated"
	OpReact           = "message:react"
	OpReactionUpdated = "message:reaction_updated"
)

// Origin identifies the connection an event arrived on.
type Origin struct {
	UserID    string
	SessionID string
	RequestID string
}

type MediaInput struct {
	Type      models.MediaKind `json:"type"`
	URL       string           `json:"url"`
	Thumbnail *string          `json:"thumbnail,omitempty"`
	Duration  *float64         `json:"duration,omitempty"`
}

type SendInput struct {
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id,omitempty"`
	Type           models.MessageType     `json:"message_type,omitempty"`
	ContentType    models.ContentType     `json:"content_type,omitempty"`
	ReplyRef       *string                `json:"reply_ref,omitempty"`
	Content        *string                `json:"content,omitempty"`
	Media          []MediaInput           `json:"media,omitempty"`
	Details        *models.MessageDetails `json:"details,omitempty"`
}

type TypingInput struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// DeleteInput selects the deletion mode. A nil Unsend means unsend.
type DeleteInput struct {
	MessageID string `json:"message_id"`
	Unsend    *bool  `json:"unsend,omitempty"`
}

type ReadInput struct {
	ConversationID string `json:"conversation_id"`
}

// ReactInput sets the caller's reaction; an empty emoji clears it.
type ReactInput struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type TypingEvent struct {
	IsTyping       bool   `json:"is_typing"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type MessageDeletedEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type ReactionUpdatedEvent struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	Reactions      []models.Reaction `json:"reactions"`
}

type DeleteResult struct {
	MessageID string `json:"message_id"`
	Unsent    bool   `json:"unsent"`
}

type ReactResult struct {
	MessageID string            `json:"message_id"`
	Reactions []models.Reaction `json:"reactions"`
}

// Page selects a window of a listing. Zero values fall back to page 1 of 10.
type Page struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

func (p Page) offset() int {
	return (p.Page - 1) * p.Limit
}
