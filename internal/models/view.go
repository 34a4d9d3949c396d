package models

import "time"

// ReplyView is the quoted message attached to a formatted reply.
type ReplyView struct {
	ID          string       `json:"id"`
	Sender      *UserProfile `json:"sender"`
	ContentType ContentType  `json:"content_type"`
	Content     *string      `json:"content,omitempty"`
	Media       []Media      `json:"media"`
	CreatedAt   time.Time    `json:"created_at"`
}

// FormattedMessage is the client-facing shape of a message.
type FormattedMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Sender         UserProfile     `json:"sender"`
	Type           MessageType     `json:"message_type"`
	ContentType    ContentType     `json:"content_type"`
	ReplyRef       *ReplyView      `json:"reply_ref,omitempty"`
	Content        *string         `json:"content,omitempty"`
	Media          []Media         `json:"media"`
	Details        *MessageDetails `json:"details,omitempty"`
	CreatedAt      string          `json:"created_at"`
	SentAt         time.Time       `json:"sent_at"`
}

// ReadByView is a read receipt with the reader's profile.
type ReadByView struct {
	User   *UserProfile `json:"user"`
	ReadAt time.Time    `json:"read_at"`
}

// LastMessageView summarizes the newest message of a conversation.
type LastMessageView struct {
	ID                 string       `json:"id"`
	SenderID           string       `json:"sender_id"`
	Type               MessageType  `json:"message_type"`
	ContentType        ContentType  `json:"content_type"`
	Content            *string      `json:"content,omitempty"`
	ReadBy             []ReadByView `json:"read_by"`
	CreatedAt          time.Time    `json:"created_at"`
	FormattedCreatedAt string       `json:"formatted_created_at"`
}

// ConversationView is the viewer-relative projection of a conversation.
type ConversationView struct {
	ID           string           `json:"id"`
	IsGroup      bool             `json:"is_group"`
	GroupName    *string          `json:"group_name"`
	GroupAvatar  *string          `json:"group_avatar"`
	Participants []UserProfile    `json:"participants"`
	Receiver     *UserProfile     `json:"receiver"`
	LastMessage  *LastMessageView `json:"last_message"`
	UnreadCount  int              `json:"unread_messages_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
