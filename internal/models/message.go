package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MessageType distinguishes plain messages from replies.
type MessageType string

const (
	MessageTypeGeneral MessageType = "general"
	MessageTypeReply   MessageType = "reply"
)

// ContentType describes the payload carried by a message.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeMedia ContentType = "media"
)

// MediaKind is the kind of an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaFile  MediaKind = "file"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaAudio, MediaFile:
		return true
	}
	return false
}

// Media is a single attachment of a message.
type Media struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"-"`
	Kind      MediaKind `db:"kind" json:"type"`
	URL       string    `db:"url" json:"url"`
	Thumbnail *string   `db:"thumbnail" json:"thumbnail,omitempty"`
	Duration  *float64  `db:"duration" json:"duration,omitempty"`
}

// Reaction is a user's emoji on a message.
type Reaction struct {
	MessageID string `db:"message_id" json:"-"`
	UserID    string `db:"user_id" json:"user_id"`
	Emoji     string `db:"emoji" json:"emoji"`
}

// ReadReceipt records when a user read a message.
type ReadReceipt struct {
	MessageID string    `db:"message_id" json:"-"`
	UserID    string    `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// MessageDetails carries optional metadata; MediaID selects the quoted attachment of a reply.
type MessageDetails struct {
	MediaID string `json:"media_id,omitempty"`
}

// Value stores details as JSONB.
func (d *MessageDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan reads details from a JSONB column.
func (d *MessageDetails) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = MessageDetails{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return errors.New("unsupported details type")
	}
}

// Message is a chat message with its child records.
type Message struct {
	ID             string          `db:"id" json:"id"`
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	SenderID       string          `db:"sender_id" json:"sender_id"`
	Type           MessageType     `db:"message_type" json:"message_type"`
	ContentType    ContentType     `db:"content_type" json:"content_type"`
	ReplyRef       *string         `db:"reply_ref" json:"reply_ref,omitempty"`
	Content        *string         `db:"content" json:"content,omitempty"`
	Details        *MessageDetails `db:"details" json:"details,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Media      []Media       `db:"-" json:"media"`
	Reactions  []Reaction    `db:"-" json:"reactions,omitempty"`
	ReadBy     []ReadReceipt `db:"-" json:"read_by,omitempty"`
	DeletedFor []string      `db:"-" json:"-"`
}

// ReadByUser reports whether userID has a read receipt on the message.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// DeletedForUser reports whether userID removed the message for themselves.
func (m Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}
