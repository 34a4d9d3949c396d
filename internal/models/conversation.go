package models

import "time"

// Conversation is a persisted thread between two or more users.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	IsGroup       bool      `db:"is_group" json:"is_group"`
	GroupName     *string   `db:"group_name" json:"group_name"`
	GroupAvatar   *string   `db:"group_avatar" json:"group_avatar"`
	LastMessageID *string   `db:"last_message_id" json:"last_message_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
	Participants  []string  `db:"-" json:"participants"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectKey returns the uniqueness key of the direct conversation between two users.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
