package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"social-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListForViewer(ctx context.Context, conversationID string, viewerID string, limit int, offset int) ([]models.Message, error)
	DeleteForUser(ctx context.Context, messageID string, userID string) error
	Unsend(ctx context.Context, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string, viewerID string, at time.Time) (int64, error)
	SetReaction(ctx context.Context, messageID string, userID string, emoji string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, message_type, content_type, reply_ref, content, details, created_at, updated_at`

// CreateMessage stores a message with its media and moves the conversation's
// last-message pointer to it in one transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, message_type, content_type, reply_ref, content, details)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Type, msg.ContentType, msg.ReplyRef, msg.Content, msg.Details).
		Scan(&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return models.Message{}, err
	}

	for i := range msg.Media {
		msg.Media[i].ID = uuid.NewString()
		msg.Media[i].MessageID = msg.ID
		if _, err = tx.ExecContext(ctx, `INSERT INTO message_media (id, message_id, kind, url, thumbnail, duration, position) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			msg.Media[i].ID, msg.ID, msg.Media[i].Kind, msg.Media[i].URL, msg.Media[i].Thumbnail, msg.Media[i].Duration, i); err != nil {
			return models.Message{}, err
		}
	}

	var res sql.Result
	if res, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message_id=$1, updated_at=NOW() WHERE id=$2`, msg.ID, msg.ConversationID); err != nil {
		return models.Message{}, err
	}
	var count int64
	if count, err = res.RowsAffected(); err != nil {
		return models.Message{}, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message with media, reactions, receipts and deletions.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{msg}
	if err := hydrate(ctx, r.db, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListForViewer returns a page of messages, newest first, hiding those the viewer deleted for themselves.
func (r *MessageRepo) ListForViewer(ctx context.Context, conversationID string, viewerID string, limit int, offset int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages m
        WHERE m.conversation_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id=$2)
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $3 OFFSET $4`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, viewerID, limit, offset); err != nil {
		return nil, err
	}
	if err := hydrate(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteForUser hides a message for a single user.
func (r *MessageRepo) DeleteForUser(ctx context.Context, messageID string, userID string) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_deletions (message_id, user_id)
        SELECT id, $2 FROM messages WHERE id=$1
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`, messageID); err != nil {
			return err
		}
		if !exists {
			return ErrMessageNotFound
		}
	}
	return nil
}

// Unsend removes a message for everyone and repairs the conversation's
// last-message pointer in the same transaction. The deleted message is
// returned with its media so callers can clean up storage.
func (r *MessageRepo) Unsend(ctx context.Context, messageID string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	if err = tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrMessageNotFound
		}
		return models.Message{}, err
	}
	if err = tx.SelectContext(ctx, &msg.Media, `SELECT id, message_id, kind, url, thumbnail, duration FROM message_media WHERE message_id=$1 ORDER BY position ASC`, messageID); err != nil {
		return models.Message{}, err
	}

	var last sql.NullString
	if err = tx.GetContext(ctx, &last, `SELECT last_message_id FROM conversations WHERE id=$1 FOR UPDATE`, msg.ConversationID); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID); err != nil {
		return models.Message{}, err
	}

	if last.Valid && last.String == messageID {
		var latest sql.NullString
		err = tx.GetContext(ctx, &latest, `SELECT id FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, msg.ConversationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message_id=$1, updated_at=NOW() WHERE id=$2`, latest, msg.ConversationID); err != nil {
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead adds a read receipt for the viewer to every message they did not send.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID string, viewerID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $2, $3 FROM messages m
        WHERE m.conversation_id=$1 AND m.sender_id<>$2
        ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, viewerID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetReaction sets the user's reaction on a message; an empty emoji clears it.
func (r *MessageRepo) SetReaction(ctx context.Context, messageID string, userID string, emoji string) error {
	if emoji == "" {
		_, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji`, messageID, userID, emoji)
	return err
}

// hydrate loads the child rows of msgs in one query per child table.
func hydrate(ctx context.Context, q sqlx.QueryerContext, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids = append(ids, m.ID)
		index[m.ID] = i
		msgs[i].Media = []models.Media{}
	}

	var media []models.Media
	if err := sqlx.SelectContext(ctx, q, &media, `SELECT id, message_id, kind, url, thumbnail, duration FROM message_media WHERE message_id = ANY($1) ORDER BY position ASC`, pq.Array(ids)); err != nil {
		return err
	}
	for _, m := range media {
		i := index[m.MessageID]
		msgs[i].Media = append(msgs[i].Media, m)
	}

	var reactions []models.Reaction
	if err := sqlx.SelectContext(ctx, q, &reactions, `SELECT message_id, user_id, emoji FROM message_reactions WHERE message_id = ANY($1)`, pq.Array(ids)); err != nil {
		return err
	}
	for _, re := range reactions {
		i := index[re.MessageID]
		msgs[i].Reactions = append(msgs[i].Reactions, re)
	}

	var reads []models.ReadReceipt
	if err := sqlx.SelectContext(ctx, q, &reads, `SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at ASC`, pq.Array(ids)); err != nil {
		return err
	}
	for _, rr := range reads {
		i := index[rr.MessageID]
		msgs[i].ReadBy = append(msgs[i].ReadBy, rr)
	}

	var deletions []struct {
		MessageID string `db:"message_id"`
		UserID    string `db:"user_id"`
	}
	if err := sqlx.SelectContext(ctx, q, &deletions, `SELECT message_id, user_id FROM message_deletions WHERE message_id = ANY($1)`, pq.Array(ids)); err != nil {
		return err
	}
	for _, d := range deletions {
		i := index[d.MessageID]
		msgs[i].DeletedFor = append(msgs[i].DeletedFor, d.UserID)
	}
	return nil
}
