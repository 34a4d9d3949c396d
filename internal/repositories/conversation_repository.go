package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"social-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	FindOrCreateDirect(ctx context.Context, userID string, otherID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit int, offset int) ([]models.Conversation, error)
	CountUnread(ctx context.Context, conversationID string, viewerID string) (int, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, is_group, group_name, group_avatar, last_message_id, created_at, updated_at`

// GetConversation fetches a conversation and its ordered participants.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	if err := r.db.SelectContext(ctx, &conv.Participants, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY position ASC`, conversationID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// FindOrCreateDirect returns the direct conversation between two users, creating it once.
// The unique direct_key makes concurrent initiations converge on the same row.
func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, userID string, otherID string) (models.Conversation, error) {
	if userID == otherID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	key := models.DirectKey(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	id := uuid.NewString()
	var res sql.Result
	res, err = tx.ExecContext(ctx, `INSERT INTO conversations (id, is_group, direct_key) VALUES ($1, FALSE, $2) ON CONFLICT (direct_key) DO NOTHING`, id, key)
	if err != nil {
		return models.Conversation{}, err
	}
	var created int64
	if created, err = res.RowsAffected(); err != nil {
		return models.Conversation{}, err
	}
	if created == 1 {
		for pos, participant := range []string{userID, otherID} {
			if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES ($1, $2, $3)`, id, participant, pos); err != nil {
				return models.Conversation{}, err
			}
		}
	}

	var existing string
	if err = tx.GetContext(ctx, &existing, `SELECT id FROM conversations WHERE direct_key=$1`, key); err != nil {
		return models.Conversation{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, existing)
}

// ListForUser returns the user's conversations that have at least one message, newest first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string, limit int, offset int) ([]models.Conversation, error) {
	var convs []models.Conversation
	query := `SELECT c.id, c.is_group, c.group_name, c.group_avatar, c.last_message_id, c.created_at, c.updated_at
        FROM conversations c
        INNER JOIN conversation_participants p ON p.conversation_id = c.id
        WHERE p.user_id=$1 AND c.last_message_id IS NOT NULL
        ORDER BY c.updated_at DESC
        LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &convs, query, userID, limit, offset); err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT conversation_id, user_id FROM conversation_participants WHERE conversation_id = ANY($1) ORDER BY conversation_id, position ASC`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := map[string][]string{}
	for rows.Next() {
		var convID, participant string
		if err := rows.Scan(&convID, &participant); err != nil {
			return nil, err
		}
		participants[convID] = append(participants[convID], participant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].Participants = participants[convs[i].ID]
	}
	return convs, nil
}

// CountUnread counts messages not sent by the viewer that the viewer has not read.
func (r *ConversationRepo) CountUnread(ctx context.Context, conversationID string, viewerID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.conversation_id=$1 AND m.sender_id<>$2
        AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id=$2)`, conversationID, viewerID)
	return count, err
}
