package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-chat/internal/models"
)

var (
	messageCols = []string{"id", "conversation_id", "sender_id", "message_type", "content_type", "reply_ref", "content", "details", "created_at", "updated_at"}
	mediaCols   = []string{"id", "message_id", "kind", "url", "thumbnail", "duration"}
)

func TestCreateMessageStoresMediaAndMovesPointer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("m1", "c1", "u1", models.MessageTypeGeneral, models.ContentTypeMedia, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_media")).
		WithArgs(sqlmock.AnyArg(), "m1", models.MediaImage, "/assets/a.png", nil, nil, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_media")).
		WithArgs(sqlmock.AnyArg(), "m1", models.MediaVideo, "/assets/b.mp4", nil, nil, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_message_id=$1")).
		WithArgs("m1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.CreateMessage(context.Background(), models.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Type:           models.MessageTypeGeneral,
		ContentType:    models.ContentTypeMedia,
		Media: []models.Media{
			{Kind: models.MediaImage, URL: "/assets/a.png"},
			{Kind: models.MediaVideo, URL: "/assets/b.mp4"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, created, msg.CreatedAt)
	require.Len(t, msg.Media, 2)
	assert.NotEmpty(t, msg.Media[0].ID)
	assert.Equal(t, "m1", msg.Media[1].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageUnknownConversationRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()
	content := "hi"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_message_id=$1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.CreateMessage(context.Background(), models.Message{ConversationID: "gone", SenderID: "u1", Content: &content})

	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectHydrate(mock sqlmock.Sqlmock, media, reactions, reads, deletions *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_media WHERE message_id = ANY($1)")).WillReturnRows(media)
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_reactions WHERE message_id = ANY($1)")).WillReturnRows(reactions)
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_reads WHERE message_id = ANY($1)")).WillReturnRows(reads)
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_deletions WHERE message_id = ANY($1)")).WillReturnRows(deletions)
}

func TestGetMessageHydratesChildren(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id=$1")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "c1", "u1", "general", "text", nil, "hello", []byte(`{"media_id":"x"}`), now, now))
	expectHydrate(mock,
		sqlmock.NewRows(mediaCols).AddRow("md1", "m1", "image", "/assets/a.png", nil, nil),
		sqlmock.NewRows([]string{"message_id", "user_id", "emoji"}).AddRow("m1", "u2", "🔥"),
		sqlmock.NewRows([]string{"message_id", "user_id", "read_at"}).AddRow("m1", "u2", now),
		sqlmock.NewRows([]string{"message_id", "user_id"}).AddRow("m1", "u3"),
	)

	msg, err := repo.GetMessage(context.Background(), "m1")

	require.NoError(t, err)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hello", *msg.Content)
	require.NotNil(t, msg.Details)
	assert.Equal(t, "x", msg.Details.MediaID)
	require.Len(t, msg.Media, 1)
	assert.Equal(t, models.MediaImage, msg.Media[0].Kind)
	assert.Equal(t, []models.Reaction{{MessageID: "m1", UserID: "u2", Emoji: "🔥"}}, msg.Reactions)
	assert.True(t, msg.ReadByUser("u2"))
	assert.True(t, msg.DeletedForUser("u3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id=$1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(messageCols))

	_, err := repo.GetMessage(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForViewerEmptySkipsHydrate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta("NOT EXISTS (SELECT 1 FROM message_deletions d")).
		WithArgs("c1", "u2", 10, 0).
		WillReturnRows(sqlmock.NewRows(messageCols))

	msgs, err := repo.ListForViewer(context.Background(), "c1", "u2", 10, 0)

	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_deletions")).
		WithArgs("m1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteForUser(context.Background(), "m1", "u2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForUserAlreadyDeleted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_deletions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.NoError(t, repo.DeleteForUser(context.Background(), "m1", "u2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForUserMissingMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_deletions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	assert.ErrorIs(t, repo.DeleteForUser(context.Background(), "m1", "u2"), ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLockedMessage(mock sqlmock.Sqlmock, id, conversationID string, last any) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id=$1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(id, conversationID, "u1", "general", "media", nil, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_media WHERE message_id=$1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(mediaCols).AddRow("md1", id, "video", "/assets/v.mp4", nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_message_id FROM conversations WHERE id=$1 FOR UPDATE")).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"last_message_id"}).AddRow(last))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE id=$1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestUnsendLastMessageRepointsConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	expectLockedMessage(mock, "m2", "c1", "m2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM messages WHERE conversation_id=$1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_message_id=$1")).
		WithArgs("m1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.Unsend(context.Background(), "m2")

	require.NoError(t, err)
	require.Len(t, msg.Media, 1)
	assert.Equal(t, "/assets/v.mp4", msg.Media[0].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsendOnlyMessageClearsPointer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	expectLockedMessage(mock, "m1", "c1", "m1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM messages WHERE conversation_id=$1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_message_id=$1")).
		WithArgs(nil, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.Unsend(context.Background(), "m1")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsendOlderMessageKeepsPointer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	expectLockedMessage(mock, "m1", "c1", "m2")
	mock.ExpectCommit()

	_, err := repo.Unsend(context.Background(), "m1")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsendMissingMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("m404").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectRollback()

	_, err := repo.Unsend(context.Background(), "m404")

	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadReturnsMarkedCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO message_reads")).
		WithArgs("c1", "u2", at).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.MarkRead(context.Background(), "c1", "u2", at)

	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetReaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (message_id, user_id) DO UPDATE SET emoji")).
		WithArgs("m1", "u2", "👍").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM message_reactions")).
		WithArgs("m1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetReaction(context.Background(), "m1", "u2", "👍"))
	require.NoError(t, repo.SetReaction(context.Background(), "m1", "u2", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}
