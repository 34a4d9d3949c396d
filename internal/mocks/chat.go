package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"social-chat/internal/chat"
	"social-chat/internal/models"
)

// DispatcherMock mocks the socket-facing chat operations.
type DispatcherMock struct {
	mock.Mock
}

func (m *DispatcherMock) SendMessage(ctx context.Context, origin chat.Origin, in chat.SendInput) (models.FormattedMessage, error) {
	args := m.Called(ctx, origin, in)
	var out models.FormattedMessage
	if val := args.Get(0); val != nil {
		out = val.(models.FormattedMessage)
	}
	return out, args.Error(1)
}

func (m *DispatcherMock) Typing(ctx context.Context, origin chat.Origin, in chat.TypingInput) error {
	args := m.Called(ctx, origin, in)
	return args.Error(0)
}

func (m *DispatcherMock) DeleteMessage(ctx context.Context, origin chat.Origin, in chat.DeleteInput) (chat.DeleteResult, error) {
	args := m.Called(ctx, origin, in)
	var out chat.DeleteResult
	if val := args.Get(0); val != nil {
		out = val.(chat.DeleteResult)
	}
	return out, args.Error(1)
}

func (m *DispatcherMock) MarkRead(ctx context.Context, origin chat.Origin, in chat.ReadInput) error {
	args := m.Called(ctx, origin, in)
	return args.Error(0)
}

func (m *DispatcherMock) React(ctx context.Context, origin chat.Origin, in chat.ReactInput) (chat.ReactResult, error) {
	args := m.Called(ctx, origin, in)
	var out chat.ReactResult
	if val := args.Get(0); val != nil {
		out = val.(chat.ReactResult)
	}
	return out, args.Error(1)
}

// ConversationServiceMock mocks the read side used by the REST handlers.
type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) OpenDirect(ctx context.Context, userID, receiverID string) (models.ConversationView, error) {
	args := m.Called(ctx, userID, receiverID)
	var out models.ConversationView
	if val := args.Get(0); val != nil {
		out = val.(models.ConversationView)
	}
	return out, args.Error(1)
}

func (m *ConversationServiceMock) Conversation(ctx context.Context, userID, conversationID string) (models.ConversationView, error) {
	args := m.Called(ctx, userID, conversationID)
	var out models.ConversationView
	if val := args.Get(0); val != nil {
		out = val.(models.ConversationView)
	}
	return out, args.Error(1)
}

func (m *ConversationServiceMock) Conversations(ctx context.Context, userID string, page chat.Page) ([]models.ConversationView, error) {
	args := m.Called(ctx, userID, page)
	var out []models.ConversationView
	if val := args.Get(0); val != nil {
		out = val.([]models.ConversationView)
	}
	return out, args.Error(1)
}

func (m *ConversationServiceMock) Messages(ctx context.Context, userID, conversationID string, page chat.Page) ([]models.FormattedMessage, error) {
	args := m.Called(ctx, userID, conversationID, page)
	var out []models.FormattedMessage
	if val := args.Get(0); val != nil {
		out = val.([]models.FormattedMessage)
	}
	return out, args.Error(1)
}
