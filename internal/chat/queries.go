package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"social-chat/internal/models"
	"social-chat/internal/repositories"
)

// OpenDirect returns the caller's view of their direct conversation with receiverID,
// creating the conversation the first time.
func (s *Service) OpenDirect(ctx context.Context, userID, receiverID string) (models.ConversationView, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return models.ConversationView{}, validationError("receiver id is required")
	}
	if receiverID == userID {
		return models.ConversationView{}, validationError("cannot start a conversation with yourself")
	}

	profiles, err := s.users.GetProfiles(ctx, []string{receiverID})
	if err != nil {
		return models.ConversationView{}, storeError("load receiver", err)
	}
	if _, ok := profiles[receiverID]; !ok {
		return models.ConversationView{}, fmt.Errorf("%w: user %s", ErrNotFound, receiverID)
	}

	conv, err := s.conversations.FindOrCreateDirect(ctx, userID, receiverID)
	if err != nil {
		return models.ConversationView{}, storeError("open conversation", err)
	}
	return s.viewFor(ctx, conv, userID)
}

// Conversation returns the caller's view of a conversation they take part in.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (models.ConversationView, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return models.ConversationView{}, err
	}
	return s.viewFor(ctx, conv, userID)
}

// Conversations lists the caller's conversations that have messages, most recently active first.
func (s *Service) Conversations(ctx context.Context, userID string, page Page) ([]models.ConversationView, error) {
	page = page.normalize()
	convs, err := s.conversations.ListForUser(ctx, userID, page.Limit, page.offset())
	if err != nil {
		return nil, storeError("list conversations", err)
	}

	views := make([]models.ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := s.viewFor(ctx, conv, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Messages returns a page of formatted messages in chronological order.
// Page 1 holds the newest messages. Messages the caller deleted for themselves are omitted.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, page Page) ([]models.FormattedMessage, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	page = page.normalize()
	msgs, err := s.messages.ListForViewer(ctx, conv.ID, userID, page.Limit, page.offset())
	if err != nil {
		return nil, storeError("list messages", err)
	}

	replies := map[string]*models.Message{}
	senders := []string{}
	for _, msg := range msgs {
		senders = append(senders, msg.SenderID)
		if msg.ReplyRef == nil {
			continue
		}
		if _, ok := replies[*msg.ReplyRef]; ok {
			continue
		}
		target, err := s.messages.GetMessage(ctx, *msg.ReplyRef)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			replies[*msg.ReplyRef] = nil
			continue
		}
		if err != nil {
			return nil, storeError("load reply target", err)
		}
		replies[*msg.ReplyRef] = &target
		senders = append(senders, target.SenderID)
	}

	profiles, err := s.users.GetProfiles(ctx, unique(senders))
	if err != nil {
		return nil, storeError("load profiles", err)
	}

	out := make([]models.FormattedMessage, len(msgs))
	for i, msg := range msgs {
		var reply *models.Message
		if msg.ReplyRef != nil {
			reply = replies[*msg.ReplyRef]
		}
		out[len(msgs)-1-i] = s.formatMessage(msg, reply, profiles)
	}
	return out, nil
}
