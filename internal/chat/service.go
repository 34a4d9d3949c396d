// Package chat implements the socket event dispatcher: it persists chat
// mutations and fans the resulting events out to every connected session of
// the affected participants.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"social-chat/internal/media"
	"social-chat/internal/models"
	"social-chat/internal/observability"
	"social-chat/internal/repositories"
	"social-chat/internal/telemetry"
)

// Fanout delivers events to connected sessions.
type Fanout interface {
	SessionsFor(userID string) []string
	// Emit queues an event for a session and reports whether it was accepted.
	Emit(sessionID string, op string, payload any) bool
}

const mediaCleanupTimeout = 30 * time.Second

type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserRepository
	fanout        Fanout
	media         media.Remover
	audit         *telemetry.AuditEmitter
	logger        *zap.Logger
	now           func() time.Time
	loc           *time.Location
	cleanups      sync.WaitGroup
}

func NewService(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	fanout Fanout,
	remover media.Remover,
	audit *telemetry.AuditEmitter,
	logger *zap.Logger,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		users:         users,
		fanout:        fanout,
		media:         remover,
		audit:         audit,
		logger:        logger,
		now:           time.Now,
		loc:           time.Local,
	}
}

// SendMessage persists a message and fans it out to the conversation.
func (s *Service) SendMessage(ctx context.Context, origin Origin, in SendInput) (models.FormattedMessage, error) {
	out, err := s.sendMessage(ctx, origin, in)
	s.record(ctx, origin, OpSendMessage, "message_sent", err, map[string]any{
		"conversation_id": in.ConversationID,
		"message_id":      out.ID,
	})
	return out, err
}

func (s *Service) sendMessage(ctx context.Context, origin Origin, in SendInput) (models.FormattedMessage, error) {
	msg, err := s.buildMessage(origin, in)
	if err != nil {
		return models.FormattedMessage{}, err
	}

	conv, err := s.participantConversation(ctx, msg.ConversationID, origin.UserID)
	if err != nil {
		return models.FormattedMessage{}, err
	}

	var reply *models.Message
	if msg.Type == models.MessageTypeReply {
		target, err := s.messages.GetMessage(ctx, *msg.ReplyRef)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.FormattedMessage{}, validationError("reply target %s does not exist", *msg.ReplyRef)
		}
		if err != nil {
			return models.FormattedMessage{}, storeError("load reply target", err)
		}
		if target.ConversationID != conv.ID {
			return models.FormattedMessage{}, validationError("reply target belongs to another conversation")
		}
		reply = &target
	}

	saved, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return models.FormattedMessage{}, storeError("create message", err)
	}

	formatted, err := s.format(ctx, saved, reply)
	if err != nil {
		return models.FormattedMessage{}, err
	}

	s.broadcast(conv.Participants, origin.SessionID, OpReceive, formatted)
	s.pushChatLists(ctx, conv.ID)
	return formatted, nil
}

func (s *Service) buildMessage(origin Origin, in SendInput) (models.Message, error) {
	if strings.TrimSpace(in.ConversationID) == "" {
		return models.Message{}, validationError("conversation id is required")
	}
	if in.SenderID != "" && in.SenderID != origin.UserID {
		return models.Message{}, forbidden("sender id does not match the authenticated user")
	}

	msg := models.Message{
		ConversationID: in.ConversationID,
		SenderID:       origin.UserID,
		Type:           in.Type,
		ContentType:    in.ContentType,
		Details:        in.Details,
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeGeneral
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentTypeText
	}

	switch msg.Type {
	case models.MessageTypeGeneral:
	case models.MessageTypeReply:
		if in.ReplyRef == nil || *in.ReplyRef == "" {
			return models.Message{}, validationError("reply requires reply_ref")
		}
		msg.ReplyRef = in.ReplyRef
	default:
		return models.Message{}, validationError("unknown message type %q", in.Type)
	}

	switch msg.ContentType {
	case models.ContentTypeText:
		if in.Content == nil || strings.TrimSpace(*in.Content) == "" {
			return models.Message{}, validationError("text message requires content")
		}
		msg.Content = in.Content
	case models.ContentTypeMedia:
		if len(in.Media) == 0 {
			return models.Message{}, validationError("media message requires at least one attachment")
		}
		for i, m := range in.Media {
			if !m.Type.Valid() {
				return models.Message{}, validationError("media %d has unknown type %q", i, m.Type)
			}
			if m.URL == "" {
				return models.Message{}, validationError("media %d has no url", i)
			}
			item := models.Media{Kind: m.Type, URL: m.URL, Thumbnail: m.Thumbnail, Duration: m.Duration}
			if s.media != nil && !s.media.Owns(origin.UserID, item) {
				return models.Message{}, validationError("media %d is not one of your uploads", i)
			}
			msg.Media = append(msg.Media, item)
		}
		if in.Content != nil && strings.TrimSpace(*in.Content) != "" {
			msg.Content = in.Content
		}
	default:
		return models.Message{}, validationError("unknown content type %q", in.ContentType)
	}
	return msg, nil
}

// Typing relays a typing indicator to the other participants. It never persists anything.
func (s *Service) Typing(ctx context.Context, origin Origin, in TypingInput) error {
	conv, err := s.participantConversation(ctx, in.ConversationID, origin.UserID)
	if err != nil {
		observability.IncChatEvent(OpTyping, Outcome(err))
		return err
	}

	event := TypingEvent{IsTyping: in.IsTyping, ConversationID: conv.ID, UserID: origin.UserID}
	others := make([]string, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		if id != origin.UserID {
			others = append(others, id)
		}
	}
	s.broadcast(others, "", OpUserTyping, event)
	s.broadcast(others, "", OpUserListTyping, event)
	observability.IncChatEvent(OpTyping, "ok")
	return nil
}

// DeleteMessage unsends a message for everyone or hides it for the requester.
func (s *Service) DeleteMessage(ctx context.Context, origin Origin, in DeleteInput) (DeleteResult, error) {
	unsend := in.Unsend == nil || *in.Unsend
	res, err := s.deleteMessage(ctx, origin, in.MessageID, unsend)
	name := "message_deleted_for_user"
	if unsend {
		name = "message_unsent"
	}
	s.record(ctx, origin, OpDeleteMessage, name, err, map[string]any{"message_id": in.MessageID})
	return res, err
}

func (s *Service) deleteMessage(ctx context.Context, origin Origin, messageID string, unsend bool) (DeleteResult, error) {
	if strings.TrimSpace(messageID) == "" {
		return DeleteResult{}, validationError("message id is required")
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return DeleteResult{}, storeError("load message", err)
	}
	conv, err := s.participantConversation(ctx, msg.ConversationID, origin.UserID)
	if err != nil {
		return DeleteResult{}, err
	}

	if !unsend {
		if err := s.messages.DeleteForUser(ctx, messageID, origin.UserID); err != nil {
			return DeleteResult{}, storeError("delete for user", err)
		}
		return DeleteResult{MessageID: messageID}, nil
	}

	if msg.SenderID != origin.UserID {
		s.audit.Emit(ctx, telemetry.LevelWarn, "unsend denied for message "+messageID, origin.RequestID, &origin.UserID)
		return DeleteResult{}, forbidden("only the sender can unsend a message")
	}

	deleted, err := s.messages.Unsend(ctx, messageID)
	if err != nil {
		return DeleteResult{}, storeError("unsend message", err)
	}
	s.audit.Emit(ctx, telemetry.LevelInfo, "message "+messageID+" unsent", origin.RequestID, &origin.UserID)
	s.removeMedia(ctx, deleted)

	s.broadcast(conv.Participants, origin.SessionID, OpMessageDeleted, MessageDeletedEvent{MessageID: messageID, ConversationID: conv.ID})
	s.pushChatLists(ctx, conv.ID)
	return DeleteResult{MessageID: messageID, Unsent: true}, nil
}

// removeMedia deletes the attachments of an unsent message in the background.
// Only the sender's own uploads are removed and failures are logged only.
func (s *Service) removeMedia(ctx context.Context, msg models.Message) {
	if s.media == nil || len(msg.Media) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mediaCleanupTimeout)
	s.cleanups.Add(1)
	go func() {
		defer s.cleanups.Done()
		defer cancel()
		if err := s.media.Remove(cleanupCtx, msg.SenderID, msg.Media); err != nil {
			s.logger.Warn("media cleanup incomplete", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}()
}

// Drain waits for pending media cleanups or until ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cleanups.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkRead records read receipts for the authenticated user on every message they did not send.
func (s *Service) MarkRead(ctx context.Context, origin Origin, in ReadInput) error {
	err := s.markRead(ctx, origin, in)
	s.record(ctx, origin, OpMarkRead, "chat_read", err, map[string]any{"conversation_id": in.ConversationID})
	return err
}

func (s *Service) markRead(ctx context.Context, origin Origin, in ReadInput) error {
	conv, err := s.participantConversation(ctx, in.ConversationID, origin.UserID)
	if err != nil {
		return err
	}
	marked, err := s.messages.MarkRead(ctx, conv.ID, origin.UserID, s.now())
	if err != nil {
		return storeError("mark read", err)
	}
	s.logger.Debug("messages marked read", zap.String("conversation_id", conv.ID), zap.String("user_id", origin.UserID), zap.Int64("count", marked))
	s.pushChatLists(ctx, conv.ID)
	return nil
}

// React sets or clears the caller's reaction on a message.
func (s *Service) React(ctx context.Context, origin Origin, in ReactInput) (ReactResult, error) {
	res, err := s.react(ctx, origin, in)
	s.record(ctx, origin, OpReact, "reaction_updated", err, map[string]any{"message_id": in.MessageID})
	return res, err
}

func (s *Service) react(ctx context.Context, origin Origin, in ReactInput) (ReactResult, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return ReactResult{}, validationError("message id is required")
	}
	msg, err := s.messages.GetMessage(ctx, in.MessageID)
	if err != nil {
		return ReactResult{}, storeError("load message", err)
	}
	conv, err := s.participantConversation(ctx, msg.ConversationID, origin.UserID)
	if err != nil {
		return ReactResult{}, err
	}
	if err := s.messages.SetReaction(ctx, msg.ID, origin.UserID, strings.TrimSpace(in.Emoji)); err != nil {
		return ReactResult{}, storeError("set reaction", err)
	}
	updated, err := s.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return ReactResult{}, storeError("reload message", err)
	}

	reactions := updated.Reactions
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	s.broadcast(conv.Participants, origin.SessionID, OpReactionUpdated, ReactionUpdatedEvent{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Reactions:      reactions,
	})
	return ReactResult{MessageID: msg.ID, Reactions: reactions}, nil
}

// participantConversation loads a conversation and checks userID takes part in it.
func (s *Service) participantConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return models.Conversation{}, validationError("conversation id is required")
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, storeError("load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, forbidden("not a participant of conversation %s", conversationID)
	}
	return conv, nil
}

// broadcast emits to every session of userIDs except the excluded session.
func (s *Service) broadcast(userIDs []string, exceptSession, op string, payload any) int {
	delivered := 0
	for _, userID := range userIDs {
		for _, sessionID := range s.fanout.SessionsFor(userID) {
			if sessionID == exceptSession {
				continue
			}
			if s.fanout.Emit(sessionID, op, payload) {
				delivered++
			}
		}
	}
	observability.AddFanoutDeliveries(op, delivered)
	return delivered
}

// pushChatLists sends every participant their own projection of the conversation.
// The conversation is reloaded so the projection reflects the committed state.
func (s *Service) pushChatLists(ctx context.Context, conversationID string) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Error("reload conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	views, err := s.viewsFor(ctx, conv)
	if err != nil {
		s.logger.Error("conversation projection failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	for _, userID := range conv.Participants {
		s.broadcast([]string{userID}, "", OpChatListUpdated, views[userID])
	}
}

// record counts the event and publishes successful mutations to the broker.
func (s *Service) record(ctx context.Context, origin Origin, op, name string, err error, payload map[string]any) {
	observability.IncChatEvent(op, Outcome(err))
	if err != nil {
		if IsClientError(err) {
			s.logger.Info("chat event rejected", zap.String("op", op), zap.String("user_id", origin.UserID), zap.Error(err))
		} else {
			s.logger.Error("chat event failed", zap.String("op", op), zap.String("user_id", origin.UserID), zap.Error(err))
		}
		return
	}

	payload["user_id"] = origin.UserID
	payload["session_id"] = origin.SessionID
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	_ = observability.PublishEvent(ctx, "chat_events."+name, observability.NewEnvelope("chat_events", name, payload), observability.BuildHeaders(origin.RequestID, traceID))
}
