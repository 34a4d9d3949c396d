package chat

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"social-chat/internal/models"
)

const messageTimeLayout = "3:04 PM"

// profileOf returns the stored profile or a stub carrying only the id.
func profileOf(profiles map[string]models.UserProfile, userID string) models.UserProfile {
	if p, ok := profiles[userID]; ok {
		return p
	}
	return models.UserProfile{ID: userID}
}

// formatMessage builds the client shape of msg. reply is the message msg
// replies to, or nil when there is none or it no longer exists.
func (s *Service) formatMessage(msg models.Message, reply *models.Message, profiles map[string]models.UserProfile) models.FormattedMessage {
	media := msg.Media
	if media == nil {
		media = []models.Media{}
	}
	out := models.FormattedMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         profileOf(profiles, msg.SenderID),
		Type:           msg.Type,
		ContentType:    msg.ContentType,
		Content:        msg.Content,
		Media:          media,
		Details:        msg.Details,
		CreatedAt:      msg.CreatedAt.In(s.loc).Format(messageTimeLayout),
		SentAt:         msg.CreatedAt,
	}
	if reply != nil {
		sender := profileOf(profiles, reply.SenderID)
		out.ReplyRef = &models.ReplyView{
			ID:          reply.ID,
			Sender:      &sender,
			ContentType: reply.ContentType,
			Content:     reply.Content,
			Media:       quotedMedia(reply.Media, msg.Details),
			CreatedAt:   reply.CreatedAt,
		}
	}
	return out
}

// quotedMedia returns the attachment of the replied message that details points at.
func quotedMedia(media []models.Media, details *models.MessageDetails) []models.Media {
	out := []models.Media{}
	if details == nil || details.MediaID == "" {
		return out
	}
	for _, m := range media {
		if m.ID == details.MediaID {
			out = append(out, m)
		}
	}
	return out
}

// format loads the profiles and reply target needed to format a single message.
func (s *Service) format(ctx context.Context, msg models.Message, reply *models.Message) (models.FormattedMessage, error) {
	ids := []string{msg.SenderID}
	if reply != nil {
		ids = append(ids, reply.SenderID)
	}
	profiles, err := s.users.GetProfiles(ctx, ids)
	if err != nil {
		return models.FormattedMessage{}, storeError("load profiles", err)
	}
	return s.formatMessage(msg, reply, profiles), nil
}

// relativeTime renders the distance between t and now without a suffix, e.g. "3 minutes".
func relativeTime(t, now time.Time) string {
	return strings.TrimSpace(humanize.RelTime(t, now, "", ""))
}

// viewsFor computes the projection of conv for every participant.
func (s *Service) viewsFor(ctx context.Context, conv models.Conversation) (map[string]models.ConversationView, error) {
	var last *models.Message
	if conv.LastMessageID != nil {
		msg, err := s.messages.GetMessage(ctx, *conv.LastMessageID)
		if err != nil {
			return nil, storeError("load last message", err)
		}
		last = &msg
	}

	ids := append([]string{}, conv.Participants...)
	if last != nil {
		for _, r := range last.ReadBy {
			ids = append(ids, r.UserID)
		}
	}
	profiles, err := s.users.GetProfiles(ctx, unique(ids))
	if err != nil {
		return nil, storeError("load profiles", err)
	}

	now := s.now()
	views := make(map[string]models.ConversationView, len(conv.Participants))
	for _, viewer := range conv.Participants {
		unread, err := s.conversations.CountUnread(ctx, conv.ID, viewer)
		if err != nil {
			return nil, storeError("count unread", err)
		}
		views[viewer] = project(conv, viewer, last, profiles, unread, now)
	}
	return views, nil
}

// viewFor computes the projection of conv for a single viewer.
func (s *Service) viewFor(ctx context.Context, conv models.Conversation, viewer string) (models.ConversationView, error) {
	views, err := s.viewsFor(ctx, conv)
	if err != nil {
		return models.ConversationView{}, err
	}
	view, ok := views[viewer]
	if !ok {
		return models.ConversationView{}, forbidden("not a participant")
	}
	return view, nil
}

func project(conv models.Conversation, viewer string, last *models.Message, profiles map[string]models.UserProfile, unread int, now time.Time) models.ConversationView {
	view := models.ConversationView{
		ID:           conv.ID,
		IsGroup:      conv.IsGroup,
		GroupName:    conv.GroupName,
		GroupAvatar:  conv.GroupAvatar,
		Participants: []models.UserProfile{},
		UnreadCount:  unread,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, id := range conv.Participants {
		if id == viewer {
			continue
		}
		view.Participants = append(view.Participants, profileOf(profiles, id))
	}
	if !conv.IsGroup && len(view.Participants) > 0 {
		receiver := view.Participants[0]
		view.Receiver = &receiver
	}
	if last != nil {
		readBy := make([]models.ReadByView, 0, len(last.ReadBy))
		for _, r := range last.ReadBy {
			p := profileOf(profiles, r.UserID)
			readBy = append(readBy, models.ReadByView{User: &p, ReadAt: r.ReadAt})
		}
		view.LastMessage = &models.LastMessageView{
			ID:                 last.ID,
			SenderID:           last.SenderID,
			Type:               last.Type,
			ContentType:        last.ContentType,
			Content:            last.Content,
			ReadBy:             readBy,
			CreatedAt:          last.CreatedAt,
			FormattedCreatedAt: relativeTime(last.CreatedAt, now),
		}
	}
	return view
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
