package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-chat/internal/models"
	"social-chat/internal/repositories"
)

// memStore is an in-memory implementation of the conversation, message and user repositories.
type memStore struct {
	mu        sync.Mutex
	convs     map[string]models.Conversation
	direct    map[string]string
	msgs      map[string]models.Message
	order     []string
	reads     map[string][]models.ReadReceipt
	deletions map[string]map[string]bool
	reactions map[string]map[string]string
	profiles  map[string]models.UserProfile
	clock     time.Time
	seq       int
}

var (
	_ repositories.ConversationRepository = (*memStore)(nil)
	_ repositories.MessageRepository      = (*memStore)(nil)
	_ repositories.UserRepository         = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		convs:     map[string]models.Conversation{},
		direct:    map[string]string{},
		msgs:      map[string]models.Message{},
		reads:     map[string][]models.ReadReceipt{},
		deletions: map[string]map[string]bool{},
		reactions: map[string]map[string]string{},
		profiles:  map[string]models.UserProfile{},
		clock:     time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC),
	}
}

func (m *memStore) addUser(id, name string) {
	m.profiles[id] = models.UserProfile{ID: id, UserName: name, Name: name}
}

func (m *memStore) addConversation(id string, participants ...string) {
	m.convs[id] = models.Conversation{
		ID:           id,
		Participants: participants,
		CreatedAt:    m.clock,
		UpdatedAt:    m.clock,
	}
}

func (m *memStore) tick() time.Time {
	m.seq++
	return m.clock.Add(time.Duration(m.seq) * time.Minute)
}

func (m *memStore) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	conv.Participants = append([]string{}, conv.Participants...)
	return conv, nil
}

func (m *memStore) FindOrCreateDirect(ctx context.Context, userID, otherID string) (models.Conversation, error) {
	m.mu.Lock()
	key := models.DirectKey(userID, otherID)
	id, ok := m.direct[key]
	if !ok {
		m.seq++
		id = fmt.Sprintf("dm%d", m.seq)
		m.direct[key] = id
		m.convs[id] = models.Conversation{ID: id, Participants: []string{userID, otherID}, CreatedAt: m.clock, UpdatedAt: m.clock}
	}
	m.mu.Unlock()
	return m.GetConversation(ctx, id)
}

func (m *memStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, conv := range m.convs {
		if conv.LastMessageID != nil && conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return []models.Conversation{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountUnread(_ context.Context, conversationID, viewerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.order {
		msg := m.msgs[id]
		if msg.ConversationID != conversationID || msg.SenderID == viewerID {
			continue
		}
		if !m.readBy(id, viewerID) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) readBy(messageID, userID string) bool {
	for _, r := range m.reads[messageID] {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m *memStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[msg.ConversationID]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	at := m.tick()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", m.seq)
	}
	msg.CreatedAt, msg.UpdatedAt = at, at
	media := make([]models.Media, len(msg.Media))
	for i, item := range msg.Media {
		item.ID = fmt.Sprintf("%s-media-%d", msg.ID, i)
		item.MessageID = msg.ID
		media[i] = item
	}
	msg.Media = media
	m.msgs[msg.ID] = msg
	m.order = append(m.order, msg.ID)

	id := msg.ID
	conv.LastMessageID = &id
	conv.UpdatedAt = at
	m.convs[conv.ID] = conv
	return msg, nil
}

func (m *memStore) hydrated(id string) (models.Message, bool) {
	msg, ok := m.msgs[id]
	if !ok {
		return models.Message{}, false
	}
	msg.Media = append([]models.Media{}, msg.Media...)
	msg.ReadBy = append([]models.ReadReceipt(nil), m.reads[id]...)
	msg.Reactions = nil
	users := make([]string, 0, len(m.reactions[id]))
	for user := range m.reactions[id] {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		msg.Reactions = append(msg.Reactions, models.Reaction{MessageID: id, UserID: user, Emoji: m.reactions[id][user]})
	}
	msg.DeletedFor = nil
	for user := range m.deletions[id] {
		msg.DeletedFor = append(msg.DeletedFor, user)
	}
	return msg, true
}

func (m *memStore) GetMessage(_ context.Context, id string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.hydrated(id)
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (m *memStore) ListForViewer(_ context.Context, conversationID, viewerID string, limit, offset int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		if m.msgs[id].ConversationID != conversationID || m.deletions[id][viewerID] {
			continue
		}
		msg, _ := m.hydrated(id)
		out = append(out, msg)
	}
	if offset >= len(out) {
		return []models.Message{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteForUser(_ context.Context, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	if m.deletions[messageID] == nil {
		m.deletions[messageID] = map[string]bool{}
	}
	m.deletions[messageID][userID] = true
	return nil
}

func (m *memStore) Unsend(_ context.Context, messageID string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.hydrated(messageID)
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	delete(m.msgs, messageID)
	delete(m.reads, messageID)
	delete(m.deletions, messageID)
	delete(m.reactions, messageID)
	for i, id := range m.order {
		if id == messageID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	conv := m.convs[msg.ConversationID]
	if conv.LastMessageID != nil && *conv.LastMessageID == messageID {
		conv.LastMessageID = nil
		for i := len(m.order) - 1; i >= 0; i-- {
			if m.msgs[m.order[i]].ConversationID == conv.ID {
				id := m.order[i]
				conv.LastMessageID = &id
				break
			}
		}
		m.convs[conv.ID] = conv
	}
	return msg, nil
}

func (m *memStore) MarkRead(_ context.Context, conversationID, viewerID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marked int64
	for _, id := range m.order {
		msg := m.msgs[id]
		if msg.ConversationID != conversationID || msg.SenderID == viewerID || m.readBy(id, viewerID) {
			continue
		}
		m.reads[id] = append(m.reads[id], models.ReadReceipt{MessageID: id, UserID: viewerID, ReadAt: at})
		marked++
	}
	return marked, nil
}

func (m *memStore) SetReaction(_ context.Context, messageID, userID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	if emoji == "" {
		delete(m.reactions[messageID], userID)
		return nil
	}
	if m.reactions[messageID] == nil {
		m.reactions[messageID] = map[string]string{}
	}
	m.reactions[messageID][userID] = emoji
	return nil
}

func (m *memStore) GetProfiles(_ context.Context, ids []string) (map[string]models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.UserProfile{}
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type emitted struct {
	Session string
	Op      string
	Payload any
}

// recordingFanout captures emitted events instead of writing to sockets.
type recordingFanout struct {
	mu       sync.Mutex
	sessions map[string][]string
	events   []emitted
}

func newRecordingFanout() *recordingFanout {
	return &recordingFanout{sessions: map[string][]string{}}
}

func (f *recordingFanout) connect(userID string, sessions ...string) {
	f.sessions[userID] = append(f.sessions[userID], sessions...)
}

func (f *recordingFanout) SessionsFor(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sessions[userID]...)
}

func (f *recordingFanout) Emit(sessionID, op string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Session: sessionID, Op: op, Payload: payload})
	return true
}

func (f *recordingFanout) byOp(op string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}

func (f *recordingFanout) sessionsFor(op string) []string {
	var out []string
	for _, e := range f.byOp(op) {
		out = append(out, e.Session)
	}
	sort.Strings(out)
	return out
}

func (f *recordingFanout) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// lastView returns the most recent chat list projection delivered to a session.
func (f *recordingFanout) lastView(session string) (models.ConversationView, bool) {
	events := f.byOp(OpChatListUpdated)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Session == session {
			return events[i].Payload.(models.ConversationView), true
		}
	}
	return models.ConversationView{}, false
}

// recordingRemover treats "/assets/<user>/..." as that user's uploads.
type recordingRemover struct {
	mu      sync.Mutex
	removed []models.Media
	owners  []string
	err     error
	// block, when set, holds Remove until it is closed.
	block chan struct{}
}

func (r *recordingRemover) Owns(ownerID string, item models.Media) bool {
	return ownerID != "" && strings.HasPrefix(item.URL, "/assets/"+ownerID+"/")
}

func (r *recordingRemover) Remove(_ context.Context, ownerID string, items []models.Media) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	r.removed = append(r.removed, items...)
	return r.err
}

func (r *recordingRemover) snapshot() ([]string, []models.Media) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.owners...), append([]models.Media(nil), r.removed...)
}

type fixture struct {
	store   *memStore
	fanout  *recordingFanout
	remover *recordingRemover
	svc     *Service
}

// newFixture wires u1 (sessions s1, s2) and u2 (sessions s3, s4) into conversation c1.
func newFixture() *fixture {
	store := newMemStore()
	store.addUser("u1", "alice")
	store.addUser("u2", "bob")
	store.addUser("u3", "carol")
	store.addConversation("c1", "u1", "u2")

	fanout := newRecordingFanout()
	fanout.connect("u1", "s1", "s2")
	fanout.connect("u2", "s3", "s4")

	remover := &recordingRemover{}
	svc := NewService(store, store, store, fanout, remover, nil, zap.NewNop())
	svc.loc = time.UTC
	svc.now = func() time.Time { return store.clock.Add(2 * time.Hour) }
	return &fixture{store: store, fanout: fanout, remover: remover, svc: svc}
}

func text(s string) *string { return &s }

func (f *fixture) send(userID, session, conversationID, content string) models.FormattedMessage {
	out, err := f.svc.SendMessage(context.Background(), Origin{UserID: userID, SessionID: session}, SendInput{
		ConversationID: conversationID,
		ContentType:    models.ContentTypeText,
		Content:        text(content),
	})
	if err != nil {
		panic(err)
	}
	return out
}

func (f *fixture) unread(conversationID, viewer string) int {
	n, _ := f.store.CountUnread(context.Background(), conversationID, viewer)
	return n
}
