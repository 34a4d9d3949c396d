package ws

import (
	"sort"
	"sync"
)

// Registry maps users to their connected session ids. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	owner  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		owner:  make(map[string]string),
	}
}

// Register adds sessionID to userID's sessions. Registering the same pair
// twice is a no-op; a session registered under another user moves.
func (r *Registry) Register(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[sessionID]; ok && prev != userID {
		r.removeLocked(prev, sessionID)
	}
	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]struct{})
		r.byUser[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	r.owner[sessionID] = userID
}

// Unregister removes sessionID from whichever user owns it and returns that user.
// Unknown sessions are ignored.
func (r *Registry) Unregister(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[sessionID]
	if !ok {
		return "", false
	}
	r.removeLocked(userID, sessionID)
	return userID, true
}

func (r *Registry) removeLocked(userID, sessionID string) {
	delete(r.owner, sessionID)
	if sessions, ok := r.byUser[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// SessionsFor returns a sorted snapshot of the user's sessions.
func (r *Registry) SessionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnlineUsers returns the number of users with at least one session.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
