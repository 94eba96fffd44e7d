package session

import (
	"sync"
	"time"
)

// Role values used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore keeps an ordered message list per session id. Lists outlive
// the connections that produced them so a client reconnecting with the same
// id resumes its conversation.
type HistoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	max      int
}

// NewHistoryStore returns an empty store. When limit is positive each session
// keeps only its most recent limit messages.
func NewHistoryStore(limit int) *HistoryStore {
	if limit < 0 {
		limit = 0
	}
	return &HistoryStore{
		sessions: make(map[string][]Message),
		max:      limit,
	}
}

// Append adds msg to the end of the session's history.
func (h *HistoryStore) Append(sessionID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := append(h.sessions[sessionID], msg)
	if h.max > 0 && len(msgs) > h.max {
		msgs = append([]Message(nil), msgs[len(msgs)-h.max:]...)
	}
	h.sessions[sessionID] = msgs
}

// Get returns a copy of the session's history, oldest first.
func (h *HistoryStore) Get(sessionID string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := h.sessions[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops the session's history. Clearing an unknown session is a no-op.
func (h *HistoryStore) Clear(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// Len returns the number of stored messages for the session.
func (h *HistoryStore) Len(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
