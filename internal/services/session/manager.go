// Package session tracks the one pending prompt a user may have with
// the parent bot. Absence of a session means the conversation is idle.
package session

import (
	"errors"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// State names the input the router is waiting for from this user.
type State string

const (
	StateAwaitingToken           State = "awaiting_token"
	StateAwaitingTemplateTitle   State = "awaiting_template_title"
	StateAwaitingTemplateContent State = "awaiting_template_content"
	StateAwaitingBroadcastTarget State = "awaiting_broadcast_target"
	StateAwaitingBroadcastText   State = "awaiting_broadcast_text"
	StateAwaitingScheduleText    State = "awaiting_schedule_text"
	StateAwaitingPrompt          State = "awaiting_prompt"
)

// Session is one user's pending prompt plus the partial input collected
// so far. It is keyed by user ID, never shared across users.
type Session struct {
	UserID    int64
	State     State
	StartedAt time.Time
	Timeout   time.Duration
	Data      map[string]string
}

// Expired reports whether the session outlived its inactivity window.
func (s *Session) Expired() bool {
	return time.Since(s.StartedAt) > s.Timeout
}

func (s *Session) Set(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

func (s *Session) Get(key string) string {
	return s.Data[key]
}

type Manager struct {
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:      ttl,
		sessions: make(map[int64]*Session),
	}
}

// Start opens a session in the given state, replacing any existing one
// for the user.
func (m *Manager) Start(userID int64, state State) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		UserID:    userID,
		State:     state,
		StartedAt: time.Now(),
		Timeout:   m.ttl,
		Data:      make(map[string]string),
	}
	m.sessions[userID] = s
	return s
}

// Get returns the user's live session. Expired sessions are discarded
// on access, so an abandoned prompt silently falls back to idle.
func (m *Manager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	if s.Expired() {
		delete(m.sessions, userID)
		return nil, false
	}
	return s, true
}

// Advance moves the session to the next state and resets the
// inactivity window.
func (m *Manager) Advance(userID int64, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return ErrSessionNotFound
	}
	s.State = next
	s.StartedAt = time.Now()
	return nil
}

// Cancel discards the user's session and any partial input.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok
}

// CleanupExpired sweeps abandoned sessions and returns how many were
// removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, s := range m.sessions {
		if s.Expired() {
			delete(m.sessions, userID)
			removed++
		}
	}
	return removed
}
