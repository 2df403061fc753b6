package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/voicebridge/internal/conversation"
)

// Manager is an in-memory registry of sessions. Sessions do not survive a
// restart.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
}

func NewManager(idleTTL time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
	}
}

// Create starts a session. A non-empty systemPrompt seeds one system turn.
func (m *Manager) Create(owner, systemPrompt string) *Session {
	h := conversation.NewHistory()
	if systemPrompt != "" {
		h.Append(conversation.RoleSystem, systemPrompt)
	}
	s := newSession(uuid.New().String(), owner, h)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	slog.Info("session created", "session_id", s.ID)
	return s
}

// Get returns the session if it exists and owner matches. An empty owner
// on both sides means auth is disabled.
func (m *Manager) Get(id, owner string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Owner != owner {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Delete(id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Owner != owner {
		return ErrNotFound
	}
	delete(m.sessions, id)
	slog.Info("session deleted", "session_id", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict removes sessions idle since before cutoff. Sessions with a run in
// flight are kept.
func (m *Manager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Busy() || s.idleSince().After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		n++
	}
	return n
}

// Run evicts idle sessions periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	interval := m.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Evict(now.Add(-m.idleTTL)); n > 0 {
				slog.Info("evicted idle sessions", "count", n)
			}
		}
	}
}
