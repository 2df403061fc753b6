// Package session owns conversation histories between runs and enforces
// one in-flight run per session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nikhilbhutani/voicebridge/internal/conversation"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session has a run in flight")
)

type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	slot chan struct{}

	mu       sync.Mutex
	history  *conversation.History
	lastUsed time.Time
}

func newSession(id, owner string, history *conversation.History) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		slot:      make(chan struct{}, 1),
		history:   history,
		lastUsed:  now,
	}
}

// Exclusive runs fn as the session's only writer. If another run holds the
// slot it waits up to wait (zero means do not wait) and then returns ErrBusy.
// fn works on a private copy of the history which is committed back when fn
// returns, whether or not it failed, so turns appended before a failure
// survive.
func (s *Session) Exclusive(ctx context.Context, wait time.Duration, fn func(h *conversation.History) error) error {
	if err := s.acquire(ctx, wait); err != nil {
		return err
	}
	defer func() { <-s.slot }()

	s.mu.Lock()
	working := s.history.Clone()
	s.mu.Unlock()

	err := fn(working)

	s.mu.Lock()
	s.history = working
	s.lastUsed = time.Now()
	s.mu.Unlock()

	return err
}

func (s *Session) acquire(ctx context.Context, wait time.Duration) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	default:
	}
	if wait <= 0 {
		return ErrBusy
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the last committed history. It never blocks on
// an in-flight run.
func (s *Session) Snapshot() *conversation.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Clone()
}

// Busy reports whether a run currently holds the slot.
func (s *Session) Busy() bool {
	return len(s.slot) > 0
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
