// ABOUTME: Thread-safe set of logged-in transports keyed by session ID
// ABOUTME: Lets shared components route admin checks and sends to the right session

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownSession indicates no transport is attached for a session ID.
var ErrUnknownSession = errors.New("unknown session")

// Sessions maps session IDs to their transports.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]Transport
}

// NewSessions creates an empty session set.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]Transport)}
}

// Add attaches a transport under sessionID, replacing any previous one.
func (s *Sessions) Add(sessionID string, t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = t
}

// Remove detaches a session.
func (s *Sessions) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Get returns the transport for a session.
func (s *Sessions) Get(sessionID string) (Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return t, nil
}

// Len returns the number of attached sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IsGroupAdmin asks the session's transport whether userID administers groupID.
func (s *Sessions) IsGroupAdmin(ctx context.Context, sessionID, groupID, userID string) (bool, error) {
	t, err := s.Get(sessionID)
	if err != nil {
		return false, err
	}
	return t.IsGroupAdmin(ctx, groupID, userID)
}

// IsBotAdmin asks the session's transport whether its own account administers groupID.
func (s *Sessions) IsBotAdmin(ctx context.Context, sessionID, groupID string) (bool, error) {
	t, err := s.Get(sessionID)
	if err != nil {
		return false, err
	}
	return t.IsBotAdmin(ctx, groupID)
}
