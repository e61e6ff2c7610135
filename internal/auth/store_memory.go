// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Suitable for tests and
// single-instance development runs.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	byPrincipal map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[string]map[string]struct{}),
	}
}

// Register implements Store.
func (s *MemoryStore) Register(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[session.ID]; ok {
		if existing.Revoked() {
			return ErrSessionRevoked
		}
		if !existing.IsExpired() {
			return nil
		}
		s.unlink(existing)
	}

	stored := *session
	s.sessions[session.ID] = &stored
	ids, ok := s.byPrincipal[session.PrincipalID]
	if !ok {
		ids = make(map[string]struct{})
		s.byPrincipal[session.PrincipalID] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return nil, ErrSessionNotFound
	}
	cp := *session
	s.mu.RUnlock()

	return check(&cp)
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		revoke(session, time.Now())
	}
	return nil
}

// SignOut implements Store.
func (s *MemoryStore) SignOut(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for id := range s.byPrincipal[principalID] {
		if session, ok := s.sessions[id]; ok && revoke(session, now) {
			count++
		}
	}
	return count, nil
}

// Cleanup removes sessions past their expiry and returns how many went.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, session := range s.sessions {
		if session.IsExpired() {
			s.unlink(session)
			removed++
		}
	}
	return removed
}

// unlink must be called with mu held.
func (s *MemoryStore) unlink(session *Session) {
	delete(s.sessions, session.ID)
	if ids, ok := s.byPrincipal[session.PrincipalID]; ok {
		delete(ids, session.ID)
		if len(ids) == 0 {
			delete(s.byPrincipal, session.PrincipalID)
		}
	}
}
