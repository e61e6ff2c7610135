// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package auth adapts the external authentication backend.
//
// Thesisguard does not issue credentials. It sees sessions through bearer
// tokens minted by the identity provider and keeps a local registry of the
// sessions it has observed so that a terminated session stays revoked for
// the remainder of its token lifetime. Store implementations must make
// Invalidate and SignOut idempotent.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
)

// Session is one authenticated session as seen by this service.
type Session struct {
	ID          string      `json:"id"`
	PrincipalID string      `json:"principal_id"`
	Role        models.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Revoked reports whether the session was invalidated.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Principal returns the principal owning the session.
func (s *Session) Principal() models.Principal {
	return models.Principal{ID: s.PrincipalID, Role: s.Role}
}

// Store is the session contract the enforcement core relies on.
type Store interface {
	// Register records a session the first time it is seen. Registering a
	// revoked session returns ErrSessionRevoked.
	Register(ctx context.Context, session *Session) error

	// Get returns a live session, or ErrSessionNotFound, ErrSessionExpired
	// or ErrSessionRevoked.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Invalidate revokes one session. Unknown or already revoked sessions
	// are not an error.
	Invalidate(ctx context.Context, sessionID string) error

	// SignOut revokes every session of a principal and returns how many
	// were newly revoked.
	SignOut(ctx context.Context, principalID string) (int, error)
}

// revoke marks s revoked at now, keeping the record until it expires so a
// replayed token is still refused.
func revoke(s *Session, now time.Time) bool {
	if s.Revoked() {
		return false
	}
	s.RevokedAt = &now
	return true
}

// check turns a stored session into the Get result.
func check(s *Session) (*Session, error) {
	if s.Revoked() {
		return nil, ErrSessionRevoked
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return s, nil
}
