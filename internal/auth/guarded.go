// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/thesisguard/internal/breaker"
)

// DefaultCallTimeout bounds a single call to the backing store.
const DefaultCallTimeout = 3 * time.Second

// GuardedStore wraps a Store with a per-call timeout and a circuit breaker.
// Lookup misses (not found, expired, revoked) count as successes.
type GuardedStore struct {
	next    Store
	breaker *breaker.Breaker
	timeout time.Duration
}

// NewGuardedStore wraps next. A zero timeout uses DefaultCallTimeout.
func NewGuardedStore(next Store, b *breaker.Breaker, timeout time.Duration) *GuardedStore {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if b == nil {
		b = breaker.New("auth-store", breaker.DefaultSettings())
	}
	return &GuardedStore{next: next, breaker: b, timeout: timeout}
}

func lookupMiss(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked)
}

func (g *GuardedStore) call(ctx context.Context, fn func(context.Context) error) error {
	var miss error
	err := g.breaker.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := fn(callCtx)
		if lookupMiss(err) {
			miss = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return miss
}

// Register implements Store.
func (g *GuardedStore) Register(ctx context.Context, session *Session) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Register(ctx, session)
	})
}

// Get implements Store.
func (g *GuardedStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var session *Session
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		session, err = g.next.Get(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Invalidate implements Store.
func (g *GuardedStore) Invalidate(ctx context.Context, sessionID string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Invalidate(ctx, sessionID)
	})
}

// SignOut implements Store.
func (g *GuardedStore) SignOut(ctx context.Context, principalID string) (int, error) {
	var n int
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.next.SignOut(ctx, principalID)
		return err
	})
	return n, err
}
