// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/thesisguard/internal/breaker"
	"github.com/tomtom215/thesisguard/internal/models"
)

func createTestBadgerDB(t *testing.T) *badger.DB {
	t.Helper()

	dir, err := os.MkdirTemp("", "auth_badger_test")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSession(id, principal string) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		PrincipalID: principal,
		Role:        models.RoleResearcher,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(createTestBadgerDB(t)),
	}
}

func TestStore_RegisterAndGet(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Register(ctx, testSession("s1", "alice")); err != nil {
				t.Fatalf("Register: %v", err)
			}
			got, err := store.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.PrincipalID != "alice" || got.Role != models.RoleResearcher {
				t.Errorf("Get = %+v", got)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestStore_InvalidateIsIdempotent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Register(ctx, testSession("s1", "alice")); err != nil {
				t.Fatalf("Register: %v", err)
			}
			for i := 0; i < 2; i++ {
				if err := store.Invalidate(ctx, "s1"); err != nil {
					t.Fatalf("Invalidate #%d: %v", i+1, err)
				}
			}
			if err := store.Invalidate(ctx, "never-seen"); err != nil {
				t.Errorf("Invalidate(unknown) = %v, want nil", err)
			}
			if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionRevoked) {
				t.Errorf("Get after Invalidate = %v, want ErrSessionRevoked", err)
			}
			if err := store.Register(ctx, testSession("s1", "alice")); !errors.Is(err, ErrSessionRevoked) {
				t.Errorf("Register revoked = %v, want ErrSessionRevoked", err)
			}
		})
	}
}

func TestStore_SignOut(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, s := range []*Session{
				testSession("a1", "alice"),
				testSession("a2", "alice"),
				testSession("b1", "bob"),
			} {
				if err := store.Register(ctx, s); err != nil {
					t.Fatalf("Register: %v", err)
				}
			}

			n, err := store.SignOut(ctx, "alice")
			if err != nil {
				t.Fatalf("SignOut: %v", err)
			}
			if n != 2 {
				t.Errorf("SignOut revoked %d, want 2", n)
			}
			n, err = store.SignOut(ctx, "alice")
			if err != nil || n != 0 {
				t.Errorf("second SignOut = (%d, %v), want (0, nil)", n, err)
			}
			if _, err := store.Get(ctx, "b1"); err != nil {
				t.Errorf("other principal affected: %v", err)
			}
		})
	}
}

func TestStore_ExpiredSession(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession("old", "alice")
			s.ExpiresAt = time.Now().Add(-time.Second)
			if err := store.Register(ctx, s); err != nil {
				t.Fatalf("Register: %v", err)
			}
			if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrSessionExpired) {
				t.Errorf("Get = %v, want ErrSessionExpired", err)
			}
		})
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	old := testSession("old", "alice")
	old.ExpiresAt = time.Now().Add(-time.Minute)
	_ = store.Register(ctx, old)
	_ = store.Register(ctx, testSession("live", "alice"))

	if n := store.Cleanup(); n != 1 {
		t.Errorf("Cleanup = %d, want 1", n)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(old) = %v, want ErrSessionNotFound", err)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Invalidate(context.Context, string) error { return f.err }

func TestGuardedStore_MissesDoNotTrip(t *testing.T) {
	b := breaker.New("auth-test-miss", breaker.Settings{MinRequests: 1, FailureRatio: 0.5, Interval: time.Minute, Timeout: time.Minute})
	g := NewGuardedStore(NewMemoryStore(), b, time.Second)

	for i := 0; i < 5; i++ {
		if _, err := g.Get(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("Get = %v, want ErrSessionNotFound", err)
		}
	}
	if state := b.State(); state != "closed" {
		t.Errorf("breaker state = %s, want closed", state)
	}
}

func TestGuardedStore_FailuresTrip(t *testing.T) {
	b := breaker.New("auth-test-trip", breaker.Settings{MinRequests: 1, FailureRatio: 0.5, Interval: time.Minute, Timeout: time.Minute})
	inner := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("backend down")}
	g := NewGuardedStore(inner, b, time.Second)

	if err := g.Invalidate(context.Background(), "s1"); err == nil {
		t.Fatal("expected failure")
	}
	err := g.Invalidate(context.Background(), "s1")
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("second call = %v, want ErrOpen", err)
	}
}
