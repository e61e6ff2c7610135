// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage
const (
	sessionKeyPrefix          = "session:"
	sessionPrincipalKeyPrefix = "session_principal:"
)

// minSessionTTL keeps records of already expired tokens around briefly so a
// late Invalidate still finds them.
const minSessionTTL = time.Minute

// BadgerStore implements Store using BadgerDB. Entries carry a TTL equal to
// the remaining session lifetime, so revoked sessions vanish on their own
// once their tokens can no longer be presented.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed session store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func principalKey(principalID, sessionID string) []byte {
	return []byte(sessionPrincipalKeyPrefix + principalID + ":" + sessionID)
}

func sessionTTL(s *Session) time.Duration {
	ttl := time.Until(s.ExpiresAt)
	if ttl < minSessionTTL {
		return minSessionTTL
	}
	return ttl
}

// Register implements Store.
func (s *BadgerStore) Register(_ context.Context, session *Session) error {
	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := getSession(txn, session.ID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		if existing != nil {
			if existing.Revoked() {
				return ErrSessionRevoked
			}
			if !existing.IsExpired() {
				return nil
			}
		}
		return putSession(txn, session)
	})
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, sessionID string) (*Session, error) {
	var session *Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = getSession(txn, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return check(session)
}

// Invalidate implements Store.
func (s *BadgerStore) Invalidate(_ context.Context, sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		session, err := getSession(txn, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !revoke(session, time.Now()) {
			return nil
		}
		return putSession(txn, session)
	})
}

// SignOut implements Store.
func (s *BadgerStore) SignOut(_ context.Context, principalID string) (int, error) {
	count := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)

		var ids []string
		prefix := []byte(sessionPrincipalKeyPrefix + principalID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		now := time.Now()
		for _, id := range ids {
			session, err := getSession(txn, id)
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !revoke(session, now) {
				continue
			}
			if err := putSession(txn, session); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sign out %s: %w", principalID, err)
	}
	return count, nil
}

func getSession(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	}); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func putSession(txn *badger.Txn, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := sessionTTL(session)
	if err := txn.SetEntry(badger.NewEntry(sessionKey(session.ID), data).WithTTL(ttl)); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	entry := badger.NewEntry(principalKey(session.PrincipalID, session.ID), []byte(session.ID)).WithTTL(ttl)
	if err := txn.SetEntry(entry); err != nil {
		return fmt.Errorf("set principal mapping: %w", err)
	}
	return nil
}
