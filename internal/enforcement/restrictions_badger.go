// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	restrictionKeyPrefix   = "restriction:"
	restrictionIDKeyPrefix = "restriction_id:"
)

// BadgerRestrictionStore implements RestrictionStore on BadgerDB. Every entry
// carries a TTL matching the record's expiry, so Badger drops expired
// restrictions during compaction.
type BadgerRestrictionStore struct {
	db *badger.DB
}

// NewBadgerRestrictionStore creates a store on db.
func NewBadgerRestrictionStore(db *badger.DB) *BadgerRestrictionStore {
	return &BadgerRestrictionStore{db: db}
}

func getRestriction(txn *badger.Txn, key []byte) (*models.Restriction, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get restriction: %w", err)
	}
	var r models.Restriction
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, fmt.Errorf("decode restriction: %w", err)
	}
	return &r, nil
}

// Put implements RestrictionStore.
func (s *BadgerRestrictionStore) Put(_ context.Context, r *models.Restriction) (*models.Restriction, error) {
	result := r
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(restrictionKeyPrefix + restrictionKey(r.Scope, r.Subject))
		existing, err := getRestriction(txn, key)
		if err != nil {
			return err
		}
		if keep(existing, r, r.CreatedAt) {
			result = existing
			return nil
		}
		if existing != nil {
			if err := txn.Delete([]byte(restrictionIDKeyPrefix + existing.ID)); err != nil {
				return fmt.Errorf("delete old id index: %w", err)
			}
		}

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal restriction: %w", err)
		}
		ttl := time.Until(r.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
		if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl)); err != nil {
			return fmt.Errorf("set restriction: %w", err)
		}
		idEntry := badger.NewEntry([]byte(restrictionIDKeyPrefix+r.ID), key).WithTTL(ttl)
		if err := txn.SetEntry(idEntry); err != nil {
			return fmt.Errorf("set id index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Active implements RestrictionStore.
func (s *BadgerRestrictionStore) Active(_ context.Context, scope models.Scope, subject string, now time.Time) (*models.Restriction, error) {
	var r *models.Restriction
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRestriction(txn, []byte(restrictionKeyPrefix+restrictionKey(scope, subject)))
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Active(now) {
		return nil, nil
	}
	return r, nil
}

// Lift implements RestrictionStore.
func (s *BadgerRestrictionStore) Lift(_ context.Context, id string) (bool, error) {
	lifted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(restrictionIDKeyPrefix + id)
		item, err := txn.Get(idKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get id index: %w", err)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read id index: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete restriction: %w", err)
		}
		if err := txn.Delete(idKey); err != nil {
			return fmt.Errorf("delete id index: %w", err)
		}
		lifted = true
		return nil
	})
	return lifted, err
}

// List implements RestrictionStore.
func (s *BadgerRestrictionStore) List(_ context.Context, now time.Time) ([]models.Restriction, error) {
	var out []models.Restriction
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(restrictionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r models.Restriction
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode restriction: %w", err)
			}
			if r.Active(now) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByExpiry(out)
	return out, nil
}
