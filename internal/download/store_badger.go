// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package download

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
	grantKeyPrefix   = "grant:"
	grantIndexPrefix = "grant_index:"
)

// expiredRetention keeps expired grants readable for a while so Validate
// can answer grant_expired instead of no_grant.
const expiredRetention = 7 * 24 * time.Hour

// maxConflictRetries bounds retries of a Consume transaction that lost a
// write conflict to a concurrent Consume.
const maxConflictRetries = 16

// BadgerStore implements Store on BadgerDB. Consume runs in a read-write
// transaction, so Badger's conflict detection serializes concurrent
// consumptions of one permission.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store on db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func indexKey(principalID, documentID, id string) []byte {
	return []byte(grantIndexPrefix + principalID + ":" + documentID + ":" + id)
}

func grantTTL(p *models.DownloadPermission) time.Duration {
	ttl := time.Until(p.ExpiresAt) + expiredRetention
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func getGrant(txn *badger.Txn, id string) (*models.DownloadPermission, error) {
	item, err := txn.Get([]byte(grantKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	var p models.DownloadPermission
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("decode grant: %w", err)
	}
	return &p, nil
}

func putGrant(txn *badger.Txn, p *models.DownloadPermission) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	if err := txn.SetEntry(badger.NewEntry([]byte(grantKeyPrefix+p.ID), data).WithTTL(grantTTL(p))); err != nil {
		return fmt.Errorf("set grant: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *BadgerStore) Create(_ context.Context, p *models.DownloadPermission) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := putGrant(txn, p); err != nil {
			return err
		}
		entry := badger.NewEntry(indexKey(p.PrincipalID, p.DocumentID, p.ID), []byte(p.ID)).WithTTL(grantTTL(p))
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set grant index: %w", err)
		}
		return nil
	})
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (*models.DownloadPermission, error) {
	var p *models.DownloadPermission
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getGrant(txn, id)
		return err
	})
	return p, err
}

// Find implements Store.
func (s *BadgerStore) Find(_ context.Context, principalID, documentID string) ([]models.DownloadPermission, error) {
	var out []models.DownloadPermission
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var ids []string
		prefix := []byte(grantIndexPrefix + principalID + ":" + documentID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read grant index: %w", err)
			}
			ids = append(ids, string(id))
		}

		for _, id := range ids {
			p, err := getGrant(txn, id)
			if errors.Is(err, ErrGrantNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(out)
	return out, nil
}

// Consume implements Store.
func (s *BadgerStore) Consume(ctx context.Context, id, owner string, now time.Time) (*models.DownloadPermission, error) {
	for attempt := 0; ; attempt++ {
		var p *models.DownloadPermission
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			p, err = getGrant(txn, id)
			if err != nil {
				return err
			}
			if err := consume(p, owner, now); err != nil {
				return err
			}
			return putGrant(txn, p)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
