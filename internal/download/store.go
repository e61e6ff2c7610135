// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package download

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
)

// ErrGrantNotFound is returned for unknown permission IDs, and for IDs that
// belong to another principal.
var ErrGrantNotFound = errors.New("download permission not found")

// Store persists download permissions. Consume must be atomic: concurrent
// calls on one permission never push DownloadsUsed past DownloadLimit.
type Store interface {
	Create(ctx context.Context, p *models.DownloadPermission) error
	Get(ctx context.Context, id string) (*models.DownloadPermission, error)
	// Find returns every permission for the principal and document.
	Find(ctx context.Context, principalID, documentID string) ([]models.DownloadPermission, error)
	// Consume increments DownloadsUsed. owner, when non-empty, must match
	// the permission's principal.
	Consume(ctx context.Context, id, owner string, now time.Time) (*models.DownloadPermission, error)
}

// consume applies one download to p or returns the denial.
func consume(p *models.DownloadPermission, owner string, now time.Time) error {
	if owner != "" && p.PrincipalID != owner {
		return ErrGrantNotFound
	}
	if p.Expired(now) {
		return models.ErrGrantExpired
	}
	if p.Exhausted() {
		return models.ErrGrantExhausted
	}
	p.DownloadsUsed++
	return nil
}

type findKey struct {
	principalID string
	documentID  string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.Mutex
	grants map[string]*models.DownloadPermission
	index  map[findKey][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[string]*models.DownloadPermission),
		index:  make(map[findKey][]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, p *models.DownloadPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.grants[p.ID] = &cp
	k := findKey{principalID: p.PrincipalID, documentID: p.DocumentID}
	s.index[k] = append(s.index[k], p.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.DownloadPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	cp := *p
	return &cp, nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, principalID, documentID string) ([]models.DownloadPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.index[findKey{principalID: principalID, documentID: documentID}]
	out := make([]models.DownloadPermission, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.grants[id])
	}
	sortByCreated(out)
	return out, nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, id, owner string, now time.Time) (*models.DownloadPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	if err := consume(p, owner, now); err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func sortByCreated(ps []models.DownloadPermission) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
