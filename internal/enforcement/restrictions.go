// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
)

// RestrictionStore persists restriction and block records. There is at most
// one record per (scope, subject); a new record replaces an older one only
// if it lasts longer.
type RestrictionStore interface {
	// Put stores r and returns the record in force afterwards.
	Put(ctx context.Context, r *models.Restriction) (*models.Restriction, error)

	// Active returns the record for (scope, subject) in force at now, or nil.
	Active(ctx context.Context, scope models.Scope, subject string, now time.Time) (*models.Restriction, error)

	// Lift removes a record by ID. It reports whether a record was removed.
	Lift(ctx context.Context, id string) (bool, error)

	// List returns every record in force at now, soonest expiry first.
	List(ctx context.Context, now time.Time) ([]models.Restriction, error)
}

func restrictionKey(scope models.Scope, subject string) string {
	return string(scope) + ":" + subject
}

// keep reports whether existing should stay instead of candidate.
func keep(existing, candidate *models.Restriction, now time.Time) bool {
	return existing != nil && existing.Active(now) && !existing.ExpiresAt.Before(candidate.ExpiresAt)
}

func sortByExpiry(out []models.Restriction) {
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
}

// MemoryRestrictionStore implements RestrictionStore in memory.
type MemoryRestrictionStore struct {
	mu        sync.RWMutex
	bySubject map[string]*models.Restriction
	byID      map[string]string
}

// NewMemoryRestrictionStore creates an empty store.
func NewMemoryRestrictionStore() *MemoryRestrictionStore {
	return &MemoryRestrictionStore{
		bySubject: make(map[string]*models.Restriction),
		byID:      make(map[string]string),
	}
}

// Put implements RestrictionStore.
func (s *MemoryRestrictionStore) Put(_ context.Context, r *models.Restriction) (*models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := restrictionKey(r.Scope, r.Subject)
	existing := s.bySubject[key]
	if keep(existing, r, r.CreatedAt) {
		cp := *existing
		return &cp, nil
	}
	if existing != nil {
		delete(s.byID, existing.ID)
	}
	stored := *r
	s.bySubject[key] = &stored
	s.byID[r.ID] = key
	return r, nil
}

// Active implements RestrictionStore.
func (s *MemoryRestrictionStore) Active(_ context.Context, scope models.Scope, subject string, now time.Time) (*models.Restriction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySubject[restrictionKey(scope, subject)]
	if !ok || !r.Active(now) {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// Lift implements RestrictionStore.
func (s *MemoryRestrictionStore) Lift(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)
	delete(s.bySubject, key)
	return true, nil
}

// List implements RestrictionStore. Expired records are pruned.
func (s *MemoryRestrictionStore) List(_ context.Context, now time.Time) ([]models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Restriction, 0, len(s.bySubject))
	for key, r := range s.bySubject {
		if !r.Active(now) {
			delete(s.bySubject, key)
			delete(s.byID, r.ID)
			continue
		}
		out = append(out, *r)
	}
	sortByExpiry(out)
	return out, nil
}
