// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package backup

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// Prune removes snapshots outside the retention policy and returns how
// many were removed. The MinCount newest snapshots always survive.
func (m *Manager) Prune() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy := m.cfg.Retention
	snaps := make([]Snapshot, len(m.meta.Snapshots))
	copy(snaps, m.meta.Snapshots)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })

	now := m.now()
	var keep, drop []Snapshot
	for i, s := range snaps {
		switch {
		case i < policy.MinCount:
			keep = append(keep, s)
		case policy.MaxAge > 0 && now.Sub(s.CreatedAt) > policy.MaxAge:
			drop = append(drop, s)
		case policy.MaxCount > 0 && len(keep) >= policy.MaxCount:
			drop = append(drop, s)
		default:
			keep = append(keep, s)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, s := range drop {
		err := os.Remove(filepath.Join(m.cfg.Dir, s.File))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			keep = append(keep, s)
			continue
		}
		removed++
		logging.Debug().Str("id", s.ID).Time("created_at", s.CreatedAt).Msg("Snapshot removed by retention")
	}

	m.meta.Snapshots = keep
	if err := m.saveMetadataLocked(); err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}
