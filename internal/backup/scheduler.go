// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package backup

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// RunWithContext takes scheduled snapshots until ctx is cancelled, then
// takes a final one when OnShutdown is set.
func (m *Manager) RunWithContext(ctx context.Context) error {
	if m.cfg.Interval <= 0 {
		<-ctx.Done()
		return m.finish(ctx)
	}

	next := m.nextRun(m.now())
	logging.Info().Time("next", next).Dur("interval", m.cfg.Interval).Msg("Storage snapshots scheduled")

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return m.finish(ctx)
		case <-timer.C:
			if _, err := m.Create(ctx, TriggerScheduled); err != nil && !errors.Is(err, ErrInProgress) {
				logging.Warn().Err(err).Msg("Scheduled snapshot failed; retrying at the next slot")
			}
			next = m.nextRun(m.now())
			timer.Reset(time.Until(next))
		}
	}
}

func (m *Manager) finish(ctx context.Context) error {
	if m.cfg.OnShutdown {
		if _, err := m.Create(context.WithoutCancel(ctx), TriggerShutdown); err != nil {
			logging.Warn().Err(err).Msg("Shutdown snapshot failed")
		}
	}
	return ctx.Err()
}

// nextRun returns when the next scheduled snapshot is due. Daily or longer
// intervals are anchored to PreferredHour (UTC).
func (m *Manager) nextRun(now time.Time) time.Time {
	m.mu.RLock()
	last := m.meta.LastRun
	m.mu.RUnlock()

	if m.cfg.Interval < 24*time.Hour || m.cfg.PreferredHour < 0 {
		if last == nil {
			return now.Add(m.cfg.Interval)
		}
		next := last.Add(m.cfg.Interval)
		if next.Before(now) {
			return now
		}
		return next
	}

	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), m.cfg.PreferredHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	if last != nil {
		for next.Sub(*last) < m.cfg.Interval-time.Hour {
			next = next.Add(24 * time.Hour)
		}
	}
	return next
}
