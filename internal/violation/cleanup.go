// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package violation

import (
	"context"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// CleanupConfig controls age-based counter expiry.
type CleanupConfig struct {
	MaxAge   time.Duration `koanf:"max_age" validate:"min=1m"`
	Interval time.Duration `koanf:"interval" validate:"min=1s"`
}

// DefaultCleanupConfig forgets counters idle for a day, checked hourly.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MaxAge:   24 * time.Hour,
		Interval: time.Hour,
	}
}

// RunCleanup removes idle counters periodically until ctx is cancelled.
func (t *Tracker) RunCleanup(ctx context.Context, cfg CleanupConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCleanupConfig().Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultCleanupConfig().MaxAge
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := t.Cleanup(cfg.MaxAge); n > 0 {
				logging.Info().Int("removed", n).Msg("Expired idle violation counters")
			}
		}
	}
}
