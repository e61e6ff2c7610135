// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package audit

import (
	"context"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// Retention periodically deletes events older than the retention period
// from a queryable Store.
type Retention struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
}

// NewRetention creates a retention service.
func NewRetention(store Store, maxAge, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Retention{store: store, maxAge: maxAge, interval: interval}
}

// Serve implements suture.Service.
func (r *Retention) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := r.store.Delete(ctx, time.Now().Add(-r.maxAge))
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// String implements fmt.Stringer.
func (r *Retention) String() string {
	return "audit-retention"
}
