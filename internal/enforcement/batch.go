// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"context"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
)

type queuedAction struct {
	action    models.EnforcementAction
	violation models.Violation
}

// Enqueue hands a non-immediate action to the batch worker. When the queue
// is full the action runs inline instead of being dropped.
func (e *Engine) Enqueue(a models.EnforcementAction, v *models.Violation) {
	select {
	case e.queue <- queuedAction{action: a, violation: *v}:
		metrics.EnforcementQueueDepth.Set(float64(len(e.queue)))
	default:
		logging.Warn().Str("action", string(a.Type)).Str("policy_id", v.PolicyID).
			Msg("Enforcement queue full, executing inline")
		if _, err := e.Execute(context.Background(), a, v); err != nil {
			logging.Error().Err(err).Str("action", string(a.Type)).Msg("Inline enforcement failed")
		}
	}
}

// QueueDepth returns the number of queued actions.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// RunWithContext runs the batch worker until ctx is cancelled, then drains
// the queue. It also expires remembered terminations and refreshes gauges.
func (e *Engine) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(e.config.BatchInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", e.config.BatchInterval).Msg("Enforcement batch worker started")
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case <-ticker.C:
			e.runBatch(ctx)
			e.sweepTerminated()
			e.refreshGauges(ctx)
		}
	}
}

// runBatch executes up to BatchSize queued actions. A call that finds a
// batch already running returns 0 without doing anything.
func (e *Engine) runBatch(ctx context.Context) int {
	if !e.enforcing.CompareAndSwap(false, true) {
		return 0
	}
	defer e.enforcing.Store(false)

	start := time.Now()
	n := 0
loop:
	for n < e.config.BatchSize {
		select {
		case item := <-e.queue:
			if _, err := e.Execute(ctx, item.action, &item.violation); err != nil {
				logging.Error().Err(err).Str("action", string(item.action.Type)).
					Str("policy_id", item.violation.PolicyID).Msg("Batched enforcement failed")
			}
			n++
		default:
			break loop
		}
	}

	metrics.EnforcementQueueDepth.Set(float64(len(e.queue)))
	if n > 0 {
		metrics.EnforcementBatchDuration.Observe(time.Since(start).Seconds())
		logging.Debug().Int("executed", n).Msg("Enforcement batch complete")
	}
	return n
}

func (e *Engine) drain() {
	ctx := context.Background()
	for e.runBatch(ctx) > 0 {
	}
	if n := len(e.queue); n > 0 {
		logging.Warn().Int("pending", n).Msg("Enforcement queue not drained on shutdown")
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	list, err := e.restrictions.List(ctx, e.now())
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to list restrictions for metrics")
		return
	}
	counts := map[models.Scope]int{models.ScopeSession: 0, models.ScopeIP: 0, models.ScopeAccount: 0}
	for i := range list {
		counts[list[i].Scope]++
	}
	for scope, n := range counts {
		metrics.ActiveRestrictions.WithLabelValues(string(scope)).Set(float64(n))
	}
}
