// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
)

// invalidation is an auth store call that failed and must be retried.
type invalidation struct {
	sessionID   string
	principalID string
	signOut     bool
}

func (inv invalidation) String() string {
	if inv.signOut {
		return "sign-out " + inv.principalID
	}
	return "invalidate " + logging.SanitizeSessionID(inv.sessionID)
}

// terminate marks the session terminated locally, then invalidates it in the
// auth store. It reports whether there was a session to terminate.
func (e *Engine) terminate(ctx context.Context, v *models.Violation, reason string) bool {
	if v.SessionID == "" {
		logging.Ctx(ctx).Warn().Str("policy_id", v.PolicyID).Str("principal_id", v.PrincipalKey()).
			Msg("Terminate without a session id")
		return false
	}

	e.markTerminated(v.SessionID)
	inv := invalidation{sessionID: v.SessionID, principalID: v.PrincipalKey()}
	if err := e.callStore(ctx, inv); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("reason", reason).Msg("Session invalidation failed, will retry")
		e.scheduleRetry(inv)
	}
	return true
}

func (e *Engine) signOut(ctx context.Context, principalID string) {
	inv := invalidation{principalID: principalID, signOut: true}
	if err := e.callStore(ctx, inv); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("principal_id", principalID).Msg("Sign-out failed, will retry")
		e.scheduleRetry(inv)
	}
}

func (e *Engine) callStore(ctx context.Context, inv invalidation) error {
	if e.sessions == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	if inv.signOut {
		_, err := e.sessions.SignOut(callCtx, inv.principalID)
		return err
	}
	return e.sessions.Invalidate(callCtx, inv.sessionID)
}

func (e *Engine) scheduleRetry(inv invalidation) {
	select {
	case e.retries <- inv:
	default:
		// The session stays terminated locally; only the backend copy is stale.
		logging.Error().Str("call", inv.String()).Msg("Invalidation retry queue full, dropping retry")
	}
}

func (e *Engine) markTerminated(sessionID string) {
	e.terminatedMu.Lock()
	e.terminated[sessionID] = e.now().Add(e.config.TerminatedTTL)
	e.terminatedMu.Unlock()
}

// IsTerminated reports whether the engine terminated the session.
func (e *Engine) IsTerminated(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	e.terminatedMu.RLock()
	until, ok := e.terminated[sessionID]
	e.terminatedMu.RUnlock()
	return ok && e.now().Before(until)
}

// sweepTerminated forgets terminated sessions past their TTL.
func (e *Engine) sweepTerminated() int {
	now := e.now()
	e.terminatedMu.Lock()
	defer e.terminatedMu.Unlock()

	removed := 0
	for id, until := range e.terminated {
		if !now.Before(until) {
			delete(e.terminated, id)
			removed++
		}
	}
	return removed
}

// RunInvalidationRetries retries failed auth store calls with exponential
// backoff until ctx is cancelled.
func (e *Engine) RunInvalidationRetries(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case inv := <-e.retries:
			e.retry(ctx, inv)
		}
	}
}

func (e *Engine) retry(ctx context.Context, inv invalidation) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.RetryInitial
	bo.MaxInterval = e.config.RetryMax
	bo.MaxElapsedTime = e.config.RetryMaxElapsed

	op := func() error {
		metrics.InvalidationRetries.Inc()
		return e.callStore(ctx, inv)
	}
	onRetry := func(err error, wait time.Duration) {
		logging.Debug().Err(err).Str("call", inv.String()).Dur("wait", wait).Msg("Invalidation retry scheduled")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), onRetry); err != nil {
		if ctx.Err() != nil {
			// Put it back for the next run of the worker.
			e.scheduleRetry(inv)
			return
		}
		logging.Error().Err(err).Str("call", inv.String()).Msg("Giving up on auth store invalidation")
		return
	}
	logging.Info().Str("call", inv.String()).Msg("Auth store invalidation succeeded after retry")
}

// PendingRetries returns the number of queued invalidation retries.
func (e *Engine) PendingRetries() int {
	return len(e.retries)
}
