// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package violation counts client-reported violations and hands them to the
// enforcement engine.
//
// Reports are untrusted claims. A report for an unknown or disabled policy
// is dropped without error, and the absence of reports proves nothing.
//
// Counters are keyed by (principal, policy) and spread over striped shards.
// Reports of one principal pass through a FIFO lane so they are counted in
// arrival order, then through a second FIFO queue for enforcement. No lane
// is held while enforcement blocks; different principals run in parallel.
package violation

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

const shardCount = 32

// Policies resolves policies. Active only returns enabled ones.
type Policies interface {
	Get(id string) (policy.Policy, bool)
	Active(id string) (policy.Policy, bool)
}

// unknownPolicyLabel stands in for policy IDs the registry does not know,
// which come straight from clients.
const unknownPolicyLabel = "unknown"

// Enforcer derives and carries out enforcement actions.
type Enforcer interface {
	DetermineActions(v *models.Violation, count int) []models.EnforcementAction
	Dispatch(ctx context.Context, v *models.Violation, actions []models.EnforcementAction)
}

// AuditLogger queues audit events without blocking.
type AuditLogger interface {
	Log(event *audit.Event)
}

// Key identifies one counter.
type Key struct {
	PrincipalID string `json:"principal_id"`
	PolicyID    string `json:"policy_id"`
}

type counter struct {
	count    int
	lastSeen time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[Key]*counter
}

// Tracker maintains per-(principal, policy) violation counters.
type Tracker struct {
	policies Policies
	enforcer Enforcer
	audit    AuditLogger
	shards   [shardCount]*shard
	lanes    *lanes // per principal: count and decide
	exec     *lanes // per principal (per IP when anonymous): dispatch
	now      func() time.Time
}

// NewTracker creates a tracker. audit may be nil in tests.
func NewTracker(policies Policies, enforcer Enforcer, auditLogger AuditLogger) *Tracker {
	t := &Tracker{
		policies: policies,
		enforcer: enforcer,
		audit:    auditLogger,
		lanes:    newLanes(),
		exec:     newLanes(),
		now:      time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{counters: make(map[Key]*counter)}
	}
	return t
}

func (t *Tracker) shardFor(principalID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(principalID))
	return t.shards[h.Sum32()%shardCount]
}

// Report records a violation and returns the actions taken for it.
// Immediate actions have completed when Report returns; the rest are queued.
//
// Steps, for a report whose policy is active:
//
//  1. Wait for the principal's counting lane
//  2. Increment the (principal, policy) counter, archive the violation and
//     pick the actions for the new count
//  3. If there are actions, take a ticket in the execution queue, keyed by
//     principal or, for anonymous reporters, by IP
//  4. Release the counting lane
//  5. Wait for the ticket, then Dispatch
//
// Taking the ticket in step 3 keeps execution in counting order. Dispatch
// may block on the audit sink or the auth store without stalling counting.
func (t *Tracker) Report(ctx context.Context, v models.Violation) []models.EnforcementAction {
	p, ok := t.policies.Active(v.PolicyID)
	if !ok {
		label := unknownPolicyLabel
		if _, known := t.policies.Get(v.PolicyID); known {
			label = v.PolicyID
		}
		metrics.ViolationsReported.WithLabelValues(label, "ignored").Inc()
		logging.Ctx(ctx).Debug().Str("policy_id", v.PolicyID).Msg("Violation for unknown or disabled policy ignored")
		return []models.EnforcementAction{}
	}

	if v.Timestamp.IsZero() {
		v.Timestamp = t.now()
	}
	if v.Severity == "" {
		v.Severity = p.Severity
	}
	principalID := v.PrincipalKey()

	release := t.lanes.acquire(principalID)
	count := t.increment(Key{PrincipalID: principalID, PolicyID: v.PolicyID}, v.Timestamp)
	if t.audit != nil {
		t.audit.Log(audit.ViolationEvent(&v))
	}
	actions := t.enforcer.DetermineActions(&v, count)
	var waitTurn, done func()
	if len(actions) > 0 {
		waitTurn, done = t.exec.enqueue(execKey(principalID, v.IP))
	}
	release()

	metrics.ViolationsReported.WithLabelValues(v.PolicyID, "recorded").Inc()
	logging.Ctx(ctx).Info().
		Str("policy_id", v.PolicyID).
		Str("principal_id", principalID).
		Int("count", count).
		Int("actions", len(actions)).
		Msg("Violation recorded")

	if len(actions) == 0 {
		return []models.EnforcementAction{}
	}
	waitTurn()
	defer done()
	t.enforcer.Dispatch(ctx, &v, actions)
	return actions
}

// execKey splits anonymous reporters by IP so one slow anonymous dispatch
// does not hold up unrelated clients. Counting stays on the shared key.
func execKey(principalID, ip string) string {
	if principalID == models.AnonymousID && ip != "" {
		return principalID + "|" + ip
	}
	return principalID
}

func (t *Tracker) increment(key Key, at time.Time) int {
	s := t.shardFor(key.PrincipalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &counter{}
		s.counters[key] = c
		metrics.ViolationCounterKeys.Inc()
	}
	c.count++
	c.lastSeen = at
	return c.count
}

// Count returns the current counter value.
func (t *Tracker) Count(principalID, policyID string) int {
	key := Key{PrincipalID: models.PrincipalKey(principalID), PolicyID: policyID}
	s := t.shardFor(key.PrincipalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[key]; ok {
		return c.count
	}
	return 0
}

// Counts returns all counters of a principal keyed by policy.
func (t *Tracker) Counts(principalID string) map[string]int {
	principalID = models.PrincipalKey(principalID)
	s := t.shardFor(principalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int)
	for k, c := range s.counters {
		if k.PrincipalID == principalID {
			out[k.PolicyID] = c.count
		}
	}
	return out
}

// Reset clears counters of a principal. An empty policyID clears all of the
// principal's counters. It returns the number of counters removed.
func (t *Tracker) Reset(principalID, policyID string) int {
	principalID = models.PrincipalKey(principalID)
	s := t.shardFor(principalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.counters {
		if k.PrincipalID == principalID && (policyID == "" || k.PolicyID == policyID) {
			delete(s.counters, k)
			removed++
		}
	}
	metrics.ViolationCounterKeys.Sub(float64(removed))
	return removed
}

// Cleanup removes counters not incremented within maxAge.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for k, c := range s.counters {
			if c.lastSeen.Before(cutoff) {
				delete(s.counters, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	metrics.ViolationCounterKeys.Sub(float64(removed))
	return removed
}

// Len returns the number of live counters.
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}
