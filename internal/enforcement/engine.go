// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package enforcement turns violations into enforcement actions and carries
// them out.
//
// Every executed action first writes one audit record. For terminate and
// block the engine waits for that record to be acknowledged (or spooled
// locally) before touching the session. A terminated session is marked
// locally before the auth store is called, so an unreachable auth store
// cannot undo a termination; failed invalidations are retried with backoff.
//
// Actions marked immediate run in the reporting request. The rest go
// through a bounded queue drained by a single batch worker.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

// ErrUnknownAction is returned by Execute for an action type it cannot run.
var ErrUnknownAction = errors.New("unknown enforcement action")

// Policies resolves policies and their decision rules.
type Policies interface {
	Active(id string) (policy.Policy, bool)
	Rule(id string) (policy.Rule, bool)
}

// AuditLogger is the audit queue the engine writes through.
type AuditLogger interface {
	Log(event *audit.Event)
	LogAndWait(event *audit.Event) error
}

// Config holds engine settings.
type Config struct {
	// QueueSize bounds the batch queue; a full queue executes inline.
	QueueSize int `koanf:"queue_size" validate:"min=1"`
	// BatchInterval is how often the batch worker drains the queue.
	BatchInterval time.Duration `koanf:"batch_interval" validate:"min=10ms"`
	// BatchSize caps actions executed per tick.
	BatchSize int `koanf:"batch_size" validate:"min=1"`
	// CallTimeout bounds each auth store call.
	CallTimeout time.Duration `koanf:"call_timeout"`
	// TerminatedTTL is how long terminated session IDs are remembered.
	TerminatedTTL time.Duration `koanf:"terminated_ttl"`
	// RedirectURL is where a terminated client is sent.
	RedirectURL string `koanf:"redirect_url"`
	// Invalidation retry backoff.
	RetryInitial    time.Duration `koanf:"retry_initial"`
	RetryMax        time.Duration `koanf:"retry_max"`
	RetryMaxElapsed time.Duration `koanf:"retry_max_elapsed"`
	RetryQueueSize  int           `koanf:"retry_queue_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1000,
		BatchInterval:   5 * time.Second,
		BatchSize:       100,
		CallTimeout:     3 * time.Second,
		TerminatedTTL:   24 * time.Hour,
		RedirectURL:     "/session-terminated",
		RetryInitial:    time.Second,
		RetryMax:        time.Minute,
		RetryMaxElapsed: time.Hour,
		RetryQueueSize:  1024,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = def.BatchInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.TerminatedTTL <= 0 {
		c.TerminatedTTL = def.TerminatedTTL
	}
	if c.RedirectURL == "" {
		c.RedirectURL = def.RedirectURL
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = def.RetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = def.RetryMax
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = def.RetryMaxElapsed
	}
	if c.RetryQueueSize <= 0 {
		c.RetryQueueSize = def.RetryQueueSize
	}
}

// Result describes what executing one action did.
type Result struct {
	Action            models.ActionType `json:"action"`
	AuditSpooled      bool              `json:"audit_spooled,omitempty"`
	RestrictionID     string            `json:"restriction_id,omitempty"`
	NoticeID          string            `json:"notice_id,omitempty"`
	AlertID           string            `json:"alert_id,omitempty"`
	SessionTerminated bool              `json:"session_terminated,omitempty"`
	Redirect          string            `json:"redirect,omitempty"`
}

// Engine executes enforcement actions.
type Engine struct {
	config       Config
	policies     Policies
	audit        AuditLogger
	sessions     auth.Store
	restrictions RestrictionStore
	notices      *NoticeInbox
	alerts       AlertStore
	security     *logging.SecurityLogger

	notifierMu sync.RWMutex
	notifiers  []Notifier

	terminatedMu sync.RWMutex
	terminated   map[string]time.Time

	queue     chan queuedAction
	enforcing atomic.Bool
	retries   chan invalidation

	now func() time.Time
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Policies     Policies
	Audit        AuditLogger
	Sessions     auth.Store
	Restrictions RestrictionStore
	Notices      *NoticeInbox
	Alerts       AlertStore
}

// NewEngine creates an engine. Nil stores default to in-memory ones.
func NewEngine(deps Deps, cfg Config) *Engine {
	cfg.applyDefaults()
	if deps.Restrictions == nil {
		deps.Restrictions = NewMemoryRestrictionStore()
	}
	if deps.Notices == nil {
		deps.Notices = NewNoticeInbox(0)
	}
	if deps.Alerts == nil {
		deps.Alerts = NewMemoryAlertStore(0)
	}

	return &Engine{
		config:       cfg,
		policies:     deps.Policies,
		audit:        deps.Audit,
		sessions:     deps.Sessions,
		restrictions: deps.Restrictions,
		notices:      deps.Notices,
		alerts:       deps.Alerts,
		security:     logging.NewSecurityLogger(),
		terminated:   make(map[string]time.Time),
		queue:        make(chan queuedAction, cfg.QueueSize),
		retries:      make(chan invalidation, cfg.RetryQueueSize),
		now:          time.Now,
	}
}

// RegisterNotifier adds an alert notifier.
func (e *Engine) RegisterNotifier(n Notifier) {
	e.notifierMu.Lock()
	defer e.notifierMu.Unlock()
	e.notifiers = append(e.notifiers, n)
	logging.Info().Str("notifier", n.Name()).Msg("Registered alert notifier")
}

// RedirectURL is where clients of terminated sessions are sent.
func (e *Engine) RedirectURL() string {
	return e.config.RedirectURL
}

// DetermineActions returns the actions for the count-th violation of its
// policy. It is deterministic and has no side effects.
func (e *Engine) DetermineActions(v *models.Violation, count int) []models.EnforcementAction {
	p, ok := e.policies.Active(v.PolicyID)
	if !ok {
		return nil
	}
	rule, ok := e.policies.Rule(v.PolicyID)
	if !ok {
		return nil
	}
	return rule(v, count, p)
}

// Dispatch runs immediate actions now, in order, and queues the rest.
func (e *Engine) Dispatch(ctx context.Context, v *models.Violation, actions []models.EnforcementAction) {
	for _, a := range actions {
		if !a.Immediate {
			e.Enqueue(a, v)
			continue
		}
		if _, err := e.Execute(ctx, a, v); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("action", string(a.Type)).Str("policy_id", v.PolicyID).
				Msg("Enforcement action failed")
		}
	}
}

// Execute carries out one action. The caller's cancellation is ignored: once
// decided, an action runs to completion.
//
// Order of effects:
//
//  1. Reject unknown action types with ErrUnknownAction
//  2. Write the audit record; terminate and block wait for it and spool it
//     locally on failure, other actions queue it
//  3. Apply the side effect for the action type
//  4. Record the outcome in metrics, and in the security log for
//     terminate and block
//
// Step 2 always precedes session invalidation, so a crash mid-action still
// leaves an audit trail.
func (e *Engine) Execute(ctx context.Context, a models.EnforcementAction, v *models.Violation) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := Result{Action: a.Type}

	switch a.Type {
	case models.ActionWarn, models.ActionRestrict, models.ActionTerminate, models.ActionBlock, models.ActionReport:
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
		metrics.RecordEnforcement(string(a.Type), err)
		return res, err
	}

	event := audit.ActionEvent(&a, v)
	if a.Type.Destructive() {
		if err := e.audit.LogAndWait(event); err != nil {
			res.AuditSpooled = true
			logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("Enforcement audit record spooled locally")
		}
	} else {
		e.audit.Log(event)
	}

	var err error
	switch a.Type {
	case models.ActionWarn:
		res.NoticeID = e.pushNotice(a, v)
	case models.ActionRestrict:
		res.RestrictionID, err = e.restrict(ctx, a, v)
		res.NoticeID = e.pushNotice(a, v)
	case models.ActionTerminate:
		res.SessionTerminated = e.terminate(ctx, v, a.Message)
	case models.ActionBlock:
		res.RestrictionID, err = e.block(ctx, a, v)
		res.SessionTerminated = e.terminate(ctx, v, a.Message)
	case models.ActionReport:
		res.AlertID, err = e.report(ctx, a, v)
	}
	if res.SessionTerminated {
		res.Redirect = e.config.RedirectURL
	}

	metrics.RecordEnforcement(string(a.Type), err)
	if a.Type.Destructive() {
		se := &logging.SecurityEvent{
			Event:       "enforcement_" + string(a.Type),
			PrincipalID: v.PrincipalKey(),
			SessionID:   v.SessionID,
			PolicyID:    v.PolicyID,
			IPAddress:   v.IP,
			UserAgent:   v.UserAgent,
			Success:     err == nil,
		}
		if err != nil {
			se.Error = err.Error()
		}
		e.security.LogEvent(se)
	}
	return res, err
}

func (e *Engine) pushNotice(a models.EnforcementAction, v *models.Violation) string {
	n := models.Notice{
		ID:          uuid.New().String(),
		PrincipalID: v.PrincipalKey(),
		SessionID:   v.SessionID,
		PolicyID:    v.PolicyID,
		Action:      a.Type,
		Message:     a.Message,
		CreatedAt:   e.now(),
	}
	e.notices.Push(n)
	return n.ID
}

// restrictionSubject picks the subject for a restriction. Session scope
// falls back to the IP when no session is known.
func restrictionSubject(scope models.Scope, v *models.Violation) (models.Scope, string) {
	switch scope {
	case models.ScopeIP:
		return models.ScopeIP, v.IP
	case models.ScopeAccount:
		return models.ScopeAccount, v.PrincipalKey()
	default:
		if v.SessionID != "" {
			return models.ScopeSession, v.SessionID
		}
		return models.ScopeIP, v.IP
	}
}

func (e *Engine) putRestriction(ctx context.Context, scope models.Scope, subject string, a models.EnforcementAction, v *models.Violation) (string, error) {
	now := e.now()
	r := &models.Restriction{
		ID:        uuid.New().String(),
		Scope:     scope,
		Subject:   subject,
		PolicyID:  v.PolicyID,
		Reason:    a.Message,
		CreatedAt: now,
		ExpiresAt: now.Add(a.Duration),
	}
	stored, err := e.restrictions.Put(ctx, r)
	if err != nil {
		return "", fmt.Errorf("store %s restriction: %w", scope, err)
	}
	return stored.ID, nil
}

func (e *Engine) restrict(ctx context.Context, a models.EnforcementAction, v *models.Violation) (string, error) {
	scope, subject := restrictionSubject(a.Scope, v)
	if subject == "" {
		logging.Ctx(ctx).Warn().Str("policy_id", v.PolicyID).Str("scope", string(a.Scope)).
			Msg("Restriction has no session or IP to apply to")
		return "", nil
	}
	return e.putRestriction(ctx, scope, subject, a, v)
}

// block writes an account block. Anonymous principals share one counter key,
// so their blocks fall back to the IP.
func (e *Engine) block(ctx context.Context, a models.EnforcementAction, v *models.Violation) (string, error) {
	principalID := v.PrincipalKey()
	if principalID == models.AnonymousID {
		if v.IP == "" {
			logging.Ctx(ctx).Warn().Str("policy_id", v.PolicyID).Msg("Anonymous block has no IP to apply to")
			return "", nil
		}
		return e.putRestriction(ctx, models.ScopeIP, v.IP, a, v)
	}

	id, err := e.putRestriction(ctx, models.ScopeAccount, principalID, a, v)
	if err != nil {
		return "", err
	}
	e.signOut(ctx, principalID)
	return id, nil
}

func (e *Engine) report(ctx context.Context, a models.EnforcementAction, v *models.Violation) (string, error) {
	p, _ := e.policies.Active(v.PolicyID)
	severity := v.Severity
	if severity == "" {
		severity = p.Severity
	}
	alert := &models.Alert{
		ID:          uuid.New().String(),
		PolicyID:    v.PolicyID,
		Type:        v.Type,
		Severity:    severity,
		PrincipalID: v.PrincipalKey(),
		SessionID:   v.SessionID,
		IP:          v.IP,
		Message:     a.Message,
		Details:     v.Details,
		CreatedAt:   e.now(),
	}
	if err := e.alerts.Save(ctx, alert); err != nil {
		return "", fmt.Errorf("save alert: %w", err)
	}
	e.notify(ctx, alert)
	return alert.ID, nil
}

// notify sends the alert to all enabled notifiers without blocking.
func (e *Engine) notify(ctx context.Context, alert *models.Alert) {
	e.notifierMu.RLock()
	notifiers := make([]Notifier, 0, len(e.notifiers))
	for _, n := range e.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	e.notifierMu.RUnlock()

	for _, notifier := range notifiers {
		go func(n Notifier) {
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := n.Send(sendCtx, alert); err != nil {
				metrics.AlertNotifications.WithLabelValues("failure").Inc()
				logging.Error().Err(err).Str("notifier", n.Name()).Msg("Failed to send alert")
				return
			}
			metrics.AlertNotifications.WithLabelValues("success").Inc()
		}(notifier)
	}
}

// CheckRestrictions returns the first restriction in force against the
// account, the IP or the session, in that order, or nil.
func (e *Engine) CheckRestrictions(ctx context.Context, principal models.Principal, ip, sessionID string) (*models.Restriction, error) {
	now := e.now()
	checks := []struct {
		scope   models.Scope
		subject string
	}{
		{models.ScopeAccount, principal.Key()},
		{models.ScopeIP, ip},
		{models.ScopeSession, sessionID},
	}
	for _, c := range checks {
		if c.subject == "" || (c.scope == models.ScopeAccount && c.subject == models.AnonymousID) {
			continue
		}
		r, err := e.restrictions.Active(ctx, c.scope, c.subject, now)
		if err != nil {
			return nil, fmt.Errorf("check %s restriction: %w", c.scope, err)
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, nil
}

// Restrictions lists restrictions currently in force.
func (e *Engine) Restrictions(ctx context.Context) ([]models.Restriction, error) {
	return e.restrictions.List(ctx, e.now())
}

// LiftRestriction removes a restriction on behalf of an administrator.
func (e *Engine) LiftRestriction(ctx context.Context, id string, admin models.Principal) (bool, error) {
	lifted, err := e.restrictions.Lift(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lift restriction: %w", err)
	}
	if lifted {
		e.audit.Log(&audit.Event{
			Type:        audit.EventTypeRestrictionLifted,
			Severity:    audit.SeverityWarning,
			Outcome:     audit.OutcomeSuccess,
			Actor:       audit.Actor{ID: admin.ID, Type: "principal", Role: string(admin.Role)},
			Target:      &audit.Target{ID: id, Type: "restriction"},
			Action:      "lift",
			Description: "Restriction lifted by administrator",
		})
	}
	return lifted, nil
}

// Notices returns a principal's notices, newest first.
func (e *Engine) Notices(principalID string) []models.Notice {
	return e.notices.List(principalID)
}

// Alerts returns recent security alerts, newest first.
func (e *Engine) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return e.alerts.List(ctx, limit)
}

// ExpireSession terminates a session that timed out for inactivity.
func (e *Engine) ExpireSession(ctx context.Context, principalID, sessionID string) (Result, error) {
	a := models.EnforcementAction{
		Type:      models.ActionTerminate,
		Immediate: true,
		Message:   "Session expired after inactivity",
		Scope:     models.ScopeSession,
	}
	v := &models.Violation{
		PolicyID:    policy.SessionTimeout,
		Type:        "inactivity_timeout",
		Severity:    models.SeverityLow,
		Timestamp:   e.now(),
		PrincipalID: principalID,
		SessionID:   sessionID,
	}
	return e.Execute(ctx, a, v)
}
