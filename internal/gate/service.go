// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package gate is the entry point collaborators call: the document viewer
// before rendering, client detectors when they observe something, and the
// admin console.
//
// Every violation report is an untrusted client claim. The absence of a
// report is never evidence of good behaviour, and nothing here prevents a
// determined client from extracting what it has been shown.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/thesisguard/internal/access"
	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/cache"
	"github.com/tomtom215/thesisguard/internal/docmeta"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/enforcement"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
	"github.com/tomtom215/thesisguard/internal/session"
	"github.com/tomtom215/thesisguard/internal/validation"
	"github.com/tomtom215/thesisguard/internal/violation"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

// Reason codes produced by the gate itself.
const (
	CodeSessionTerminated = "session_terminated"
)

// Config holds request-path settings.
type Config struct {
	// NetworkAllowed is the network/testing-mode flag passed to the evaluator.
	NetworkAllowed bool `koanf:"network_allowed"`

	// OverrideMaxPages caps every role's preview when positive.
	OverrideMaxPages int `koanf:"override_max_pages" validate:"gte=0"`

	// PageCountTimeout bounds the document metadata lookup.
	PageCountTimeout time.Duration `koanf:"page_count_timeout" validate:"gte=0"`

	// MaxDistinctIPs self-reports a session_security violation when a
	// principal uses more addresses than this within DistinctIPWindow.
	// 0 disables the check.
	MaxDistinctIPs   int           `koanf:"max_distinct_ips" validate:"gte=0"`
	DistinctIPWindow time.Duration `koanf:"distinct_ip_window" validate:"gte=0"`

	// MaxTrackedPrincipals bounds the request-rate tables.
	MaxTrackedPrincipals int `koanf:"max_tracked_principals" validate:"gte=0"`
}

// DefaultConfig allows network access, looks page counts up within two
// seconds and leaves the distinct-IP check off.
func DefaultConfig() Config {
	return Config{
		NetworkAllowed:       true,
		PageCountTimeout:     2 * time.Second,
		DistinctIPWindow:     time.Hour,
		MaxTrackedPrincipals: 100000,
	}
}

// Request identifies who is asking. Identity comes from authentication,
// never from a request body.
type Request struct {
	Principal models.Principal
	SessionID string
	IP        string
	UserAgent string
}

// AuditLogger is the subset of audit.Logger the gate needs.
type AuditLogger interface {
	Log(event *audit.Event)
}

// Deps are the components behind the gate.
type Deps struct {
	Policies   *policy.Registry
	Evaluator  *access.Evaluator
	Tracker    *violation.Tracker
	Engine     *enforcement.Engine
	Sessions   *session.Manager
	Downloads  *download.Validator
	Watermarks *watermark.Service
	Documents  docmeta.Provider
	Audit      AuditLogger
}

// Service is the exposed facade.
type Service struct {
	config     Config
	policies   *policy.Registry
	evaluator  *access.Evaluator
	tracker    *violation.Tracker
	engine     *enforcement.Engine
	sessions   *session.Manager
	downloads  *download.Validator
	watermarks *watermark.Service
	documents  docmeta.Provider
	audit      AuditLogger

	requests *cache.WindowStore
	ips      *cache.DistinctStore

	now func() time.Time
}

// NewService wires the facade. The request-rate window comes from the
// rate_limiting policy settings.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.PageCountTimeout <= 0 {
		cfg.PageCountTimeout = 2 * time.Second
	}
	if cfg.DistinctIPWindow <= 0 {
		cfg.DistinctIPWindow = time.Hour
	}

	window := time.Minute
	if p, ok := deps.Policies.Get(policy.RateLimiting); ok && p.Settings.Window > 0 {
		window = p.Settings.Window
	}

	return &Service{
		config:     cfg,
		policies:   deps.Policies,
		evaluator:  deps.Evaluator,
		tracker:    deps.Tracker,
		engine:     deps.Engine,
		sessions:   deps.Sessions,
		downloads:  deps.Downloads,
		watermarks: deps.Watermarks,
		documents:  deps.Documents,
		audit:      deps.Audit,
		requests:   cache.NewWindowStore(window, 6, cfg.MaxTrackedPrincipals),
		ips:        cache.NewDistinctStore(cfg.DistinctIPWindow, cfg.MaxTrackedPrincipals),
		now:        time.Now,
	}
}

func (s *Service) requestContext() access.RequestContext {
	return access.RequestContext{
		NetworkAllowed:   s.config.NetworkAllowed,
		OverrideMaxPages: s.config.OverrideMaxPages,
	}
}

func denied(code, reason string) models.AccessGrant {
	return models.AccessGrant{Tier: models.TierNone, ReasonCode: code, Reason: reason}
}

// EvaluateAccess decides how much of a document the requester may see.
// Denials are returned as grants with tier none; the error is reserved for
// infrastructure failures.
func (s *Service) EvaluateAccess(ctx context.Context, req Request, documentID string) (models.AccessGrant, error) {
	grant, err := s.evaluate(ctx, req, documentID)
	if err != nil {
		return models.AccessGrant{}, err
	}
	metrics.AccessDecisions.WithLabelValues(string(grant.Tier), grant.ReasonCode).Inc()
	return grant, nil
}

func (s *Service) evaluate(ctx context.Context, req Request, documentID string) (models.AccessGrant, error) {
	if grant, blocked, err := s.gateSession(ctx, req); err != nil || blocked {
		return grant, err
	}
	if grant, blocked, err := s.gateRestrictions(ctx, req); err != nil || blocked {
		return grant, err
	}
	if grant, blocked := s.observe(ctx, req, documentID); blocked {
		return grant, nil
	}

	pages := s.pageCount(ctx, documentID)
	return s.evaluator.Evaluate(req.Principal, access.Document{ID: documentID, PageCount: pages}, s.requestContext()), nil
}

// gateSession refuses terminated and expired sessions and records activity
// for live ones.
func (s *Service) gateSession(ctx context.Context, req Request) (models.AccessGrant, bool, error) {
	if req.SessionID == "" {
		return models.AccessGrant{}, false, nil
	}
	if s.engine.IsTerminated(req.SessionID) {
		return denied(CodeSessionTerminated, "the session was terminated"), true, nil
	}
	if err := s.sessions.Heartbeat(ctx, req.SessionID, req.Principal.Key()); err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			return denied(models.CodeSessionExpired, "the session has expired"), true, nil
		}
		return models.AccessGrant{}, false, fmt.Errorf("record activity: %w", err)
	}
	return models.AccessGrant{}, false, nil
}

// gateRestrictions denies requests covered by a restriction or block.
func (s *Service) gateRestrictions(ctx context.Context, req Request) (models.AccessGrant, bool, error) {
	r, err := s.engine.CheckRestrictions(ctx, req.Principal, req.IP, req.SessionID)
	if err != nil {
		return models.AccessGrant{}, false, err
	}
	if r == nil {
		return models.AccessGrant{}, false, nil
	}
	return restrictionGrant(r), true, nil
}

func restrictionGrant(r *models.Restriction) models.AccessGrant {
	until := r.ExpiresAt.UTC().Format(time.RFC3339)
	if r.Scope == models.ScopeAccount {
		return denied(models.CodeAccountBlocked, "the account is blocked until "+until)
	}
	return denied(models.CodeAccessRestricted, "access is restricted until "+until)
}

func restrictionError(r *models.Restriction) error {
	if r.Scope == models.ScopeAccount {
		return models.ErrAccountBlocked
	}
	return models.ErrAccessRestricted
}

// observe feeds the server-side detectors. It self-reports rate_limiting
// and session_security violations and reports whether the request must be
// refused because of what they triggered.
func (s *Service) observe(ctx context.Context, req Request, documentID string) (models.AccessGrant, bool) {
	now := s.now()
	key := req.Principal.Key()
	if key == models.AnonymousID && req.IP != "" {
		key = "ip:" + req.IP
	}

	if p, ok := s.policies.Active(policy.RateLimiting); ok && p.Settings.RequestsPerWindow > 0 {
		count := s.requests.Add(key, now)
		if count > int64(p.Settings.RequestsPerWindow) {
			actions := s.selfReport(ctx, req, documentID, policy.RateLimiting, "request_rate", map[string]string{
				"requests": strconv.FormatInt(count, 10),
				"limit":    strconv.Itoa(p.Settings.RequestsPerWindow),
				"window":   p.Settings.Window.String(),
			})
			if refused(actions) {
				s.requests.Remove(key)
				return denied(models.CodeAccessRestricted, "too many requests; access is temporarily restricted"), true
			}
		}
	}

	if s.config.MaxDistinctIPs > 0 && req.IP != "" && req.Principal.Key() != models.AnonymousID {
		if n := s.ips.Add(key, req.IP, now); n > s.config.MaxDistinctIPs {
			actions := s.selfReport(ctx, req, documentID, policy.SessionSecurity, "address_change", map[string]string{
				"distinct_ips": strconv.Itoa(n),
				"limit":        strconv.Itoa(s.config.MaxDistinctIPs),
			})
			if refused(actions) {
				s.ips.Remove(key)
				return denied(CodeSessionTerminated, "the session was terminated"), true
			}
		}
	}
	return models.AccessGrant{}, false
}

func refused(actions []models.EnforcementAction) bool {
	for _, a := range actions {
		if a.Immediate && (a.Type == models.ActionRestrict || a.Type.Destructive()) {
			return true
		}
	}
	return false
}

func (s *Service) selfReport(ctx context.Context, req Request, documentID, policyID, kind string, details map[string]string) []models.EnforcementAction {
	logging.Ctx(ctx).Warn().Str("principal_id", req.Principal.Key()).Str("policy_id", policyID).
		Msg("Server-side detector reported a violation")
	return s.tracker.Report(ctx, models.Violation{
		PolicyID:    policyID,
		Type:        kind,
		Details:     details,
		PrincipalID: req.Principal.ID,
		SessionID:   req.SessionID,
		DocumentID:  documentID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
	})
}

// pageCount returns the document's page count, or 0 when unknown.
func (s *Service) pageCount(ctx context.Context, documentID string) int {
	if s.documents == nil || documentID == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.PageCountTimeout)
	defer cancel()

	n, err := s.documents.PageCount(ctx, documentID)
	if err != nil {
		if !errors.Is(err, docmeta.ErrDocumentNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Str("document_id", documentID).Msg("Page count lookup failed")
		}
		return 0
	}
	return n
}

// ReportViolation records a client-reported violation and returns the
// actions it triggered. The reporter's identity overrides anything the
// client put in the violation.
func (s *Service) ReportViolation(ctx context.Context, req Request, v models.Violation) ([]models.EnforcementAction, error) {
	v.PrincipalID = req.Principal.ID
	if v.PrincipalID == models.AnonymousID {
		v.PrincipalID = ""
	}
	v.SessionID = req.SessionID
	v.IP = req.IP
	v.UserAgent = req.UserAgent
	v.Timestamp = time.Time{}

	if verr := validation.ValidateStruct(v); verr != nil {
		return nil, verr
	}
	return s.tracker.Report(ctx, v), nil
}

// Heartbeat records viewer activity.
func (s *Service) Heartbeat(ctx context.Context, req Request) (session.Info, error) {
	if req.SessionID == "" {
		return session.Info{}, session.ErrSessionNotFound
	}
	if s.engine.IsTerminated(req.SessionID) {
		return session.Info{}, models.ErrSessionExpired
	}
	if err := s.sessions.Heartbeat(ctx, req.SessionID, req.Principal.Key()); err != nil {
		return session.Info{}, err
	}
	return s.sessions.State(req.SessionID)
}

// Extend resets the inactivity clock on the viewer's request.
func (s *Service) Extend(ctx context.Context, req Request) (session.Info, error) {
	if req.SessionID == "" {
		return session.Info{}, session.ErrSessionNotFound
	}
	if s.engine.IsTerminated(req.SessionID) {
		return session.Info{}, models.ErrSessionExpired
	}
	return s.sessions.Extend(ctx, req.SessionID)
}

// SessionState returns the session's inactivity state.
func (s *Service) SessionState(req Request) (session.Info, error) {
	return s.sessions.State(req.SessionID)
}

// EndSession stops tracking a session on logout.
func (s *Service) EndSession(req Request) {
	if req.SessionID != "" {
		s.sessions.Remove(req.SessionID)
	}
}

// Notices returns the requester's enforcement notices, newest first.
func (s *Service) Notices(req Request) []models.Notice {
	return s.engine.Notices(req.Principal.Key())
}

// RedirectURL is where terminated sessions are sent.
func (s *Service) RedirectURL() string {
	return s.engine.RedirectURL()
}
