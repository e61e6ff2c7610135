// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package download grants and checks time- and count-limited download
// permissions.
//
// Validate looks for a live grant at or above the requested level. When the
// principal holds none at all, the access evaluator's tier decides whether an
// implicit preview grant is synthesized. Consume is a hard check: an
// exhausted or expired permission is a denial, never a soft warning.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/thesisguard/internal/access"
	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/validation"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

var (
	ErrInvalidLevel = errors.New("invalid access level")
	ErrForbidden    = models.Deny(models.CodeForbidden, "only archivists and administrators may issue download permissions")
)

// Config holds grant defaults.
type Config struct {
	DefaultExpiry     time.Duration `koanf:"default_expiry" validate:"min=1m"`
	ImplicitExpiry    time.Duration `koanf:"implicit_expiry" validate:"min=1m"`
	MetadataOnlyLimit int           `koanf:"metadata_only_limit" validate:"min=1"`
	PreviewLimit      int           `koanf:"preview_limit" validate:"min=1"`
	FullAccessLimit   int           `koanf:"full_access_limit" validate:"min=1"`
}

// DefaultConfig returns 30-day grants with limits of 100 metadata, 50
// preview and 3 full-access downloads. Implicit previews last one day.
func DefaultConfig() Config {
	return Config{
		DefaultExpiry:     30 * 24 * time.Hour,
		ImplicitExpiry:    24 * time.Hour,
		MetadataOnlyLimit: 100,
		PreviewLimit:      50,
		FullAccessLimit:   3,
	}
}

// Limit returns the default download limit for level.
func (c Config) Limit(level models.AccessLevel) int {
	switch level {
	case models.LevelMetadataOnly:
		return c.MetadataOnlyLimit
	case models.LevelPreview:
		return c.PreviewLimit
	case models.LevelFullAccess:
		return c.FullAccessLimit
	default:
		return 0
	}
}

// TierSource decides the access tier. *access.Evaluator implements it.
type TierSource interface {
	Evaluate(principal models.Principal, doc access.Document, rc access.RequestContext) models.AccessGrant
}

// Watermarker attributes grants. *watermark.Service implements it.
type Watermarker interface {
	Apply(principalID, documentID string, kind watermark.Kind) (watermark.Record, error)
}

// AuditLogger is the subset of audit.Logger the validator needs.
type AuditLogger interface {
	Log(event *audit.Event)
}

// GrantRequest is an archivist's request to issue a permission.
type GrantRequest struct {
	PrincipalID   string             `json:"principal_id" validate:"required,max=128"`
	DocumentID    string             `json:"document_id" validate:"required,max=128"`
	Level         models.AccessLevel `json:"level" validate:"required,accesslevel"`
	Justification string             `json:"justification" validate:"required,max=1000"`
	DownloadLimit int                `json:"download_limit,omitempty" validate:"gte=0,lte=1000"`
	ExpiresIn     time.Duration      `json:"expires_in,omitempty" validate:"gte=0"`
}

// Validator checks and issues download permissions.
type Validator struct {
	config     Config
	store      Store
	tiers      TierSource
	watermarks Watermarker
	audit      AuditLogger

	// implicit collapses concurrent implicit issuance per principal and document.
	implicit singleflight.Group

	now func() time.Time
}

// NewValidator creates a validator. watermarks and auditLog may be nil.
func NewValidator(cfg Config, store Store, tiers TierSource, watermarks Watermarker, auditLog AuditLogger) *Validator {
	def := DefaultConfig()
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = def.DefaultExpiry
	}
	if cfg.ImplicitExpiry <= 0 {
		cfg.ImplicitExpiry = def.ImplicitExpiry
	}
	if cfg.MetadataOnlyLimit <= 0 {
		cfg.MetadataOnlyLimit = def.MetadataOnlyLimit
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = def.PreviewLimit
	}
	if cfg.FullAccessLimit <= 0 {
		cfg.FullAccessLimit = def.FullAccessLimit
	}
	return &Validator{
		config:     cfg,
		store:      store,
		tiers:      tiers,
		watermarks: watermarks,
		audit:      auditLog,
		now:        time.Now,
	}
}

// Validate returns a usable permission for the request or a denial.
// justification is recorded on an implicitly synthesized grant.
//
// Concurrent calls for the same principal and document that all need an
// implicit grant share one issuance:
//  1. look for a live, expired or exhausted grant
//  2. otherwise enter the per-(principal, document) flight
//  3. look again inside the flight, since an earlier flight may have issued
//  4. issue the implicit preview grant if there is still nothing
func (v *Validator) Validate(ctx context.Context, principal models.Principal, documentID string, level models.AccessLevel, justification string, rc access.RequestContext) (*models.DownloadPermission, error) {
	if level.Rank() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	if p, done, err := v.lookup(ctx, principal, documentID, level); done {
		return p, err
	}

	if level.Rank() > models.LevelPreview.Rank() {
		return nil, v.deny(principal, documentID, level, models.ErrNoGrant)
	}
	grant := v.tiers.Evaluate(principal, access.Document{ID: documentID}, rc)
	if !grant.Allowed() {
		return nil, v.deny(principal, documentID, level, models.ErrNoGrant)
	}
	if justification == "" {
		justification = "implicit preview"
	}

	key := principal.Key() + "\x00" + documentID
	res, err, _ := v.implicit.Do(key, func() (any, error) {
		if p, done, err := v.lookup(ctx, principal, documentID, level); done {
			return p, err
		}
		p, err := v.issue(ctx, principal, principal.Key(), documentID, models.LevelPreview, v.config.PreviewLimit, v.now().Add(v.config.ImplicitExpiry), justification, true)
		if err != nil {
			return nil, err
		}
		metrics.RecordDownload("validate", "implicit")
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *res.(*models.DownloadPermission)
	return &p, nil
}

// lookup checks existing grants. done is false only when the principal
// holds no grant covering level at all.
func (v *Validator) lookup(ctx context.Context, principal models.Principal, documentID string, level models.AccessLevel) (*models.DownloadPermission, bool, error) {
	now := v.now()
	grants, err := v.store.Find(ctx, principal.Key(), documentID)
	if err != nil {
		return nil, true, fmt.Errorf("find grants: %w", err)
	}

	var best *models.DownloadPermission
	var denial error
	for i := range grants {
		g := &grants[i]
		if !g.Level.Covers(level) {
			continue
		}
		switch {
		case g.Expired(now):
			denial = models.ErrGrantExpired
		case g.Exhausted():
			if denial == nil {
				denial = models.ErrGrantExhausted
			}
		case best == nil || g.Level.Rank() < best.Level.Rank() ||
			(g.Level == best.Level && g.ExpiresAt.Before(best.ExpiresAt)):
			best = g
		}
	}
	if best != nil {
		metrics.RecordDownload("validate", "granted")
		return best, true, nil
	}
	if denial != nil {
		return nil, true, v.deny(principal, documentID, level, denial)
	}
	return nil, false, nil
}

func (v *Validator) deny(principal models.Principal, documentID string, level models.AccessLevel, denial error) error {
	var d *models.Denial
	code := "denied"
	if errors.As(denial, &d) {
		code = d.Code
	}
	metrics.RecordDownload("validate", code)
	if v.audit != nil {
		v.audit.Log(audit.PermissionEvent(audit.EventTypeDownloadDenied, &models.DownloadPermission{
			PrincipalID: principal.Key(),
			DocumentID:  documentID,
			Level:       level,
		}, principal, "Download denied: "+code))
	}
	return denial
}

// Grant issues a permission on behalf of an archivist or administrator.
func (v *Validator) Grant(ctx context.Context, granter models.Principal, req GrantRequest) (*models.DownloadPermission, error) {
	if !granter.Role.Elevated() {
		return nil, ErrForbidden
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}
	limit := req.DownloadLimit
	if limit <= 0 {
		limit = v.config.Limit(req.Level)
	}
	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = v.config.DefaultExpiry
	}
	p, err := v.issue(ctx, granter, models.PrincipalKey(req.PrincipalID), req.DocumentID, req.Level, limit, v.now().Add(expiresIn), req.Justification, false)
	if err != nil {
		return nil, err
	}
	metrics.RecordDownload("grant", "issued")
	return p, nil
}

func (v *Validator) issue(ctx context.Context, actor models.Principal, principalID, documentID string, level models.AccessLevel, limit int, expiresAt time.Time, justification string, implicit bool) (*models.DownloadPermission, error) {
	p := &models.DownloadPermission{
		ID:            uuid.New().String(),
		PrincipalID:   principalID,
		DocumentID:    documentID,
		Level:         level,
		DownloadLimit: limit,
		ExpiresAt:     expiresAt,
		Justification: justification,
		GrantedBy:     actor.Key(),
		Implicit:      implicit,
		CreatedAt:     v.now(),
	}
	if v.watermarks != nil {
		wm, err := v.watermarks.Apply(principalID, documentID, watermark.KindDownload)
		if err != nil {
			logging.Warn().Err(err).Str("document_id", documentID).Msg("Failed to watermark download permission")
		} else {
			p.WatermarkID = wm.ID
		}
	}
	if err := v.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}
	if v.audit != nil {
		v.audit.Log(audit.PermissionEvent(audit.EventTypeDownloadGranted, p, actor, "Download permission issued"))
	}
	return p, nil
}

// Consume records one download against a permission owned by principal.
// Elevated principals may consume any permission.
func (v *Validator) Consume(ctx context.Context, principal models.Principal, id string) (*models.DownloadPermission, error) {
	owner := principal.Key()
	if principal.Role.Elevated() {
		owner = ""
	}
	p, err := v.store.Consume(ctx, id, owner, v.now())
	if err != nil {
		var d *models.Denial
		if errors.As(err, &d) {
			metrics.RecordDownload("consume", d.Code)
			return nil, err
		}
		if errors.Is(err, ErrGrantNotFound) {
			metrics.RecordDownload("consume", "not_found")
			return nil, err
		}
		metrics.RecordDownload("consume", "error")
		return nil, fmt.Errorf("consume grant: %w", err)
	}
	metrics.RecordDownload("consume", "success")
	if v.audit != nil {
		v.audit.Log(audit.PermissionEvent(audit.EventTypeDownloadConsumed, p, principal, "Download consumed"))
	}
	return p, nil
}

// Get returns a permission by ID.
func (v *Validator) Get(ctx context.Context, id string) (*models.DownloadPermission, error) {
	return v.store.Get(ctx, id)
}
