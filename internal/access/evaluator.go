// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package access computes how much of a document a principal may see.
//
// Evaluate is a pure function of its inputs. The Evaluator holds only the
// immutable preview-cap lookup, so it can be shared across goroutines
// without locking. Grants are recomputed on every request.
package access

import (
	"github.com/tomtom215/thesisguard/internal/models"
)

// Reason codes returned in AccessGrant.ReasonCode.
const (
	ReasonElevatedRole   = "elevated_role"
	ReasonPreview        = "limited_preview"
	ReasonUnknownRole    = "unknown_role"
	ReasonUnknownPages   = "page_count_unknown"
	ReasonNetworkBlocked = models.CodeNetworkDisabled
)

// CapSource supplies per-role page caps. *policy.Registry implements it.
type CapSource interface {
	PreviewLimit(role models.Role) int
}

// Document identifies the document being requested. PageCount <= 0 means
// the count is not known yet.
type Document struct {
	ID        string
	PageCount int
}

// RequestContext carries per-request conditions.
type RequestContext struct {
	// NetworkAllowed is the network/testing-mode flag. When false,
	// non-elevated principals see nothing.
	NetworkAllowed bool

	// OverrideMaxPages is a site-wide ceiling when positive. It can lower
	// any role's cap but never raise one, so unknown roles keep the
	// smallest configured cap.
	OverrideMaxPages int
}

// Evaluator decides access tiers.
type Evaluator struct {
	caps CapSource
}

// NewEvaluator creates an evaluator backed by caps.
func NewEvaluator(caps CapSource) *Evaluator {
	return &Evaluator{caps: caps}
}

// Evaluate returns the grant for principal on doc under rc.
func (e *Evaluator) Evaluate(principal models.Principal, doc Document, rc RequestContext) models.AccessGrant {
	if principal.Role.Elevated() {
		return models.AccessGrant{
			Tier:           models.TierFull,
			MaxPages:       models.Unbounded,
			Reason:         "full access for " + string(principal.Role),
			ReasonCode:     ReasonElevatedRole,
			PageCountKnown: doc.PageCount > 0,
		}
	}

	if !rc.NetworkAllowed {
		return models.AccessGrant{
			Tier:           models.TierNone,
			MaxPages:       0,
			Reason:         "network access disabled",
			ReasonCode:     ReasonNetworkBlocked,
			PageCountKnown: doc.PageCount > 0,
		}
	}

	limit := e.caps.PreviewLimit(principal.Role)
	if rc.OverrideMaxPages > 0 {
		limit = min(limit, rc.OverrideMaxPages)
	}

	grant := models.AccessGrant{
		Tier:           models.TierLimitedPreview,
		MaxPages:       limit,
		Reason:         "limited preview",
		ReasonCode:     ReasonPreview,
		PageCountKnown: true,
	}

	switch {
	case doc.PageCount <= 0:
		grant.PageCountKnown = false
		grant.Reason = "limited preview; page count unknown, request again once known"
		grant.ReasonCode = ReasonUnknownPages
	case doc.PageCount < limit:
		grant.MaxPages = doc.PageCount
	}

	if !principal.Role.Known() {
		grant.Reason = "limited preview for unrecognized role"
		grant.ReasonCode = ReasonUnknownRole
	}

	return grant
}
