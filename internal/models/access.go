// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package models

import (
	"fmt"
	"time"
)

// Tier is how much of a document may be rendered.
type Tier string

const (
	TierNone           Tier = "none"
	TierLimitedPreview Tier = "limited_preview"
	TierFull           Tier = "full"
)

// Unbounded is the MaxPages value of a full grant.
const Unbounded = -1

// AccessGrant is the evaluator's answer for a single request. It is never
// cached beyond that request.
type AccessGrant struct {
	Tier           Tier   `json:"tier"`
	MaxPages       int    `json:"max_pages"`
	Reason         string `json:"reason,omitempty"`
	ReasonCode     string `json:"reason_code,omitempty"`
	PageCountKnown bool   `json:"page_count_known"`
}

// Allowed reports whether any page may be shown.
func (g AccessGrant) Allowed() bool {
	return g.Tier != TierNone
}

// Stable denial codes.
const (
	CodeNetworkDisabled  = "network_disabled"
	CodeNoGrant          = "no_grant"
	CodeGrantExhausted   = "grant_exhausted"
	CodeGrantExpired     = "grant_expired"
	CodeSessionExpired   = "session_expired"
	CodeSessionNotFound  = "session_not_found"
	CodeExtensionLimit   = "extension_limit"
	CodeAccountBlocked   = "account_blocked"
	CodeAccessRestricted = "access_restricted"
	CodeForbidden        = "forbidden"
)

// Denial is a user-facing refusal: a stable machine-readable code plus a
// short sentence. It never carries a raw internal error.
type Denial struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// Is matches denials by code so errors.Is works against the sentinels below.
func (d *Denial) Is(target error) bool {
	t, ok := target.(*Denial)
	return ok && t.Code == d.Code
}

// Deny creates a denial.
func Deny(code, message string) *Denial {
	return &Denial{Code: code, Message: message}
}

// Sentinel denials for errors.Is comparisons.
var (
	ErrNoGrant          = Deny(CodeNoGrant, "no download permission exists for this document")
	ErrGrantExhausted   = Deny(CodeGrantExhausted, "the download permission has been used up")
	ErrGrantExpired     = Deny(CodeGrantExpired, "the download permission has expired")
	ErrSessionExpired   = Deny(CodeSessionExpired, "the session has expired")
	ErrAccountBlocked   = Deny(CodeAccountBlocked, "the account is temporarily blocked")
	ErrAccessRestricted = Deny(CodeAccessRestricted, "access is temporarily restricted")
)

// AccessLevel is an ordered download permission level.
type AccessLevel string

const (
	LevelMetadataOnly AccessLevel = "metadata_only"
	LevelPreview      AccessLevel = "preview"
	LevelFullAccess   AccessLevel = "full_access"
)

// Rank orders levels; unknown levels rank 0.
func (l AccessLevel) Rank() int {
	switch l {
	case LevelMetadataOnly:
		return 1
	case LevelPreview:
		return 2
	case LevelFullAccess:
		return 3
	default:
		return 0
	}
}

// Covers reports whether l is at least as broad as requested.
func (l AccessLevel) Covers(requested AccessLevel) bool {
	return requested.Rank() > 0 && l.Rank() >= requested.Rank()
}

// DownloadPermission is a time- and count-limited grant.
// DownloadsUsed never decreases and never exceeds DownloadLimit.
type DownloadPermission struct {
	ID            string      `json:"id"`
	PrincipalID   string      `json:"principal_id"`
	DocumentID    string      `json:"document_id"`
	Level         AccessLevel `json:"level"`
	DownloadsUsed int         `json:"downloads_used"`
	DownloadLimit int         `json:"download_limit"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Justification string      `json:"justification,omitempty"`
	GrantedBy     string      `json:"granted_by,omitempty"`
	Implicit      bool        `json:"implicit,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	WatermarkID   string      `json:"watermark_id,omitempty"`
}

// Expired reports whether the grant is past its expiry at now.
func (p *DownloadPermission) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Exhausted reports whether all downloads have been used.
func (p *DownloadPermission) Exhausted() bool {
	return p.DownloadsUsed >= p.DownloadLimit
}

// Remaining returns the number of downloads left.
func (p *DownloadPermission) Remaining() int {
	if p.Exhausted() {
		return 0
	}
	return p.DownloadLimit - p.DownloadsUsed
}
