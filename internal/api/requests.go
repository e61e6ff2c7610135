// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/session"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

// ViolationRequest is a detector's report. Identity fields are taken from
// the authenticated request, never from the body.
type ViolationRequest struct {
	PolicyID   string            `json:"policy_id" validate:"required,policyid"`
	Type       string            `json:"violation_type" validate:"required,max=64"`
	Severity   models.Severity   `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Details    map[string]string `json:"details,omitempty" validate:"max=32,dive,keys,max=64,endkeys,max=512"`
	DocumentID string            `json:"document_id,omitempty" validate:"max=128"`
}

func (v ViolationRequest) violation() models.Violation {
	return models.Violation{
		PolicyID:   v.PolicyID,
		Type:       v.Type,
		Severity:   v.Severity,
		Details:    v.Details,
		DocumentID: v.DocumentID,
	}
}

// ViolationResponse lists the actions a report triggered.
type ViolationResponse struct {
	Actions  []models.EnforcementAction `json:"actions"`
	Redirect string                     `json:"redirect,omitempty"`
}

// AccessResponse is the evaluator's grant plus where to go when the
// session is gone.
type AccessResponse struct {
	models.AccessGrant
	Redirect string `json:"redirect,omitempty"`
}

// DownloadRequest asks for a usable download permission.
type DownloadRequest struct {
	DocumentID    string             `json:"document_id" validate:"required,max=128"`
	Level         models.AccessLevel `json:"level" validate:"required,accesslevel"`
	Justification string             `json:"justification,omitempty" validate:"max=1000"`
}

// GrantRequest is an archivist's grant. Durations are in whole days.
type GrantRequest struct {
	PrincipalID   string             `json:"principal_id" validate:"required,max=128"`
	DocumentID    string             `json:"document_id" validate:"required,max=128"`
	Level         models.AccessLevel `json:"level" validate:"required,accesslevel"`
	Justification string             `json:"justification" validate:"required,max=1000"`
	DownloadLimit int                `json:"download_limit,omitempty" validate:"gte=0,lte=1000"`
	ExpiresInDays int                `json:"expires_in_days,omitempty" validate:"gte=0,lte=365"`
}

func (g GrantRequest) toDownload() download.GrantRequest {
	return download.GrantRequest{
		PrincipalID:   g.PrincipalID,
		DocumentID:    g.DocumentID,
		Level:         g.Level,
		Justification: g.Justification,
		DownloadLimit: g.DownloadLimit,
		ExpiresIn:     time.Duration(g.ExpiresInDays) * 24 * time.Hour,
	}
}

// WatermarkRequest asks for the caller's watermark on a document.
type WatermarkRequest struct {
	DocumentID string         `json:"document_id" validate:"required,max=128"`
	Kind       watermark.Kind `json:"kind,omitempty" validate:"omitempty,oneof=view download print"`
}

// WatermarkResponse is an issued watermark and its overlay text.
type WatermarkResponse struct {
	watermark.Record
	Text string `json:"text"`
}

// VerifyRequest checks a watermark found on a copy.
type VerifyRequest struct {
	WatermarkID string `json:"watermark_id" validate:"required,max=64"`
	Hash        string `json:"verification_hash" validate:"required,max=128"`
}

// SessionResponse wraps session state.
type SessionResponse struct {
	session.Info
}

// gateRequest builds the caller identity from the authenticated context.
func gateRequest(r *http.Request) gate.Request {
	return gate.Request{
		Principal: auth.PrincipalFromContext(r.Context()),
		SessionID: auth.SessionIDFromContext(r.Context()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP returns the host part of RemoteAddr as set by ChiMiddleware.ClientIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if ip := net.ParseIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return ""
}
