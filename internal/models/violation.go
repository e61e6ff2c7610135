// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package models

import "time"

// Severity ranks policies and violations.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordinal for comparisons; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Violation is a suspicious client event reported by a detector.
// It is immutable once created.
type Violation struct {
	PolicyID    string            `json:"policy_id" validate:"required,max=64"`
	Type        string            `json:"violation_type" validate:"required,max=64"`
	Severity    Severity          `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Details     map[string]string `json:"details,omitempty" validate:"max=32"`
	Timestamp   time.Time         `json:"timestamp"`
	PrincipalID string            `json:"principal_id,omitempty" validate:"max=128"`
	SessionID   string            `json:"session_id,omitempty" validate:"max=256"`
	DocumentID  string            `json:"document_id,omitempty" validate:"max=128"`
	IP          string            `json:"ip,omitempty" validate:"omitempty,ip"`
	UserAgent   string            `json:"user_agent,omitempty" validate:"max=512"`
}

// PrincipalKey returns the counter key for the reporting principal.
func (v *Violation) PrincipalKey() string {
	return PrincipalKey(v.PrincipalID)
}
