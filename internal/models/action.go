// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ActionType is the kind of enforcement side effect.
type ActionType string

const (
	ActionWarn      ActionType = "warn"
	ActionRestrict  ActionType = "restrict"
	ActionTerminate ActionType = "terminate"
	ActionBlock     ActionType = "block"
	ActionReport    ActionType = "report"
)

// Destructive reports whether the action tears down a session.
func (t ActionType) Destructive() bool {
	return t == ActionTerminate || t == ActionBlock
}

// Scope is what a restriction or block record applies to.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeIP      Scope = "ip"
	ScopeAccount Scope = "account"
)

// EnforcementAction is a decision record. It is executed once and then
// discarded; only its side effects persist. On the wire Duration is
// duration_seconds.
type EnforcementAction struct {
	Type      ActionType    `json:"type"`
	Immediate bool          `json:"immediate"`
	Duration  time.Duration `json:"-"`
	Message   string        `json:"message,omitempty"`
	Scope     Scope         `json:"scope,omitempty"`
}

type actionJSON struct {
	Type            ActionType `json:"type"`
	Immediate       bool       `json:"immediate"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	Message         string     `json:"message,omitempty"`
	Scope           Scope      `json:"scope,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a EnforcementAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionJSON{
		Type:            a.Type,
		Immediate:       a.Immediate,
		DurationSeconds: int64(a.Duration / time.Second),
		Message:         a.Message,
		Scope:           a.Scope,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *EnforcementAction) UnmarshalJSON(data []byte) error {
	var w actionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = EnforcementAction{
		Type:      w.Type,
		Immediate: w.Immediate,
		Duration:  time.Duration(w.DurationSeconds) * time.Second,
		Message:   w.Message,
		Scope:     w.Scope,
	}
	return nil
}

// Restriction is a time-bounded record produced by restrict and block actions.
type Restriction struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	Subject   string    `json:"subject"`
	PolicyID  string    `json:"policy_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the restriction is still in force at now.
func (r *Restriction) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Notice is a user-facing message emitted by warn and restrict actions.
type Notice struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	SessionID   string     `json:"session_id,omitempty"`
	PolicyID    string     `json:"policy_id"`
	Action      ActionType `json:"action"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Alert is an admin-facing security alert produced by report actions.
type Alert struct {
	ID          string            `json:"id"`
	PolicyID    string            `json:"policy_id"`
	Type        string            `json:"violation_type"`
	Severity    Severity          `json:"severity"`
	PrincipalID string            `json:"principal_id"`
	SessionID   string            `json:"session_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
