// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package audit records enforcement decisions to an external sink.
//
// The Logger keeps a single ordered queue in front of the sink, so events
// for one principal reach the sink in the order they were logged. When the
// sink fails or times out, events are held in a local spool and retried
// with exponential backoff; enforcement never waits on a healthy sink.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/models"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeViolation         EventType = "violation.recorded"
	EventTypeEnforceWarn       EventType = "enforcement.warn"
	EventTypeEnforceRestrict   EventType = "enforcement.restrict"
	EventTypeEnforceTerminate  EventType = "enforcement.terminate"
	EventTypeEnforceBlock      EventType = "enforcement.block"
	EventTypeEnforceReport     EventType = "enforcement.report"
	EventTypeSessionExpired    EventType = "session.expired"
	EventTypeDownloadGranted   EventType = "download.granted"
	EventTypeDownloadConsumed  EventType = "download.consumed"
	EventTypeDownloadDenied    EventType = "download.denied"
	EventTypeWatermarkApplied  EventType = "watermark.applied"
	EventTypePolicyChanged     EventType = "admin.policy_changed"
	EventTypeCounterReset      EventType = "admin.counter_reset"
	EventTypeRestrictionLifted EventType = "admin.restriction_lifted"
)

// EnforcementEventType returns the event type for an action.
func EnforcementEventType(t models.ActionType) EventType {
	return EventType("enforcement." + string(t))
}

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// Event is one audit record.
type Event struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          EventType       `json:"type"`
	Severity      Severity        `json:"severity"`
	Outcome       Outcome         `json:"outcome"`
	Actor         Actor           `json:"actor"`
	Target        *Target         `json:"target,omitempty"`
	Source        Source          `json:"source"`
	PolicyID      string          `json:"policy_id,omitempty"`
	Action        string          `json:"action"`
	Description   string          `json:"description"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// Actor represents who performed or triggered an action.
type Actor struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // principal, system, admin
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Target represents the object of an action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // session, account, ip, document, permission, policy
}

// Source represents where a request originated.
type Source struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Sink is the external durable audit collaborator. Append must be durable
// before it returns nil.
type Sink interface {
	Append(ctx context.Context, event *Event) error
}

// Store is a Sink that can also be queried.
type Store interface {
	Sink
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Types     []EventType `json:"types,omitempty"`
	ActorID   string      `json:"actor_id,omitempty"`
	PolicyID  string      `json:"policy_id,omitempty"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	Limit     int         `json:"limit,omitempty"`
}

// ViolationEvent builds the archive record for a reported violation.
func ViolationEvent(v *models.Violation) *Event {
	return &Event{
		Timestamp: v.Timestamp,
		Type:      EventTypeViolation,
		Severity:  severityFor(v.Severity),
		Outcome:   OutcomeSuccess,
		Actor: Actor{
			ID:        v.PrincipalKey(),
			Type:      "principal",
			SessionID: v.SessionID,
		},
		Target:      documentTarget(v.DocumentID),
		Source:      Source{IPAddress: v.IP, UserAgent: v.UserAgent},
		PolicyID:    v.PolicyID,
		Action:      v.Type,
		Description: "Client reported " + v.Type,
		Metadata:    mustJSON(v.Details),
	}
}

// ActionEvent builds the record written before an enforcement action runs.
func ActionEvent(a *models.EnforcementAction, v *models.Violation) *Event {
	e := &Event{
		Timestamp: time.Now(),
		Type:      EnforcementEventType(a.Type),
		Severity:  SeverityInfo,
		Outcome:   OutcomePending,
		Actor: Actor{
			ID:        v.PrincipalKey(),
			Type:      "principal",
			SessionID: v.SessionID,
		},
		Source:      Source{IPAddress: v.IP, UserAgent: v.UserAgent},
		PolicyID:    v.PolicyID,
		Action:      string(a.Type),
		Description: a.Message,
		Metadata: mustJSON(map[string]interface{}{
			"immediate":        a.Immediate,
			"duration_seconds": a.Duration.Seconds(),
			"scope":            a.Scope,
			"violation_type":   v.Type,
		}),
	}

	switch a.Type {
	case models.ActionTerminate:
		e.Severity = SeverityCritical
		e.Target = &Target{ID: v.SessionID, Type: "session"}
	case models.ActionBlock:
		e.Severity = SeverityCritical
		e.Target = &Target{ID: v.PrincipalKey(), Type: "account"}
	case models.ActionRestrict:
		e.Severity = SeverityWarning
		if a.Scope == models.ScopeIP {
			e.Target = &Target{ID: v.IP, Type: "ip"}
		} else {
			e.Target = &Target{ID: v.SessionID, Type: "session"}
		}
	case models.ActionReport:
		e.Severity = SeverityWarning
	}
	return e
}

func documentTarget(id string) *Target {
	if id == "" {
		return nil
	}
	return &Target{ID: id, Type: "document"}
}

func severityFor(s models.Severity) Severity {
	switch s {
	case models.SeverityHigh, models.SeverityCritical:
		return SeverityCritical
	case models.SeverityMedium:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// PermissionEvent builds the record for a download grant decision.
func PermissionEvent(t EventType, p *models.DownloadPermission, actor models.Principal, description string) *Event {
	e := &Event{
		Timestamp: time.Now(),
		Type:      t,
		Severity:  SeverityInfo,
		Outcome:   OutcomeSuccess,
		Actor: Actor{
			ID:   actor.Key(),
			Type: "principal",
			Role: string(actor.Role),
		},
		Target:      &Target{ID: p.ID, Type: "permission"},
		Action:      string(p.Level),
		Description: description,
		Metadata: mustJSON(map[string]interface{}{
			"document_id":    p.DocumentID,
			"principal_id":   p.PrincipalID,
			"downloads_used": p.DownloadsUsed,
			"download_limit": p.DownloadLimit,
			"expires_at":     p.ExpiresAt,
			"implicit":       p.Implicit,
		}),
	}
	if t == EventTypeDownloadDenied {
		e.Outcome = OutcomeFailure
		e.Severity = SeverityWarning
	}
	return e
}
