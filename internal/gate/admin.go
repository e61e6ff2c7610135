// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package gate

import (
	"context"
	"errors"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

// ErrPolicyNotFound is returned for unknown policy IDs on admin calls.
var ErrPolicyNotFound = errors.New("policy not found")

// Admin operations. Authorization happens at the transport layer; these
// methods record who acted.

func adminActor(admin models.Principal) audit.Actor {
	return audit.Actor{ID: admin.Key(), Type: "admin", Role: string(admin.Role)}
}

func (s *Service) logAdmin(t audit.EventType, admin models.Principal, target *audit.Target, action, description string, meta map[string]string) {
	event := &audit.Event{
		Type:        t,
		Severity:    audit.SeverityWarning,
		Outcome:     audit.OutcomeSuccess,
		Actor:       adminActor(admin),
		Target:      target,
		Action:      action,
		Description: description,
	}
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			event.Metadata = data
		}
	}
	if s.audit != nil {
		s.audit.Log(event)
	}
	logging.Info().Str("admin", admin.Key()).Str("action", action).Msg(description)
}

// Policies lists every policy.
func (s *Service) Policies() []policy.Policy {
	return s.policies.List()
}

// SetPolicyEnabled enables or disables a policy.
func (s *Service) SetPolicyEnabled(_ context.Context, admin models.Principal, id string, enabled bool) (policy.Policy, error) {
	if !s.policies.SetEnabled(id, enabled) {
		return policy.Policy{}, ErrPolicyNotFound
	}
	action := "disable"
	if enabled {
		action = "enable"
	}
	s.logAdmin(audit.EventTypePolicyChanged, admin, &audit.Target{ID: id, Type: "policy"}, action,
		"Policy "+id+" "+action+"d by administrator", nil)
	p, _ := s.policies.Get(id)
	return p, nil
}

// ViolationCounts returns a principal's counters by policy.
func (s *Service) ViolationCounts(principalID string) map[string]int {
	return s.tracker.Counts(models.PrincipalKey(principalID))
}

// ResetCounters clears a principal's counters for one policy, or for all
// policies when policyID is empty. It returns how many were cleared.
func (s *Service) ResetCounters(_ context.Context, admin models.Principal, principalID, policyID string) int {
	n := s.tracker.Reset(models.PrincipalKey(principalID), policyID)
	s.logAdmin(audit.EventTypeCounterReset, admin, &audit.Target{ID: models.PrincipalKey(principalID), Type: "account"},
		"reset", "Violation counters reset by administrator", map[string]string{
			"policy_id": policyID,
			"cleared":   strconv.Itoa(n),
		})
	return n
}

// GrantDownload issues a download permission.
func (s *Service) GrantDownload(ctx context.Context, admin models.Principal, req download.GrantRequest) (*models.DownloadPermission, error) {
	return s.downloads.Grant(ctx, admin, req)
}

// Alerts returns recent security alerts.
func (s *Service) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return s.engine.Alerts(ctx, limit)
}

// Restrictions lists restrictions in force.
func (s *Service) Restrictions(ctx context.Context) ([]models.Restriction, error) {
	return s.engine.Restrictions(ctx)
}

// LiftRestriction removes a restriction early.
func (s *Service) LiftRestriction(ctx context.Context, admin models.Principal, id string) (bool, error) {
	return s.engine.LiftRestriction(ctx, id, admin)
}
