// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package policy

import (
	"strings"

	"github.com/tomtom215/thesisguard/internal/models"
)

// Rule maps a violation and the updated counter value to actions. Rules are
// pure: the same inputs always give the same output.
type Rule func(v *models.Violation, count int, p Policy) []models.EnforcementAction

// DefaultRules is the decision table for the catalogue. Adding a policy
// means adding a catalogue entry and a row here.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ScreenshotProtection:       thresholdRule(escalate),
		DevToolsDetection:          thresholdRule(terminateAndReport),
		TextSelectionProtection:    thresholdRule(terminateOnly),
		SessionSecurity:            sessionAnomalyRule,
		RateLimiting:               rateLimitRule,
		GeolocationRestriction:     geolocationRule,
		DataExfiltrationPrevention: exfiltrationRule,
	}
}

// thresholdRule warns until count reaches MaxAttempts, then applies onLimit.
// A MaxAttempts of 0 or 1 escalates on the first violation.
func thresholdRule(onLimit func(p Policy) []models.EnforcementAction) Rule {
	return func(_ *models.Violation, count int, p Policy) []models.EnforcementAction {
		if count >= p.Settings.MaxAttempts {
			return onLimit(p)
		}
		return []models.EnforcementAction{warn(p, count)}
	}
}

func warn(p Policy, count int) models.EnforcementAction {
	remaining := p.Settings.MaxAttempts - count
	msg := p.Name + " violation recorded."
	if remaining > 0 {
		msg += " Further attempts will restrict access."
	}
	return models.EnforcementAction{
		Type:      models.ActionWarn,
		Immediate: true,
		Message:   msg,
	}
}

func escalate(p Policy) []models.EnforcementAction {
	if p.Settings.Escalation == models.ActionTerminate {
		return terminateOnly(p)
	}
	return []models.EnforcementAction{{
		Type:      models.ActionRestrict,
		Immediate: true,
		Duration:  p.Settings.BlockDuration,
		Message:   "Document access is restricted after repeated " + strings.ToLower(p.Name) + " violations.",
		Scope:     models.ScopeSession,
	}}
}

func terminateOnly(p Policy) []models.EnforcementAction {
	return []models.EnforcementAction{terminate(p)}
}

func terminate(p Policy) models.EnforcementAction {
	return models.EnforcementAction{
		Type:      models.ActionTerminate,
		Immediate: true,
		Message:   "Your session was ended by the " + strings.ToLower(p.Name) + " policy.",
		Scope:     models.ScopeSession,
	}
}

func report(p Policy) models.EnforcementAction {
	return models.EnforcementAction{
		Type:    models.ActionReport,
		Message: p.Name + " violation requires review.",
	}
}

func terminateAndReport(p Policy) []models.EnforcementAction {
	return []models.EnforcementAction{terminate(p), report(p)}
}

func blockAccount(p Policy) models.EnforcementAction {
	return models.EnforcementAction{
		Type:      models.ActionBlock,
		Immediate: true,
		Duration:  p.Settings.AccountBlockDuration,
		Message:   "The account is blocked by the " + strings.ToLower(p.Name) + " policy.",
		Scope:     models.ScopeAccount,
	}
}

// sessionAnomalyRule terminates and restricts the client IP. The IP record is
// a restriction rather than a block because blocks are account-scoped.
func sessionAnomalyRule(_ *models.Violation, _ int, p Policy) []models.EnforcementAction {
	return []models.EnforcementAction{
		terminate(p),
		{
			Type:      models.ActionRestrict,
			Immediate: true,
			Duration:  p.Settings.IPBlockDuration,
			Message:   "Access from this network address is restricted.",
			Scope:     models.ScopeIP,
		},
	}
}

func rateLimitRule(_ *models.Violation, _ int, p Policy) []models.EnforcementAction {
	return []models.EnforcementAction{{
		Type:      models.ActionRestrict,
		Immediate: true,
		Duration:  p.Settings.CooldownPeriod,
		Message:   "Too many requests. Please wait before continuing.",
		Scope:     models.ScopeSession,
	}}
}

// geolocationRule ignores claims whose reported country is on the allow-list.
func geolocationRule(v *models.Violation, _ int, p Policy) []models.EnforcementAction {
	if v != nil && countryAllowed(v.Details["country"], p.Settings.AllowedCountries) {
		return nil
	}
	if p.AutoEnforce {
		return []models.EnforcementAction{blockAccount(p)}
	}
	return []models.EnforcementAction{report(p)}
}

func countryAllowed(country string, allowed []string) bool {
	if country == "" {
		return false
	}
	for _, c := range allowed {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

func exfiltrationRule(_ *models.Violation, _ int, p Policy) []models.EnforcementAction {
	return []models.EnforcementAction{terminate(p), blockAccount(p), report(p)}
}
