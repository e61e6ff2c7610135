// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package policy holds the named security policies, their typed settings,
// the per-role preview caps, and the data-driven decision table that maps a
// (policy, violation count) pair to enforcement actions.
//
// Policies are created at start from a fixed catalogue overlaid by
// configuration. At runtime they change only through SetEnabled.
package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/validation"
)

// Policy identifiers in the default catalogue.
const (
	ScreenshotProtection       = "screenshot_protection"
	DevToolsDetection          = "dev_tools_detection"
	TextSelectionProtection    = "text_selection_protection"
	SessionSecurity            = "session_security"
	RateLimiting               = "rate_limiting"
	GeolocationRestriction     = "geolocation_restriction"
	DataExfiltrationPrevention = "data_exfiltration_prevention"

	// SessionTimeout is a synthetic policy used for inactivity expiry.
	// It has no decision rule and never increments a counter.
	SessionTimeout = "session_timeout"
)

// Settings is the typed configuration of a policy. Only the fields a
// policy's rule reads are meaningful for it.
type Settings struct {
	MaxAttempts          int               `koanf:"max_attempts" validate:"gte=0,lte=10000"`
	BlockDuration        time.Duration     `koanf:"block_duration" validate:"gte=0"`
	CooldownPeriod       time.Duration     `koanf:"cooldown_period" validate:"gte=0"`
	Escalation           models.ActionType `koanf:"escalation" validate:"omitempty,oneof=restrict terminate"`
	IPBlockDuration      time.Duration     `koanf:"ip_block_duration" validate:"gte=0"`
	AccountBlockDuration time.Duration     `koanf:"account_block_duration" validate:"gte=0"`
	RequestsPerWindow    int               `koanf:"requests_per_window" validate:"gte=0"`
	Window               time.Duration     `koanf:"window" validate:"gte=0"`
	AllowedCountries     []string          `koanf:"allowed_countries" validate:"dive,country"`
}

// Policy is a named, enable-able security policy.
type Policy struct {
	ID          string          `json:"id" validate:"required,policyid"`
	Name        string          `json:"name" validate:"required,max=128"`
	Description string          `json:"description,omitempty"`
	Enabled     bool            `json:"enabled"`
	Severity    models.Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	AutoEnforce bool            `json:"auto_enforce"`
	Settings    Settings        `json:"settings"`
}

// Override adjusts a catalogue policy from configuration. Nil fields keep
// the catalogue value.
type Override struct {
	Enabled     *bool            `koanf:"enabled"`
	Severity    *models.Severity `koanf:"severity"`
	AutoEnforce *bool            `koanf:"auto_enforce"`
	Settings    *Settings        `koanf:"settings"`
}

// Config configures a Registry.
type Config struct {
	Overrides     map[string]Override
	PreviewLimits map[models.Role]int
}

// DefaultPreviewLimits are the per-role page caps for limited previews.
func DefaultPreviewLimits() map[models.Role]int {
	return map[models.Role]int{
		models.RoleResearcher:      10,
		models.RoleGuestResearcher: 5,
	}
}

// Catalogue returns the built-in policy set.
func Catalogue() []Policy {
	return []Policy{
		{
			ID:          ScreenshotProtection,
			Name:        "Screenshot and print protection",
			Description: "Print, save and screen capture shortcuts",
			Enabled:     true,
			Severity:    models.SeverityMedium,
			AutoEnforce: true,
			Settings: Settings{
				MaxAttempts:   3,
				BlockDuration: 15 * time.Minute,
				Escalation:    models.ActionRestrict,
			},
		},
		{
			ID:          DevToolsDetection,
			Name:        "Developer tools detection",
			Description: "Browser developer tools opened while viewing",
			Enabled:     true,
			Severity:    models.SeverityHigh,
			AutoEnforce: true,
			Settings:    Settings{MaxAttempts: 1},
		},
		{
			ID:          TextSelectionProtection,
			Name:        "Text selection protection",
			Description: "Selection, copy and drag attempts",
			Enabled:     true,
			Severity:    models.SeverityLow,
			AutoEnforce: true,
			Settings:    Settings{MaxAttempts: 5},
		},
		{
			ID:          SessionSecurity,
			Name:        "Session security",
			Description: "Session, IP or user agent anomaly",
			Enabled:     true,
			Severity:    models.SeverityCritical,
			AutoEnforce: true,
			Settings:    Settings{IPBlockDuration: 24 * time.Hour},
		},
		{
			ID:          RateLimiting,
			Name:        "Request rate limiting",
			Description: "Document requests above the allowed rate",
			Enabled:     true,
			Severity:    models.SeverityMedium,
			AutoEnforce: true,
			Settings: Settings{
				CooldownPeriod:    5 * time.Minute,
				RequestsPerWindow: 60,
				Window:            time.Minute,
			},
		},
		{
			ID:          GeolocationRestriction,
			Name:        "Geolocation restriction",
			Description: "Access from outside the allowed countries",
			Enabled:     false,
			Severity:    models.SeverityHigh,
			AutoEnforce: false,
			Settings:    Settings{AccountBlockDuration: 24 * time.Hour},
		},
		{
			ID:          DataExfiltrationPrevention,
			Name:        "Data exfiltration prevention",
			Description: "Bulk or rapid data transfer pattern",
			Enabled:     true,
			Severity:    models.SeverityCritical,
			AutoEnforce: true,
			Settings:    Settings{AccountBlockDuration: 7 * 24 * time.Hour},
		},
	}
}

// Registry holds the policies. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	limits   map[models.Role]int
	minLimit int
	rules    map[string]Rule
}

// NewRegistry builds the registry from the catalogue and cfg. Any invalid
// setting or override for an unknown policy is an error; callers treat it
// as fatal at start.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{
		policies: make(map[string]Policy),
		limits:   DefaultPreviewLimits(),
		rules:    DefaultRules(),
	}

	for _, p := range Catalogue() {
		r.policies[p.ID] = p
	}

	for id, o := range cfg.Overrides {
		p, ok := r.policies[id]
		if !ok {
			return nil, fmt.Errorf("policy override for unknown policy %q", id)
		}
		if o.Enabled != nil {
			p.Enabled = *o.Enabled
		}
		if o.Severity != nil {
			p.Severity = *o.Severity
		}
		if o.AutoEnforce != nil {
			p.AutoEnforce = *o.AutoEnforce
		}
		if o.Settings != nil {
			p.Settings = mergeSettings(p.Settings, *o.Settings)
		}
		r.policies[id] = p
	}

	for id := range r.policies {
		p := r.policies[id]
		if err := validation.ValidateStruct(&p); err != nil {
			return nil, fmt.Errorf("policy %q: %w", id, err)
		}
		if _, ok := r.rules[id]; !ok {
			return nil, fmt.Errorf("policy %q has no decision rule", id)
		}
	}

	for role, limit := range cfg.PreviewLimits {
		if limit <= 0 {
			return nil, fmt.Errorf("preview limit for role %q must be positive, got %d", role, limit)
		}
		r.limits[role] = limit
	}
	r.minLimit = 0
	for _, limit := range r.limits {
		if r.minLimit == 0 || limit < r.minLimit {
			r.minLimit = limit
		}
	}

	return r, nil
}

// mergeSettings overlays non-zero fields of o onto base.
func mergeSettings(base, o Settings) Settings {
	if o.MaxAttempts != 0 {
		base.MaxAttempts = o.MaxAttempts
	}
	if o.BlockDuration != 0 {
		base.BlockDuration = o.BlockDuration
	}
	if o.CooldownPeriod != 0 {
		base.CooldownPeriod = o.CooldownPeriod
	}
	if o.Escalation != "" {
		base.Escalation = o.Escalation
	}
	if o.IPBlockDuration != 0 {
		base.IPBlockDuration = o.IPBlockDuration
	}
	if o.AccountBlockDuration != 0 {
		base.AccountBlockDuration = o.AccountBlockDuration
	}
	if o.RequestsPerWindow != 0 {
		base.RequestsPerWindow = o.RequestsPerWindow
	}
	if o.Window != 0 {
		base.Window = o.Window
	}
	if o.AllowedCountries != nil {
		base.AllowedCountries = o.AllowedCountries
	}
	return base
}

// Get returns a copy of the policy with the given ID.
func (r *Registry) Get(id string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	return p, ok
}

// Active returns the policy if it exists and is enabled.
func (r *Registry) Active(id string) (Policy, bool) {
	p, ok := r.Get(id)
	if !ok || !p.Enabled {
		return Policy{}, false
	}
	return p, true
}

// List returns all policies sorted by ID.
func (r *Registry) List() []Policy {
	r.mu.RLock()
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEnabled enables or disables a policy. It returns false for unknown IDs.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return false
	}
	p.Enabled = enabled
	r.policies[id] = p
	return true
}

// PreviewLimit returns the page cap for a non-elevated role. Unknown roles
// get the smallest configured cap.
func (r *Registry) PreviewLimit(role models.Role) int {
	if limit, ok := r.limits[role]; ok {
		return limit
	}
	return r.minLimit
}

// Rule returns the decision rule for a policy.
func (r *Registry) Rule(id string) (Rule, bool) {
	rule, ok := r.rules[id]
	return rule, ok
}
