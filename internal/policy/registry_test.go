// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package policy

import (
	"testing"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_Catalogue(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})

	want := []string{
		DataExfiltrationPrevention, DevToolsDetection, GeolocationRestriction,
		RateLimiting, ScreenshotProtection, SessionSecurity, TextSelectionProtection,
	}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List() returned %d policies, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
		if _, ok := r.Rule(id); !ok {
			t.Errorf("policy %q has no rule", id)
		}
	}
}

func TestNewRegistry_Overrides(t *testing.T) {
	t.Parallel()

	enabled := true
	r := newTestRegistry(t, Config{
		Overrides: map[string]Override{
			ScreenshotProtection: {Settings: &Settings{MaxAttempts: 4, Escalation: models.ActionTerminate}},
			GeolocationRestriction: {
				Enabled:  &enabled,
				Settings: &Settings{AllowedCountries: []string{"DE"}},
			},
		},
		PreviewLimits: map[models.Role]int{models.RoleResearcher: 8},
	})

	p, _ := r.Get(ScreenshotProtection)
	if p.Settings.MaxAttempts != 4 || p.Settings.Escalation != models.ActionTerminate {
		t.Errorf("override not applied: %+v", p.Settings)
	}
	if p.Settings.BlockDuration != 15*time.Minute {
		t.Errorf("expected catalogue BlockDuration to survive merge, got %v", p.Settings.BlockDuration)
	}
	if _, ok := r.Active(GeolocationRestriction); !ok {
		t.Error("expected geolocation policy to be enabled by override")
	}
	if got := r.PreviewLimit(models.RoleResearcher); got != 8 {
		t.Errorf("PreviewLimit(researcher) = %d, want 8", got)
	}
}

func TestNewRegistry_InvalidConfig(t *testing.T) {
	t.Parallel()

	sev := models.Severity("extreme")
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown policy", Config{Overrides: map[string]Override{"nope": {}}}},
		{"bad escalation", Config{Overrides: map[string]Override{
			ScreenshotProtection: {Settings: &Settings{Escalation: models.ActionReport}},
		}}},
		{"bad severity", Config{Overrides: map[string]Override{RateLimiting: {Severity: &sev}}}},
		{"bad country", Config{Overrides: map[string]Override{
			GeolocationRestriction: {Settings: &Settings{AllowedCountries: []string{"germany"}}},
		}}},
		{"negative duration", Config{Overrides: map[string]Override{
			RateLimiting: {Settings: &Settings{CooldownPeriod: -time.Second}},
		}}},
		{"negative preview limit", Config{PreviewLimits: map[models.Role]int{models.RoleResearcher: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_SetEnabled(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})

	if !r.SetEnabled(TextSelectionProtection, false) {
		t.Fatal("SetEnabled returned false for known policy")
	}
	if _, ok := r.Active(TextSelectionProtection); ok {
		t.Error("expected policy to be inactive")
	}
	if r.SetEnabled("unknown", true) {
		t.Error("SetEnabled should return false for unknown policy")
	}
}

func TestRegistry_PreviewLimit(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})

	tests := []struct {
		role models.Role
		want int
	}{
		{models.RoleResearcher, 10},
		{models.RoleGuestResearcher, 5},
		{models.Role("visitor"), 5},
		{models.Role(""), 5},
	}
	for _, tt := range tests {
		if got := r.PreviewLimit(tt.role); got != tt.want {
			t.Errorf("PreviewLimit(%q) = %d, want %d", tt.role, got, tt.want)
		}
	}
}
