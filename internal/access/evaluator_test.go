// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package access

import (
	"testing"

	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	reg, err := policy.NewRegistry(policy.Config{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewEvaluator(reg)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t)

	tests := []struct {
		name      string
		principal models.Principal
		doc       Document
		rc        RequestContext
		wantTier  models.Tier
		wantPages int
		wantCode  string
		wantKnown bool
	}{
		{
			name:      "researcher limited by cap",
			principal: models.Principal{ID: "r1", Role: models.RoleResearcher},
			doc:       Document{ID: "d1", PageCount: 20},
			rc:        RequestContext{NetworkAllowed: true},
			wantTier:  models.TierLimitedPreview,
			wantPages: 10,
			wantCode:  ReasonPreview,
			wantKnown: true,
		},
		{
			name:      "researcher without network",
			principal: models.Principal{ID: "r1", Role: models.RoleResearcher},
			doc:       Document{ID: "d1", PageCount: 20},
			rc:        RequestContext{NetworkAllowed: false},
			wantTier:  models.TierNone,
			wantPages: 0,
			wantCode:  models.CodeNetworkDisabled,
			wantKnown: true,
		},
		{
			name:      "short document",
			principal: models.Principal{ID: "g1", Role: models.RoleGuestResearcher},
			doc:       Document{ID: "d2", PageCount: 3},
			rc:        RequestContext{NetworkAllowed: true},
			wantTier:  models.TierLimitedPreview,
			wantPages: 3,
			wantCode:  ReasonPreview,
			wantKnown: true,
		},
		{
			name:      "unknown page count",
			principal: models.Principal{ID: "g1", Role: models.RoleGuestResearcher},
			doc:       Document{ID: "d3", PageCount: 0},
			rc:        RequestContext{NetworkAllowed: true},
			wantTier:  models.TierLimitedPreview,
			wantPages: 5,
			wantCode:  ReasonUnknownPages,
			wantKnown: false,
		},
		{
			name:      "override lowers cap",
			principal: models.Principal{ID: "r1", Role: models.RoleResearcher},
			doc:       Document{ID: "d1", PageCount: 20},
			rc:        RequestContext{NetworkAllowed: true, OverrideMaxPages: 7},
			wantTier:  models.TierLimitedPreview,
			wantPages: 7,
			wantCode:  ReasonPreview,
			wantKnown: true,
		},
		{
			name:      "override never raises researcher cap",
			principal: models.Principal{ID: "r1", Role: models.RoleResearcher},
			doc:       Document{ID: "d1", PageCount: 40},
			rc:        RequestContext{NetworkAllowed: true, OverrideMaxPages: 20},
			wantTier:  models.TierLimitedPreview,
			wantPages: 10,
			wantCode:  ReasonPreview,
			wantKnown: true,
		},
		{
			name:      "override never raises guest cap",
			principal: models.Principal{ID: "g1", Role: models.RoleGuestResearcher},
			doc:       Document{ID: "d1", PageCount: 40},
			rc:        RequestContext{NetworkAllowed: true, OverrideMaxPages: 20},
			wantTier:  models.TierLimitedPreview,
			wantPages: 5,
			wantCode:  ReasonPreview,
			wantKnown: true,
		},
		{
			name:      "unknown role keeps smallest cap under override",
			principal: models.Principal{ID: "x", Role: models.Role("visiting_scholar")},
			doc:       Document{ID: "d1", PageCount: 40},
			rc:        RequestContext{NetworkAllowed: true, OverrideMaxPages: 20},
			wantTier:  models.TierLimitedPreview,
			wantPages: 5,
			wantCode:  ReasonUnknownRole,
			wantKnown: true,
		},
		{
			name:      "unknown role fails closed to smallest cap",
			principal: models.Principal{ID: "x", Role: models.Role("visiting_scholar")},
			doc:       Document{ID: "d1", PageCount: 20},
			rc:        RequestContext{NetworkAllowed: true},
			wantTier:  models.TierLimitedPreview,
			wantPages: 5,
			wantCode:  ReasonUnknownRole,
			wantKnown: true,
		},
		{
			name:      "archivist offline",
			principal: models.Principal{ID: "a1", Role: models.RoleArchivist},
			doc:       Document{ID: "d1", PageCount: 20},
			rc:        RequestContext{NetworkAllowed: false},
			wantTier:  models.TierFull,
			wantPages: models.Unbounded,
			wantCode:  ReasonElevatedRole,
			wantKnown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.principal, tt.doc, tt.rc)
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", got.Tier, tt.wantTier)
			}
			if got.MaxPages != tt.wantPages {
				t.Errorf("MaxPages = %d, want %d", got.MaxPages, tt.wantPages)
			}
			if got.ReasonCode != tt.wantCode {
				t.Errorf("ReasonCode = %q, want %q", got.ReasonCode, tt.wantCode)
			}
			if got.PageCountKnown != tt.wantKnown {
				t.Errorf("PageCountKnown = %v, want %v", got.PageCountKnown, tt.wantKnown)
			}
		})
	}
}

func TestEvaluate_NetworkDisabledReason(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t)
	got := e.Evaluate(models.Principal{ID: "r", Role: models.RoleResearcher}, Document{PageCount: 20}, RequestContext{})
	if got.Reason != "network access disabled" {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestEvaluate_Properties(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t)
	roles := []models.Role{models.RoleResearcher, models.RoleGuestResearcher, models.RoleArchivist, models.RoleAdmin, "other"}

	for _, role := range roles {
		for _, network := range []bool{true, false} {
			for pages := -1; pages <= 40; pages++ {
				p := models.Principal{ID: "p", Role: role}
				got := e.Evaluate(p, Document{ID: "d", PageCount: pages}, RequestContext{NetworkAllowed: network})

				if role.Elevated() {
					if got.Tier != models.TierFull {
						t.Fatalf("%s network=%v: tier %q, want full", role, network, got.Tier)
					}
					continue
				}
				if got.Tier == models.TierFull {
					t.Fatalf("%s received full tier", role)
				}
				if got.MaxPages > e.caps.PreviewLimit(role) {
					t.Fatalf("%s pages=%d: MaxPages %d exceeds cap", role, pages, got.MaxPages)
				}
			}
		}
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t)
	done := make(chan models.AccessGrant, 50)
	for i := 0; i < 50; i++ {
		go func() {
			done <- e.Evaluate(models.Principal{Role: models.RoleResearcher}, Document{PageCount: 20}, RequestContext{NetworkAllowed: true})
		}()
	}
	for i := 0; i < 50; i++ {
		if g := <-done; g.MaxPages != 10 {
			t.Errorf("MaxPages = %d, want 10", g.MaxPages)
		}
	}
}
