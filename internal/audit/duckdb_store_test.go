// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

//go:build integration

package audit

import (
	"context"
	"testing"
	"time"
)

func TestDuckDBStore_AppendQueryDelete(t *testing.T) {
	ctx := context.Background()
	store, err := OpenDuckDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	defer store.Close()

	old := &Event{
		ID: "old", Timestamp: time.Now().Add(-72 * time.Hour), Type: EventTypeViolation,
		Severity: SeverityInfo, Outcome: OutcomeSuccess, Actor: Actor{ID: "u1", Type: "principal"},
		PolicyID: "rate_limiting", Action: "rate", Description: "old",
	}
	recent := &Event{
		ID: "recent", Timestamp: time.Now(), Type: EventTypeEnforceTerminate,
		Severity: SeverityCritical, Outcome: OutcomePending, Actor: Actor{ID: "u1", Type: "principal"},
		Target: &Target{ID: "s1", Type: "session"}, Action: "terminate", Description: "ended",
		Metadata: []byte(`{"immediate":true}`),
	}

	for _, e := range []*Event{old, recent, recent} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s) error = %v", e.ID, err)
		}
	}

	got, err := store.Query(ctx, QueryFilter{ActorID: "u1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query() returned %d events, want 2 (duplicate append must be ignored)", len(got))
	}
	if got[0].ID != "recent" || got[0].Target == nil || got[0].Target.ID != "s1" {
		t.Errorf("unexpected first event: %+v", got[0])
	}

	removed, err := store.Delete(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Errorf("Delete() = %d, %v; want 1", removed, err)
	}
}
