// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/thesisguard/internal/models"
)

func TestMemoryStore_QueryAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100)
	old := time.Now().Add(-48 * time.Hour)

	_ = s.Append(ctx, &Event{ID: "1", Type: EventTypeViolation, Actor: Actor{ID: "u1"}, PolicyID: "rate_limiting", Timestamp: old})
	_ = s.Append(ctx, &Event{ID: "2", Type: EventTypeEnforceWarn, Actor: Actor{ID: "u1"}, Timestamp: time.Now()})
	_ = s.Append(ctx, &Event{ID: "3", Type: EventTypeViolation, Actor: Actor{ID: "u2"}, Timestamp: time.Now()})

	got, _ := s.Query(ctx, QueryFilter{Types: []EventType{EventTypeViolation}})
	if len(got) != 2 || got[0].ID != "3" {
		t.Fatalf("Query() = %+v, want [3 1]", got)
	}
	got, _ = s.Query(ctx, QueryFilter{ActorID: "u1", Limit: 1})
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("Query(actor, limit) = %+v", got)
	}

	removed, _ := s.Delete(ctx, time.Now().Add(-time.Hour))
	if removed != 1 || s.Len() != 2 {
		t.Errorf("Delete() removed %d, remaining %d", removed, s.Len())
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	s := NewMemoryStore(10)
	for i := 0; i < 15; i++ {
		_ = s.Append(context.Background(), &Event{ID: string(rune('a' + i))})
	}
	if s.Len() > 10 {
		t.Errorf("Len() = %d, want <= 10", s.Len())
	}
}

func TestActionEvent_Targets(t *testing.T) {
	v := &models.Violation{PolicyID: "session_security", Type: "ip_change", SessionID: "s1", IP: "10.0.0.1"}

	tests := []struct {
		action     models.EnforcementAction
		wantType   EventType
		wantTarget Target
		wantSev    Severity
	}{
		{models.EnforcementAction{Type: models.ActionTerminate}, EventTypeEnforceTerminate, Target{ID: "s1", Type: "session"}, SeverityCritical},
		{models.EnforcementAction{Type: models.ActionBlock, Scope: models.ScopeAccount}, EventTypeEnforceBlock, Target{ID: "anonymous", Type: "account"}, SeverityCritical},
		{models.EnforcementAction{Type: models.ActionRestrict, Scope: models.ScopeIP}, EventTypeEnforceRestrict, Target{ID: "10.0.0.1", Type: "ip"}, SeverityWarning},
	}

	for _, tt := range tests {
		e := ActionEvent(&tt.action, v)
		if e.Type != tt.wantType {
			t.Errorf("Type = %q, want %q", e.Type, tt.wantType)
		}
		if e.Target == nil || *e.Target != tt.wantTarget {
			t.Errorf("%s: Target = %+v, want %+v", tt.action.Type, e.Target, tt.wantTarget)
		}
		if e.Severity != tt.wantSev {
			t.Errorf("%s: Severity = %q, want %q", tt.action.Type, e.Severity, tt.wantSev)
		}
		if e.PolicyID != "session_security" {
			t.Errorf("PolicyID = %q", e.PolicyID)
		}
	}
}

type fakePublisher struct {
	subjects []string
	msgIDs   int
}

func (f *fakePublisher) Publish(_ context.Context, subject string, _ []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	f.msgIDs += len(opts)
	return &jetstream.PubAck{Stream: "THESISGUARD_AUDIT", Sequence: uint64(len(f.subjects))}, nil
}

func TestNATSSink_Append(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "")

	if err := sink.Append(context.Background(), &Event{ID: "e1", Type: EventTypeEnforceTerminate}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "thesisguard.audit.enforcement_terminate" {
		t.Errorf("subjects = %v", pub.subjects)
	}
	if pub.msgIDs != 1 {
		t.Error("expected message ID option for deduplication")
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
