// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("policy", "screenshot_protection").Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"policy":"screenshot_protection"`) {
		t.Errorf("expected output to contain policy field, got: %s", output)
	}
	if !strings.Contains(output, `"service":"thesisguard"`) {
		t.Errorf("expected output to contain service field, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCtx_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "corr1234")
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithPrincipal(ctx, "reader-7", "sess-0123456789abcdef")
	Ctx(ctx).Info().Msg("hello")

	output := buf.String()
	if !strings.Contains(output, `"principal_id":"reader-7"`) {
		t.Errorf("missing principal_id: %s", output)
	}
	if !strings.Contains(output, `"session_id":"sess...cdef"`) || strings.Contains(output, "sess-0123456789abcdef") {
		t.Errorf("session_id not masked: %s", output)
	}
	if !strings.Contains(output, `"correlation_id":"corr1234"`) {
		t.Errorf("missing correlation_id: %s", output)
	}
	if !strings.Contains(output, `"request_id":"req-1"`) {
		t.Errorf("missing request_id: %s", output)
	}
}

func TestContextIDs_Empty(t *testing.T) {
	t.Parallel()

	if id := CorrelationIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty correlation ID, got %q", id)
	}
	if id := RequestIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}
	if len(GenerateCorrelationID()) != 8 {
		t.Error("expected 8 character correlation ID")
	}
}

func TestSecurityLogger_MasksSession(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLoggerWithLogger(NewTestLogger(&buf))

	sl.LogEvent(&SecurityEvent{
		Event:       "session_terminated",
		PrincipalID: "u1",
		SessionID:   "abcdef1234567890",
		PolicyID:    "dev_tools_detection",
		Success:     true,
		Details:     map[string]string{"token": "supersecretvalue"},
	})

	output := buf.String()
	if strings.Contains(output, "abcdef1234567890") {
		t.Errorf("session id leaked: %s", output)
	}
	if !strings.Contains(output, "abcd...7890") {
		t.Errorf("expected masked session id: %s", output)
	}
	if strings.Contains(output, "supersecretvalue") {
		t.Errorf("token leaked: %s", output)
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	if got := SanitizeError("invalid bearer token"); got != "authentication error" {
		t.Errorf("SanitizeError() = %q", got)
	}
	if got := SanitizeError("store unavailable"); got != "store unavailable" {
		t.Errorf("SanitizeError() = %q", got)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))

	logger.WithGroup("svc").Warn("restarting", slog.String("name", "sweeper"), slog.Int("attempt", 2))

	output := buf.String()
	if !strings.Contains(output, `"level":"warn"`) {
		t.Errorf("expected warn level: %s", output)
	}
	if !strings.Contains(output, `"svc.name":"sweeper"`) {
		t.Errorf("expected grouped attribute: %s", output)
	}
	if !strings.Contains(output, `"svc.attempt":2`) {
		t.Errorf("expected int attribute: %s", output)
	}
}
