// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent is an enforcement-relevant event written to the security log.
type SecurityEvent struct {
	// Event is the event name (e.g. "session_terminated", "account_blocked").
	Event string
	// PrincipalID is the acting principal, if known.
	PrincipalID string
	// SessionID is the session identifier; it is masked before logging.
	SessionID string
	// PolicyID is the policy that triggered the event.
	PolicyID string
	// IPAddress is the client's IP address.
	IPAddress string
	// UserAgent is the client's user agent (truncated).
	UserAgent string
	// Success indicates whether the operation completed.
	Success bool
	// Error is the error message if the operation failed.
	Error string
	// Details contains additional details, sanitized by key.
	Details map[string]string
}

// SecurityLogger writes enforcement events with sensitive values masked.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on top of the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: WithComponent("security")}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With().Str("component", "security").Logger()}
}

// LogEvent logs a security event with automatic sanitization.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	var e *zerolog.Event
	if event.Success {
		e = l.logger.Info().Str("status", "success")
	} else {
		e = l.logger.Warn().Str("status", "failed")
	}
	e = e.Str("event", event.Event)
	if event.PrincipalID != "" {
		e = e.Str("principal_id", event.PrincipalID)
	}
	if event.SessionID != "" {
		e = e.Str("session_id", SanitizeSessionID(event.SessionID))
	}
	if event.PolicyID != "" {
		e = e.Str("policy", event.PolicyID)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.UserAgent != "" {
		e = e.Str("user_agent", truncateString(event.UserAgent, 100))
	}
	if event.Error != "" && !event.Success {
		e = e.Str("error", SanitizeError(event.Error))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("")
}

// SanitizeSessionID keeps the first and last four characters of a session ID.
func SanitizeSessionID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 8 {
		return "***"
	}
	return id[:4] + "..." + id[len(id)-4:]
}

// SanitizeToken keeps only the first four characters of a token.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***"
}

// SanitizeError replaces error messages that look like they carry secrets.
func SanitizeError(err string) string {
	lowerErr := strings.ToLower(err)
	for _, pattern := range []string{"password", "secret", "token", "bearer", "authorization", "cookie"} {
		if strings.Contains(lowerErr, pattern) {
			return "authentication error"
		}
	}
	return truncateString(err, 200)
}

// SanitizeValue sanitizes a value based on its key name.
func SanitizeValue(key, value string) string {
	switch strings.ToLower(key) {
	case "token", "access_token", "password", "secret", "authorization", "cookie", "signature":
		return SanitizeToken(value)
	case "session", "session_id":
		return SanitizeSessionID(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
