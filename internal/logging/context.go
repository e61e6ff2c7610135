// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	requestIDKey     contextKey = "request_id"
	principalKey     contextKey = "principal"
)

type principalFields struct {
	principalID string
	sessionID   string
}

// GenerateCorrelationID creates a new short correlation ID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithPrincipal records the authenticated principal and session so
// that Ctx attaches them. The session ID is masked when logged.
func ContextWithPrincipal(ctx context.Context, principalID, sessionID string) context.Context {
	return context.WithValue(ctx, principalKey, principalFields{principalID: principalID, sessionID: sessionID})
}

// Ctx returns a logger with the request, correlation and principal fields
// from ctx attached.
//
//	logging.Ctx(ctx).Info().Msg("Processing violation")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := current().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("request_id", id)
	}
	if p, ok := ctx.Value(principalKey).(principalFields); ok {
		if p.principalID != "" {
			logCtx = logCtx.Str("principal_id", p.principalID)
		}
		if p.sessionID != "" {
			logCtx = logCtx.Str("session_id", SanitizeSessionID(p.sessionID))
		}
	}
	l := logCtx.Logger()
	return &l
}
