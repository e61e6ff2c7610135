// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	sessionContextKey   contextKey = "session_id"
)

// WithPrincipal stores the authenticated principal and session in ctx and
// attaches them to logging.Ctx output.
func WithPrincipal(ctx context.Context, p models.Principal, sessionID string) context.Context {
	ctx = logging.ContextWithPrincipal(ctx, p.ID, sessionID)
	ctx = context.WithValue(ctx, principalContextKey, p)
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

// PrincipalFromContext returns the request principal. Requests without a
// token get the anonymous principal.
func PrincipalFromContext(ctx context.Context) models.Principal {
	if p, ok := ctx.Value(principalContextKey).(models.Principal); ok {
		return p
	}
	return models.Anonymous()
}

// SessionIDFromContext returns the request session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionContextKey).(string); ok {
		return id
	}
	return ""
}

// Middleware authenticates bearer tokens and checks that their session has
// not been terminated.
type Middleware struct {
	tokens         *TokenManager
	store          Store
	allowAnonymous bool
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(tokens *TokenManager, store Store, allowAnonymous bool) *Middleware {
	return &Middleware{tokens: tokens, store: store, allowAnonymous: allowAnonymous}
}

// Authenticate is middleware that resolves the request principal.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if !m.allowAnonymous {
				writeUnauthorized(w, "unauthorized", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Token validation failed")
			writeUnauthorized(w, "unauthorized", "invalid token")
			return
		}

		err = m.store.Register(r.Context(), claims.Session())
		switch {
		case errors.Is(err, ErrSessionRevoked):
			writeUnauthorized(w, "session_terminated", "the session has been terminated")
			return
		case err != nil:
			// A failing registry must not lock everyone out; revocations are
			// also held by the enforcement engine.
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Session registry unavailable")
		}

		ctx := WithPrincipal(r.Context(), claims.Principal(), claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="thesisguard"`)
	w.WriteHeader(http.StatusUnauthorized)
	body := map[string]models.Denial{"error": {Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode auth error")
	}
}
