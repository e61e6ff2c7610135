// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package authz

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
)

// Middleware authorizes requests against the enforcer.
type Middleware struct {
	enforcer *Enforcer
}

// NewMiddleware creates the authorization middleware.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{enforcer: enforcer}
}

// Authorize derives the action from the HTTP method and checks the
// principal's role against the request path. It must run after
// auth.Middleware.Authenticate.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := auth.PrincipalFromContext(r.Context())
		if principal.Key() == models.AnonymousID {
			metrics.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		allowed, err := m.enforcer.Enforce(string(principal.Role), r.URL.Path, methodToAction(r.Method))
		if err != nil {
			metrics.AuthzDecisions.WithLabelValues("error").Inc()
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
			writeError(w, http.StatusInternalServerError, "internal_error", "authorization failed")
			return
		}
		if !allowed {
			metrics.AuthzDecisions.WithLabelValues("denied").Inc()
			logging.Ctx(r.Context()).Warn().
				Str("principal_id", principal.Key()).
				Str("role", string(principal.Role)).
				Str("path", r.URL.Path).
				Msg("Admin request denied")
			writeError(w, http.StatusForbidden, models.CodeForbidden, "insufficient permissions")
			return
		}

		metrics.AuthzDecisions.WithLabelValues("allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

// methodToAction maps HTTP methods to policy actions.
func methodToAction(method string) string {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return ActionWrite
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]models.Denial{"error": {Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode authorization error")
	}
}
