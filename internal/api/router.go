// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package api serves the gate over HTTP using the chi router.
//
// Every endpoint except health and metrics runs behind auth.Middleware, so
// the caller's identity always comes from the verified bearer token. Admin
// endpoints are additionally authorized by authz.Middleware. Errors are
// rendered as {"error": {"code": "...", "message": "..."}}.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/authz"
	"github.com/tomtom215/thesisguard/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	auth          *auth.Middleware
	authz         *authz.Middleware
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, authn *auth.Middleware, authzm *authz.Middleware, chiMW *ChiMiddleware) *Router {
	return &Router{handler: handler, auth: authn, authz: authzm, chiMiddleware: chiMW}
}

// Setup returns the configured chi router.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(router.chiMiddleware.ClientIP())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.auth.Authenticate)

		r.Post("/documents/{id}/access", router.handler.EvaluateAccess)
		r.Post("/documents/{id}/end-viewing", router.handler.EndViewing)

		r.With(router.chiMiddleware.RateLimitViolations()).Post("/violations", router.handler.ReportViolation)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/heartbeat", router.handler.Heartbeat)
			r.Post("/extend", router.handler.ExtendSession)
			r.Get("/current", router.handler.SessionState)
			r.Delete("/current", router.handler.EndSession)
		})

		r.Get("/notices", router.handler.Notices)

		r.Post("/downloads", router.handler.RequestDownload)
		r.Post("/downloads/{id}/consume", router.handler.ConsumeDownload)

		r.Post("/watermarks", router.handler.ApplyWatermark)
		r.Post("/watermarks/verify", router.handler.VerifyWatermark)

		r.Route("/admin", func(r chi.Router) {
			r.Use(router.authz.Authorize)

			r.Get("/policies", router.handler.ListPolicies)
			r.Post("/policies/{id}/enable", router.handler.EnablePolicy)
			r.Post("/policies/{id}/disable", router.handler.DisablePolicy)

			r.Get("/principals/{id}/violations", router.handler.ViolationCounts)
			r.Delete("/principals/{id}/violations", router.handler.ResetCounters)

			r.Post("/downloads", router.handler.GrantDownload)
			r.Get("/alerts", router.handler.Alerts)
			r.Get("/restrictions", router.handler.Restrictions)
			r.Delete("/restrictions/{id}", router.handler.LiftRestriction)
		})
	})

	return r
}
