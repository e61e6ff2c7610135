// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package middleware provides HTTP middleware shared by the API router.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging
    context as request_id and correlation_id
  - Prometheus Metrics: request count, latency and in-flight gauge, labelled
    by the chi route pattern rather than the raw path so document and grant
    IDs do not explode label cardinality

Both are chi-compatible (func(http.Handler) http.Handler):

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
