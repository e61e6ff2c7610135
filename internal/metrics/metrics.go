// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package metrics exposes Prometheus instrumentation for the enforcement
// core: access decisions, violations, enforcement actions, sessions,
// download grants, audit delivery, circuit breakers and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Access Metrics
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_access_decisions_total",
			Help: "Total number of access evaluations by resulting tier",
		},
		[]string{"tier", "reason"},
	)

	// Violation Metrics
	ViolationsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_violations_reported_total",
			Help: "Total number of violation reports by policy",
		},
		[]string{"policy", "result"}, // result: "counted", "ignored"
	)

	ViolationCounterKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesisguard_violation_counter_keys",
			Help: "Current number of (principal, policy) violation counters",
		},
	)

	// Enforcement Metrics
	EnforcementActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_enforcement_actions_total",
			Help: "Total number of executed enforcement actions",
		},
		[]string{"action", "result"}, // result: "success", "failure"
	)

	EnforcementQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesisguard_enforcement_queue_depth",
			Help: "Current number of deferred actions awaiting the batch worker",
		},
	)

	EnforcementBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thesisguard_enforcement_batch_duration_seconds",
			Help:    "Duration of enforcement batch runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	InvalidationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesisguard_session_invalidation_retries_total",
			Help: "Total number of retried auth store invalidations",
		},
	)

	ActiveRestrictions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thesisguard_active_restrictions",
			Help: "Current number of restriction records by scope",
		},
		[]string{"scope"},
	)

	// Session Metrics
	SessionsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesisguard_sessions_tracked",
			Help: "Current number of sessions tracked for inactivity",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesisguard_sessions_expired_total",
			Help: "Total number of sessions expired for inactivity",
		},
	)

	// Download Metrics
	DownloadDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_download_decisions_total",
			Help: "Total number of download validations and consumptions",
		},
		[]string{"operation", "result"},
	)

	// Watermark Metrics
	WatermarksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesisguard_watermarks_issued_total",
			Help: "Total number of watermark records created",
		},
	)

	WatermarkVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_watermark_verifications_total",
			Help: "Total number of watermark verifications",
		},
		[]string{"result"},
	)

	// Audit Metrics
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_audit_events_total",
			Help: "Total number of audit events by delivery result",
		},
		[]string{"result"}, // "written", "spooled", "replayed", "dropped"
	)

	AuditSpoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesisguard_audit_spool_size",
			Help: "Current number of audit events held locally awaiting the sink",
		},
	)

	// Notifier Metrics
	AlertNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_alert_notifications_total",
			Help: "Total number of admin alert webhook deliveries",
		},
		[]string{"result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Storage Metrics
	StorageGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_storage_gc_runs_total",
			Help: "Badger value log GC runs by result (rewritten, noop, error)",
		},
		[]string{"result"},
	)

	StorageGCDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thesisguard_storage_gc_duration_seconds",
			Help:    "Duration of a badger value log GC pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_backup_runs_total",
			Help: "Storage snapshots by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	BackupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesisguard_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last completed storage snapshot",
		},
	)

	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesisguard_authz_decisions_total",
			Help: "Admin authorization decisions",
		},
		[]string{"result"},
	)

	// API Metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	APIRequestDuration.WithLabelValues(method, endpoint, code).Observe(duration.Seconds())
	APIRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordEnforcement records the outcome of one executed action.
func RecordEnforcement(action string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EnforcementActions.WithLabelValues(action, result).Inc()
}

// RecordDownload records a download validation or consumption outcome.
func RecordDownload(operation, result string) {
	DownloadDecisions.WithLabelValues(operation, result).Inc()
}

// RecordWatermarkVerification records a verification result.
func RecordWatermarkVerification(ok bool) {
	if ok {
		WatermarkVerifications.WithLabelValues("match").Inc()
		return
	}
	WatermarkVerifications.WithLabelValues("mismatch").Inc()
}

// BreakerStateValue maps breaker state names to the gauge encoding.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
