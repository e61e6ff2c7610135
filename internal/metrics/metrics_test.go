// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/violations", "200"))

	RecordAPIRequest("POST", "/api/v1/violations", 200, 5*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/violations", "200"))
	if after != before+1 {
		t.Errorf("api_requests_total = %v, want %v", after, before+1)
	}
}

func TestRecordEnforcement(t *testing.T) {
	okBefore := testutil.ToFloat64(EnforcementActions.WithLabelValues("terminate", "success"))
	failBefore := testutil.ToFloat64(EnforcementActions.WithLabelValues("terminate", "failure"))

	RecordEnforcement("terminate", nil)
	RecordEnforcement("terminate", errors.New("auth store unavailable"))

	if got := testutil.ToFloat64(EnforcementActions.WithLabelValues("terminate", "success")); got != okBefore+1 {
		t.Errorf("success count = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(EnforcementActions.WithLabelValues("terminate", "failure")); got != failBefore+1 {
		t.Errorf("failure count = %v, want %v", got, failBefore+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("api_active_requests = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
}

func TestBreakerStateValue(t *testing.T) {
	tests := map[string]float64{"closed": 0, "half-open": 1, "open": 2, "unknown": 0}
	for state, want := range tests {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestMetricGathering(t *testing.T) {
	RecordWatermarkVerification(true)
	RecordDownload("validate", "granted")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("GatherAndLint() error = %v", err)
	}
	for _, p := range problems {
		t.Errorf("metric lint problem: %s: %s", p.Metric, p.Text)
	}
}
