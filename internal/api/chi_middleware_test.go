// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no proxies configured", nil, "10.0.0.9:41000", map[string]string{"X-Real-IP": "203.0.113.7", "X-Forwarded-For": "203.0.113.8"}, "10.0.0.9"},
		{"untrusted peer", []string{"192.0.2.1"}, "10.0.0.9:41000", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "10.0.0.9"},
		{"trusted peer x-forwarded-for", []string{"192.0.2.1"}, "192.0.2.1:443", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "203.0.113.8"},
		{"trusted peer x-real-ip", []string{"192.0.2.0/24"}, "192.0.2.77:443", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"spoofed leftmost hop", []string{"192.0.2.1"}, "192.0.2.1:443", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.8"}, "203.0.113.8"},
		{"chained trusted hops", []string{"192.0.2.0/24", "10.1.0.0/16"}, "192.0.2.1:443", map[string]string{"X-Forwarded-For": "203.0.113.8, 10.1.4.4"}, "203.0.113.8"},
		{"malformed hop", []string{"192.0.2.1"}, "192.0.2.1:443", map[string]string{"X-Forwarded-For": "203.0.113.8, junk"}, "192.0.2.1"},
		{"trusted peer without headers", []string{"192.0.2.1"}, "192.0.2.1:443", nil, "192.0.2.1"},
		{"ipv6 peer", nil, "[2001:db8::1]:5000", nil, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChiMiddlewareConfig()
			cfg.TrustedProxies = tt.trusted
			m := NewChiMiddleware(cfg)

			var got string
			h := m.ClientIP()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client IP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"192.0.2.1", " 10.0.0.0/8 ", "", "::ffff:192.0.2.9"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("prefixes = %v, want 3", got)
	}

	got, err = ParseTrustedProxies([]string{"192.0.2.1", "proxy.internal", "10.0.0.0/33"})
	var perr *InvalidProxyError
	if !errors.As(err, &perr) || len(perr.Entries) != 2 {
		t.Fatalf("error = %v, want two invalid entries", err)
	}
	if len(got) != 1 {
		t.Errorf("valid prefixes = %v, want 1", got)
	}
}
