// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// ChiMiddlewareConfig holds CORS and transport rate limit settings.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins   []string `koanf:"cors_allowed_origins"`
	CORSAllowCredentials bool     `koanf:"cors_allow_credentials"`
	CORSMaxAge           int      `koanf:"cors_max_age"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// ViolationRateLimit caps violation reports per client; detectors can
	// fire in bursts but never legitimately this fast.
	ViolationRateLimit int `koanf:"violation_rate_limit" validate:"gte=0"`

	// TrustedProxies lists the reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// TCP peer is always the client.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// DefaultChiMiddlewareConfig returns a secure default configuration.
// CORS origins default to empty and must be configured explicitly.
func DefaultChiMiddlewareConfig() ChiMiddlewareConfig {
	return ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSMaxAge:         86400,
		RateLimitRequests:  300,
		RateLimitWindow:    time.Minute,
		ViolationRateLimit: 120,
	}
}

// ChiMiddleware provides chi-compatible middleware factories.
type ChiMiddleware struct {
	config  ChiMiddlewareConfig
	cors    func(http.Handler) http.Handler
	trusted []netip.Prefix
}

// NewChiMiddleware builds the middleware set.
func NewChiMiddleware(config ChiMiddlewareConfig) *ChiMiddleware {
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Minute
	}
	trusted, err := ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		// Config validation rejects these at start; skip rather than trust.
		logging.Warn().Err(err).Msg("Ignoring invalid trusted proxy entries")
	}
	return &ChiMiddleware{
		config:  config,
		trusted: trusted,
		cors: cors.Handler(cors.Options{
			AllowedOrigins:   config.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: config.CORSAllowCredentials,
			MaxAge:           config.CORSMaxAge,
		}),
	}
}

// ParseTrustedProxies parses IPs and CIDRs. Valid entries are returned
// even when some are rejected.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	var bad []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				bad = append(bad, e)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			bad = append(bad, e)
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	if len(bad) > 0 {
		return out, &InvalidProxyError{Entries: bad}
	}
	return out, nil
}

// InvalidProxyError lists trusted proxy entries that are neither IPs nor CIDRs.
type InvalidProxyError struct {
	Entries []string
}

func (e *InvalidProxyError) Error() string {
	return "invalid trusted proxy entries: " + strings.Join(e.Entries, ", ")
}

func (m *ChiMiddleware) isTrusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range m.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP replaces r.RemoteAddr with the client address. Forwarding
// headers are read only when the TCP peer is a trusted proxy:
//  1. X-Forwarded-For is walked right to left, skipping trusted hops,
//     and the first untrusted address wins
//  2. otherwise a valid X-Real-IP is used
//  3. otherwise the peer address stays
//
// Downstream rate limiting, restrictions and blocks all key on the result.
func (m *ChiMiddleware) ClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := remoteAddr(r.RemoteAddr)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			client := peer
			if m.isTrusted(peer) {
				client = m.forwardedClient(r, peer)
			}
			r.RemoteAddr = net.JoinHostPort(client.String(), "0")
			next.ServeHTTP(w, r)
		})
	}
}

func (m *ChiMiddleware) forwardedClient(r *http.Request, peer netip.Addr) netip.Addr {
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// A malformed hop ends the trusted chain.
				return peer
			}
			if !m.isTrusted(a) {
				return a.Unmap()
			}
		}
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.Unmap()
	}
	return peer
}

func remoteAddr(s string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// RateLimit limits requests per client IP.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.limit(m.config.RateLimitRequests)
}

// RateLimitViolations limits violation reports per client IP.
func (m *ChiMiddleware) RateLimitViolations() func(http.Handler) http.Handler {
	return m.limit(m.config.ViolationRateLimit)
}

func (m *ChiMiddleware) limit(requests int) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled || requests <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requests,
		m.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondError(w, http.StatusTooManyRequests, "too_many_requests", "too many requests")
		}),
	)
}
