// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/thesisguard/internal/api"
	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/validation"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

var (
	validLogLevels = map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateAuth,
		c.validateStorage,
		c.validateBackup,
		c.validateAudit,
		c.validateWatermark,
		c.validateDocuments,
		c.validateWebhook,
		c.validateAPI,
		c.validateComponents,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if err := validateSecret("JWT_SECRET", c.Auth.JWTSecret, auth.MinSecretLength); err != nil {
		return err
	}
	if c.Auth.TokenTTL < time.Minute {
		return fmt.Errorf("JWT_TOKEN_TTL must be at least 1m")
	}
	return nil
}

func (c *Config) validateWatermark() error {
	if err := validateSecret("WATERMARK_SECRET", c.Watermark.Secret, watermark.MinSecretLength); err != nil {
		return err
	}
	if c.Watermark.Secret == c.Auth.JWTSecret {
		return fmt.Errorf("WATERMARK_SECRET must differ from JWT_SECRET")
	}
	if c.Watermark.Retention < 0 {
		return fmt.Errorf("WATERMARK_RETENTION must not be negative")
	}
	return nil
}

func validateSecret(name, value string, minLen int) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) < minLen {
		return fmt.Errorf("%s must be at least %d characters", name, minLen)
	}
	if containsPlaceholder(value) {
		return fmt.Errorf("%s contains a placeholder value - generate a secret with: openssl rand -base64 32", name)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
			return fmt.Errorf("BADGER_PATH is required when STORAGE_BACKEND=badger")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be memory or badger, got %q", c.Storage.Backend)
	}
	if c.IsProduction() && c.Storage.Backend == BackendMemory {
		return fmt.Errorf("STORAGE_BACKEND=memory loses restrictions and grants on restart and is not allowed in production")
	}
	if c.IsProduction() && c.Storage.Badger.InMemory && c.Storage.Backend == BackendBadger {
		return fmt.Errorf("storage.badger.in_memory is not allowed in production")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if !c.Backup.Enabled {
		return nil
	}
	if c.Storage.Backend != BackendBadger || c.Storage.Badger.InMemory {
		return fmt.Errorf("BACKUP_ENABLED requires STORAGE_BACKEND=badger on disk")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("BACKUP_DIR is required when BACKUP_ENABLED=true")
	}
	if c.Backup.Dir == c.Storage.Badger.Path {
		return fmt.Errorf("BACKUP_DIR must differ from BADGER_PATH")
	}
	return nil
}

func (c *Config) validateAudit() error {
	switch c.Audit.Backend {
	case BackendMemory:
		if c.Audit.MemoryLimit <= 0 {
			return fmt.Errorf("audit.memory_limit must be positive")
		}
	case BackendDuckDB:
		if c.Audit.DuckDBPath == "" {
			return fmt.Errorf("AUDIT_DUCKDB_PATH is required when AUDIT_BACKEND=duckdb")
		}
	case BackendNATS:
		if err := validateNATSURL(c.Audit.NATS.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	default:
		return fmt.Errorf("AUDIT_BACKEND must be memory, duckdb or nats, got %q", c.Audit.Backend)
	}
	if c.Audit.Retention > 0 && c.Audit.RetentionInterval <= 0 {
		return fmt.Errorf("audit.retention_interval must be positive when retention is set")
	}
	if c.Audit.Logger.SpoolLimit < 0 {
		return fmt.Errorf("AUDIT_SPOOL_LIMIT must not be negative")
	}
	return nil
}

func (c *Config) validateDocuments() error {
	switch c.Documents.Backend {
	case BackendStatic:
	case BackendHTTP:
		if c.Documents.HTTP.BaseURL == "" {
			return fmt.Errorf("DOCMETA_URL is required when DOCMETA_BACKEND=http")
		}
		if err := validateHTTPURL(c.Documents.HTTP.BaseURL, "DOCMETA_URL", true); err != nil {
			return err
		}
	default:
		return fmt.Errorf("DOCMETA_BACKEND must be static or http, got %q", c.Documents.Backend)
	}
	for id, pages := range c.Documents.Static {
		if pages < 0 {
			return fmt.Errorf("documents.static[%s] must not be negative", id)
		}
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}
	if c.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	return validateHTTPURL(c.Webhook.URL, "WEBHOOK_URL", !c.IsProduction())
}

func (c *Config) validateAPI() error {
	if c.IsProduction() && c.hasWildcardCORS() && c.API.CORSAllowCredentials {
		return fmt.Errorf("CORS_ORIGINS=* cannot be combined with credentialed CORS in production; list the viewer origins explicitly")
	}
	if !c.API.RateLimitDisabled && c.API.RateLimitRequests > 0 && c.API.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if _, err := api.ParseTrustedProxies(c.API.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return nil
}

func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.API.CORSAllowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS reports a wildcard CORS origin that should be logged at startup.
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.hasWildcardCORS()
}

// validateComponents runs the struct validation tags of component configs.
func (c *Config) validateComponents() error {
	sections := []struct {
		name string
		v    interface{}
	}{
		{"gate", c.Gate},
		{"enforcement", c.Enforcement},
		{"session", c.Session},
		{"violation", c.Violation},
		{"download", c.Download},
		{"api", c.API},
		{"authz", c.Authz},
		{"storage.badger", c.Storage.Badger},
		{"backup", c.Backup},
	}
	for _, s := range sections {
		if verr := validation.ValidateStruct(s.v); verr != nil {
			return fmt.Errorf("%s: %s", s.name, verr.ToAPIError().Message)
		}
	}
	for id, o := range c.Policy.Overrides {
		if o.Settings == nil {
			continue
		}
		if verr := validation.ValidateStruct(o.Settings); verr != nil {
			return fmt.Errorf("policy.overrides.%s: %s", id, verr.ToAPIError().Message)
		}
	}
	for role, limit := range c.Policy.PreviewLimits {
		if limit <= 0 {
			return fmt.Errorf("policy.preview_limits.%s must be positive", role)
		}
	}
	return nil
}

// validateHTTPURL checks scheme and host. Plain http is only accepted for
// loopback hosts unless allowHTTP is set.
func validateHTTPURL(rawURL, fieldName string, allowHTTP bool) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.Scheme == "http" && !allowHTTP {
		host := parsedURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("%s must use https for non-local hosts", fieldName)
		}
	}
	return nil
}

// validateNATSURL accepts nats, tls, ws and wss URLs with a host.
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}
	return nil
}

// placeholderPatterns catch secrets that were copied from an example file.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
