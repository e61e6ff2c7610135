// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/thesisguard/internal/api"
	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/backup"
	"github.com/tomtom215/thesisguard/internal/authz"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/enforcement"
	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/session"
	"github.com/tomtom215/thesisguard/internal/storage"
	"github.com/tomtom215/thesisguard/internal/supervisor"
	"github.com/tomtom215/thesisguard/internal/violation"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/thesisguard/config.yaml",
	"/etc/thesisguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8470,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Auth: AuthConfig{
			Issuer:          "thesisguard",
			TokenTTL:        8 * time.Hour,
			AllowAnonymous:  true,
			CallTimeout:     3 * time.Second,
			CleanupInterval: 10 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  storage.DefaultConfig(),
		},
		Backup: backup.DefaultConfig(),
		Audit: AuditConfig{
			Backend:    BackendDuckDB,
			DuckDBPath: "/data/thesisguard/audit.duckdb",
			NATS: audit.NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				Stream:        "THESISGUARD_AUDIT",
				SubjectPrefix: "thesisguard.audit",
				MaxAge:        90 * 24 * time.Hour,
			},
			MemoryLimit:       100000,
			Retention:         365 * 24 * time.Hour,
			RetentionInterval: 24 * time.Hour,
			Logger:            audit.DefaultConfig(),
		},
		Gate:        gate.DefaultConfig(),
		Enforcement: enforcement.DefaultConfig(),
		Session:     session.DefaultConfig(),
		Violation:   violation.DefaultCleanupConfig(),
		Download:    download.DefaultConfig(),
		Watermark: WatermarkConfig{
			Retention:     180 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Documents: DocumentsConfig{
			Backend: BackendStatic,
			Cache: DocumentCacheConfig{
				Size: 10000,
				TTL:  10 * time.Minute,
			},
		},
		Webhook: enforcement.WebhookConfig{
			Enabled:   false,
			RateLimit: time.Second,
			Timeout:   5 * time.Second,
		},
		API:        api.DefaultChiMiddlewareConfig(),
		Authz:      authz.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "" if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"api.cors_allowed_origins",
	"api.trusted_proxies",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Auth
	"jwt_secret":      "auth.jwt_secret",
	"jwt_issuer":      "auth.issuer",
	"jwt_token_ttl":   "auth.token_ttl",
	"allow_anonymous": "auth.allow_anonymous",

	// Storage
	"storage_backend": "storage.backend",
	"badger_path":     "storage.badger.path",
	"badger_gc":       "storage.badger.gc_interval",

	// Backup
	"backup_enabled":  "backup.enabled",
	"backup_dir":      "backup.dir",
	"backup_interval": "backup.interval",
	"backup_max_age":  "backup.retention.max_age",

	// Audit
	"audit_backend":        "audit.backend",
	"audit_duckdb_path":    "audit.duckdb_path",
	"audit_retention":      "audit.retention",
	"audit_spool_limit":    "audit.logger.spool_limit",
	"nats_url":             "audit.nats.url",
	"nats_audit_stream":    "audit.nats.stream",
	"nats_subject_prefix":  "audit.nats.subject_prefix",
	"nats_audit_retention": "audit.nats.max_age",

	// Gate
	"network_allowed":    "gate.network_allowed",
	"override_max_pages": "gate.override_max_pages",
	"max_distinct_ips":   "gate.max_distinct_ips",

	// Enforcement
	"enforcement_batch_interval": "enforcement.batch_interval",
	"terminated_redirect_url":    "enforcement.redirect_url",

	// Session inactivity
	"session_warn_after":     "session.warn_after",
	"session_expire_after":   "session.expire_after",
	"session_max_extensions": "session.max_extensions",

	// Downloads
	"download_default_expiry": "download.default_expiry",

	// Watermarks
	"watermark_secret":         "watermark.secret",
	"watermark_retention":      "watermark.retention",
	"watermark_prune_interval": "watermark.prune_interval",

	// Document metadata
	"docmeta_backend": "documents.backend",
	"docmeta_url":     "documents.http.base_url",
	"docmeta_token":   "documents.http.token",
	"docmeta_timeout": "documents.http.timeout",

	// Alert webhook
	"webhook_enabled":    "webhook.enabled",
	"webhook_url":        "webhook.url",
	"webhook_rate_limit": "webhook.rate_limit",

	// API
	"cors_origins":         "api.cors_allowed_origins",
	"rate_limit_requests":  "api.rate_limit_requests",
	"rate_limit_window":    "api.rate_limit_window",
	"disable_rate_limit":   "api.rate_limit_disabled",
	"violation_rate_limit": "api.violation_rate_limit",
	"trusted_proxies":      "api.trusted_proxies",

	// Authorization
	"casbin_model_path":  "authz.model_path",
	"casbin_policy_path": "authz.policy_path",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped variables return "" and are skipped.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - JWT_SECRET -> auth.jwt_secret
//   - AUDIT_BACKEND -> audit.backend
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
