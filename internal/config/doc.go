// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package config loads and validates Thesisguard configuration.

# Configuration Sources

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml, ./config.yml,
    /etc/thesisguard/config.yaml or /etc/thesisguard/config.yml
 3. Environment variables listed in envMappings

Only mapped environment variables are read, so unrelated variables never
leak into configuration.

# Configuration Structure

  - Server: listen address, timeouts and environment mode
  - Logging: level, format and caller reporting
  - Auth: bearer token verification and the session registry
  - Storage: badger directory for restrictions, grants and sessions
  - Backup: scheduled snapshots of the badger store
  - Audit: sink selection (memory, duckdb or nats), spool and retention
  - Policy: per-policy overrides and per-role preview caps
  - Gate, Enforcement, Session, Violation, Download: component settings
  - Watermark: verification secret and record retention
  - Documents: page-count provider (static map or catalogue HTTP API)
  - Webhook: security alert webhook
  - API: CORS and request rate limits
  - Authz: casbin model and policy paths
  - Supervisor: restart thresholds and shutdown timeout

# Environment Variables

Commonly used variables:

  - HTTP_HOST, HTTP_PORT, ENVIRONMENT
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER
  - JWT_SECRET (required, min 32 chars), JWT_ISSUER, ALLOW_ANONYMOUS
  - STORAGE_BACKEND (memory or badger), BADGER_PATH, BADGER_GC
  - BACKUP_ENABLED, BACKUP_DIR, BACKUP_INTERVAL, BACKUP_MAX_AGE
  - AUDIT_BACKEND (memory, duckdb or nats), AUDIT_DUCKDB_PATH, NATS_URL
  - WATERMARK_SECRET (required, min 32 chars), WATERMARK_RETENTION
  - NETWORK_ALLOWED, OVERRIDE_MAX_PAGES
  - DOCMETA_BACKEND, DOCMETA_URL, DOCMETA_TOKEN
  - WEBHOOK_ENABLED, WEBHOOK_URL
  - CORS_ORIGINS (comma separated), DISABLE_RATE_LIMIT
  - TRUSTED_PROXIES (comma separated IPs or CIDRs whose X-Forwarded-For is believed)

Usage:

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatal(err)
	}

Validation fails fast at startup: malformed configuration is the only
fatal error class in the service.
*/
package config
