// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/thesisguard/internal/api"
	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/backup"
	"github.com/tomtom215/thesisguard/internal/authz"
	"github.com/tomtom215/thesisguard/internal/docmeta"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/enforcement"
	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
	"github.com/tomtom215/thesisguard/internal/session"
	"github.com/tomtom215/thesisguard/internal/storage"
	"github.com/tomtom215/thesisguard/internal/supervisor"
	"github.com/tomtom215/thesisguard/internal/violation"
)

// Storage and sink backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendDuckDB = "duckdb"
	BackendNATS   = "nats"
	BackendStatic = "static"
	BackendHTTP   = "http"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig              `koanf:"server"`
	Logging     LoggingConfig             `koanf:"logging"`
	Auth        AuthConfig                `koanf:"auth"`
	Storage     StorageConfig             `koanf:"storage"`
	Backup      backup.Config             `koanf:"backup"`
	Audit       AuditConfig               `koanf:"audit"`
	Policy      PolicyConfig              `koanf:"policy"`
	Gate        gate.Config               `koanf:"gate"`
	Enforcement enforcement.Config        `koanf:"enforcement"`
	Session     session.Config            `koanf:"session"`
	Violation   violation.CleanupConfig   `koanf:"violation"`
	Download    download.Config           `koanf:"download"`
	Watermark   WatermarkConfig           `koanf:"watermark"`
	Documents   DocumentsConfig           `koanf:"documents"`
	Webhook     enforcement.WebhookConfig `koanf:"webhook"`
	API         api.ChiMiddlewareConfig   `koanf:"api"`
	Authz       authz.Config              `koanf:"authz"`
	Supervisor  supervisor.TreeConfig     `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Environment is "development" or "production"; production enables
	// stricter validation.
	Environment string `koanf:"environment"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ToLoggingConfig converts to the logging package's config.
func (l LoggingConfig) ToLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = l.Level
	cfg.Format = l.Format
	cfg.Caller = l.Caller
	return cfg
}

// AuthConfig holds bearer token and session registry settings.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
	// AllowAnonymous lets requests without a token through as the
	// anonymous principal.
	AllowAnonymous bool `koanf:"allow_anonymous"`
	// CallTimeout bounds each session registry call.
	CallTimeout time.Duration `koanf:"call_timeout"`
	// CleanupInterval is how often expired in-memory sessions are dropped.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// StorageConfig selects where restrictions, grants and sessions live.
type StorageConfig struct {
	Backend string         `koanf:"backend"`
	Badger  storage.Config `koanf:"badger"`
}

// AuditConfig selects and tunes the audit sink.
type AuditConfig struct {
	Backend    string           `koanf:"backend"`
	DuckDBPath string           `koanf:"duckdb_path"`
	NATS       audit.NATSConfig `koanf:"nats"`
	// MemoryLimit caps the in-memory store.
	MemoryLimit int `koanf:"memory_limit"`
	// Retention deletes stored events older than this; 0 keeps everything.
	Retention         time.Duration `koanf:"retention"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
	Logger            audit.Config  `koanf:"logger"`
}

// PolicyConfig overrides catalogue policies and preview caps.
type PolicyConfig struct {
	Overrides map[string]policy.Override `koanf:"overrides"`
	// PreviewLimits maps role names to page caps.
	PreviewLimits map[string]int `koanf:"preview_limits"`
}

// ToRegistryConfig converts to the policy package's config.
func (p PolicyConfig) ToRegistryConfig() policy.Config {
	cfg := policy.Config{Overrides: p.Overrides}
	if len(p.PreviewLimits) > 0 {
		cfg.PreviewLimits = make(map[models.Role]int, len(p.PreviewLimits))
		for role, limit := range p.PreviewLimits {
			cfg.PreviewLimits[models.Role(role)] = limit
		}
	}
	return cfg
}

// WatermarkConfig holds the watermark verification secret and how long
// issued records stay verifiable once out of use.
type WatermarkConfig struct {
	Secret        string        `koanf:"secret"`
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

// DocumentsConfig selects the page-count provider.
type DocumentsConfig struct {
	Backend string              `koanf:"backend"`
	HTTP    docmeta.HTTPConfig  `koanf:"http"`
	Static  map[string]int      `koanf:"static"`
	Cache   DocumentCacheConfig `koanf:"cache"`
}

// DocumentCacheConfig bounds the page-count cache in front of the provider.
type DocumentCacheConfig struct {
	Size int           `koanf:"size"`
	TTL  time.Duration `koanf:"ttl"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// String summarizes the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("server=%s env=%s storage=%s audit=%s documents=%s anonymous=%t",
		c.Server.Addr(), c.Server.Environment, c.Storage.Backend, c.Audit.Backend,
		c.Documents.Backend, c.Auth.AllowAnonymous)
}
