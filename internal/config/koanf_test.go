// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

const (
	testJWTSecret       = "jwt-signing-material-for-tests-0123456789"
	testWatermarkSecret = "watermark-material-for-tests-9876543210"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("WATERMARK_SECRET", testWatermarkSecret)
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
}

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8470 {
		t.Errorf("Server.Port = %d, want 8470", cfg.Server.Port)
	}
	if cfg.Server.Environment != "development" {
		t.Errorf("Server.Environment = %q, want development", cfg.Server.Environment)
	}
	if cfg.Storage.Backend != BackendBadger {
		t.Errorf("Storage.Backend = %q, want badger", cfg.Storage.Backend)
	}
	if cfg.Audit.Backend != BackendDuckDB {
		t.Errorf("Audit.Backend = %q, want duckdb", cfg.Audit.Backend)
	}
	if !cfg.Gate.NetworkAllowed {
		t.Error("Gate.NetworkAllowed should default to true")
	}
	if cfg.Session.ExpireAfter != 30*time.Minute || cfg.Session.WarnAfter != 25*time.Minute {
		t.Errorf("Session = %+v, want 25m warn / 30m expiry", cfg.Session)
	}
	if cfg.Download.PreviewLimit != 50 {
		t.Errorf("Download.PreviewLimit = %d, want 50", cfg.Download.PreviewLimit)
	}
	if cfg.Enforcement.RedirectURL != "/session-terminated" {
		t.Errorf("Enforcement.RedirectURL = %q", cfg.Enforcement.RedirectURL)
	}
	if cfg.Webhook.Enabled {
		t.Error("Webhook should be disabled by default")
	}
	if cfg.Auth.JWTSecret != "" || cfg.Watermark.Secret != "" {
		t.Error("secrets must not have defaults")
	}
}

func TestLoadWithKoanf_RequiresSecrets(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("JWT_SECRET", "")
	t.Setenv("WATERMARK_SECRET", "")

	_, err := LoadWithKoanf()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("LoadWithKoanf() error = %v, want JWT_SECRET error", err)
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	setSecrets(t)
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("AUDIT_BACKEND", "memory")
	t.Setenv("NETWORK_ALLOWED", "false")
	t.Setenv("OVERRIDE_MAX_PAGES", "12")
	t.Setenv("SESSION_EXPIRE_AFTER", "45m")
	t.Setenv("CORS_ORIGINS", "https://viewer.example.org, https://admin.example.org")
	t.Setenv("DISABLE_RATE_LIMIT", "true")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Gate.NetworkAllowed {
		t.Error("Gate.NetworkAllowed should be false")
	}
	if cfg.Gate.OverrideMaxPages != 12 {
		t.Errorf("Gate.OverrideMaxPages = %d, want 12", cfg.Gate.OverrideMaxPages)
	}
	if cfg.Session.ExpireAfter != 45*time.Minute {
		t.Errorf("Session.ExpireAfter = %v, want 45m", cfg.Session.ExpireAfter)
	}
	if cfg.Session.WarnAfter != 25*time.Minute {
		t.Errorf("Session.WarnAfter = %v, want default 25m", cfg.Session.WarnAfter)
	}
	want := []string{"https://viewer.example.org", "https://admin.example.org"}
	if len(cfg.API.CORSAllowedOrigins) != 2 || cfg.API.CORSAllowedOrigins[0] != want[0] || cfg.API.CORSAllowedOrigins[1] != want[1] {
		t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.API.CORSAllowedOrigins, want)
	}
	if !cfg.API.RateLimitDisabled {
		t.Error("API.RateLimitDisabled should be true")
	}
	if cfg.Auth.JWTSecret != testJWTSecret {
		t.Error("JWT secret not loaded from environment")
	}
}

func TestLoadWithKoanf_YAMLFile(t *testing.T) {
	setSecrets(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9200
storage:
  backend: memory
audit:
  backend: memory
policy:
  overrides:
    screenshot_protection:
      settings:
        max_attempts: 5
        block_duration: 30m
    geolocation_restriction:
      enabled: true
  preview_limits:
    researcher: 8
documents:
  static:
    thesis-1: 120
session:
  max_extensions: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9300")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9300 {
		t.Errorf("Server.Port = %d, want env value 9300 over file value", cfg.Server.Port)
	}
	if cfg.Session.MaxExtensions != 1 {
		t.Errorf("Session.MaxExtensions = %d, want 1", cfg.Session.MaxExtensions)
	}
	if cfg.Documents.Static["thesis-1"] != 120 {
		t.Errorf("Documents.Static = %v", cfg.Documents.Static)
	}

	o, ok := cfg.Policy.Overrides[policy.ScreenshotProtection]
	if !ok || o.Settings == nil {
		t.Fatalf("screenshot override missing: %+v", cfg.Policy.Overrides)
	}
	if o.Settings.MaxAttempts != 5 || o.Settings.BlockDuration != 30*time.Minute {
		t.Errorf("screenshot settings = %+v", *o.Settings)
	}
	if geo := cfg.Policy.Overrides[policy.GeolocationRestriction]; geo.Enabled == nil || !*geo.Enabled {
		t.Errorf("geolocation override = %+v, want enabled", geo)
	}

	rc := cfg.Policy.ToRegistryConfig()
	if rc.PreviewLimits[models.RoleResearcher] != 8 {
		t.Errorf("PreviewLimits = %v, want researcher 8", rc.PreviewLimits)
	}
	reg, err := policy.NewRegistry(rc)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if p, _ := reg.Get(policy.ScreenshotProtection); p.Settings.MaxAttempts != 5 {
		t.Errorf("registry MaxAttempts = %d, want 5", p.Settings.MaxAttempts)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"JWT_SECRET", "auth.jwt_secret"},
		{"WATERMARK_SECRET", "watermark.secret"},
		{"AUDIT_BACKEND", "audit.backend"},
		{"NATS_URL", "audit.nats.url"},
		{"CORS_ORIGINS", "api.cors_allowed_origins"},
		{"SESSION_WARN_AFTER", "session.warn_after"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := envTransformFunc(tt.key); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8470}
	if got := s.Addr(); got != "127.0.0.1:8470" {
		t.Errorf("Addr() = %q", got)
	}
}
