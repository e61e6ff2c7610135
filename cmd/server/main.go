// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/thesisguard/internal/access"
	"github.com/tomtom215/thesisguard/internal/api"
	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/authz"
	"github.com/tomtom215/thesisguard/internal/backup"
	"github.com/tomtom215/thesisguard/internal/config"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/enforcement"
	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/policy"
	"github.com/tomtom215/thesisguard/internal/session"
	"github.com/tomtom215/thesisguard/internal/supervisor"
	"github.com/tomtom215/thesisguard/internal/supervisor/services"
	"github.com/tomtom215/thesisguard/internal/violation"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging.ToLoggingConfig())
	logging.Info().Str("config", cfg.String()).Msg("Starting Thesisguard with supervisor tree")
	logSecurityWarnings(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	stores, err := openStores(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer stores.Close()

	// Audit
	auditBackend, err := openAudit(ctx, cfg)
	if err != nil {
		stores.Close()
		logging.Fatal().Err(err).Msg("Failed to open audit sink")
	}
	defer auditBackend.Close()
	auditLogger := audit.NewLogger(auditBackend.sink, cfg.Audit.Logger)

	// Enforcement
	registry, err := policy.NewRegistry(cfg.Policy.ToRegistryConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build policy registry")
	}

	engine := enforcement.NewEngine(enforcement.Deps{
		Policies:     registry,
		Audit:        auditLogger,
		Sessions:     stores.sessions,
		Restrictions: stores.restrictions,
		Notices:      enforcement.NewNoticeInbox(0),
		Alerts:       enforcement.NewMemoryAlertStore(0),
	}, cfg.Enforcement)
	if cfg.Webhook.Enabled {
		engine.RegisterNotifier(enforcement.NewWebhookNotifier(cfg.Webhook))
		logging.Info().Str("url", cfg.Webhook.URL).Msg("Alert webhook notifier registered")
	}

	tracker := violation.NewTracker(registry, engine, auditLogger)

	sessions := session.NewManager(cfg.Session, func(ctx context.Context, principalID, sessionID string) {
		if _, err := engine.ExpireSession(ctx, principalID, sessionID); err != nil {
			logging.Warn().Err(err).
				Str("principal_id", principalID).
				Str("session_id", sessionID).
				Msg("Failed to expire inactive session")
		}
	})

	// Gate
	evaluator := access.NewEvaluator(registry)
	watermarks, err := watermark.NewService(cfg.Watermark.Secret, auditLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize watermark service")
	}
	downloads := download.NewValidator(cfg.Download, stores.grants, evaluator, watermarks, auditLogger)

	guard := gate.NewService(gate.Deps{
		Policies:   registry,
		Evaluator:  evaluator,
		Tracker:    tracker,
		Engine:     engine,
		Sessions:   sessions,
		Downloads:  downloads,
		Watermarks: watermarks,
		Documents:  newDocumentProvider(cfg),
		Audit:      auditLogger,
	}, cfg.Gate)

	// HTTP
	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	enforcer, err := authz.NewEnforcer(cfg.Authz)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization enforcer")
	}

	router := api.NewRouter(
		api.NewHandler(guard, stores.Ping),
		auth.NewMiddleware(tokens, stores.sessions, cfg.Auth.AllowAnonymous),
		authz.NewMiddleware(enforcer),
		api.NewChiMiddleware(cfg.API),
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Supervisor tree
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(auditLogger)
	if auditBackend.store != nil && cfg.Audit.Retention > 0 {
		tree.AddDataService(audit.NewRetention(auditBackend.store, cfg.Audit.Retention, cfg.Audit.RetentionInterval))
	}
	if stores.db != nil {
		tree.AddDataService(services.NewRunnerService("badger-gc", stores.db))
		if cfg.Backup.Enabled {
			snapshots, err := backup.NewManager(cfg.Backup, stores.db.Badger())
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to initialize storage snapshots")
			}
			tree.AddDataService(services.NewRunnerService("storage-backup", snapshots))
		}
	}

	tree.AddEnforcementService(services.NewRunnerService("enforcement-batch", engine))
	tree.AddEnforcementService(services.NewFuncService("invalidation-retry", engine.RunInvalidationRetries))
	tree.AddEnforcementService(services.NewRunnerService("session-sweeper", sessions))
	tree.AddEnforcementService(services.NewFuncService("violation-cleanup", func(ctx context.Context) error {
		return tracker.RunCleanup(ctx, cfg.Violation)
	}))
	if stores.memorySessions != nil {
		tree.AddEnforcementService(services.NewFuncService("auth-session-cleanup",
			every(cfg.Auth.CleanupInterval, func() {
				if n := stores.memorySessions.Cleanup(); n > 0 {
					logging.Debug().Int("removed", n).Msg("Dropped expired auth sessions")
				}
			})))
	}

	tree.AddEnforcementService(services.NewFuncService("watermark-retention",
		every(cfg.Watermark.PruneInterval, func() {
			if n := watermarks.Prune(time.Now(), cfg.Watermark.Retention); n > 0 {
				logging.Debug().Int("removed", n).Msg("Pruned retired watermarks")
			}
		})))

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server configured")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// errCh delivers exactly one value and is never closed.
	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		treeErr = <-errCh
	case treeErr = <-errCh:
		cancel()
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// every returns a service loop that calls fn on each tick.
func every(interval time.Duration, fn func()) func(ctx context.Context) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				fn()
			}
		}
	}
}

func logSecurityWarnings(cfg *config.Config) {
	if cfg.Auth.AllowAnonymous {
		logging.Warn().Msg("Anonymous viewers are allowed (ALLOW_ANONYMOUS=true); they are tracked by IP only")
	}
	if cfg.API.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}
	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: CORS is configured with wildcard origin (CORS_ORIGINS=*)")
		logging.Warn().Msg("  Any website can call the viewer API from a reader's browser.")
		logging.Warn().Msg("  RECOMMENDED: list the viewer origins explicitly.")
		logging.Warn().Msg("============================================================")
	}
	if cfg.Storage.Backend == config.BackendMemory {
		logging.Warn().Msg("Storage backend is memory: restrictions, grants and sessions are lost on restart")
	}
	if !cfg.Gate.NetworkAllowed {
		logging.Warn().Msg("Network access is disabled (NETWORK_ALLOWED=false): every view is denied")
	}
}
