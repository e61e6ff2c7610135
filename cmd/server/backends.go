// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/breaker"
	"github.com/tomtom215/thesisguard/internal/config"
	"github.com/tomtom215/thesisguard/internal/docmeta"
	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/enforcement"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/storage"
)

// stores holds the state that must survive a restart.
// db is nil with the memory backend and memorySessions is nil with badger.
// sessions is always wrapped in a circuit breaker.
type stores struct {
	db             *storage.DB
	memorySessions *auth.MemoryStore
	sessions       auth.Store
	restrictions   enforcement.RestrictionStore
	grants         download.Store
}

func openStores(cfg *config.Config) (*stores, error) {
	s := &stores{}
	var sessions auth.Store

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		s.memorySessions = auth.NewMemoryStore()
		sessions = s.memorySessions
		s.restrictions = enforcement.NewMemoryRestrictionStore()
		s.grants = download.NewMemoryStore()
	case config.BackendBadger:
		db, err := storage.Open(cfg.Storage.Badger)
		if err != nil {
			return nil, err
		}
		s.db = db
		sessions = auth.NewBadgerStore(db.Badger())
		s.restrictions = enforcement.NewBadgerRestrictionStore(db.Badger())
		s.grants = download.NewBadgerStore(db.Badger())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	s.sessions = auth.NewGuardedStore(sessions, breaker.New("auth-store", breaker.DefaultSettings()), cfg.Auth.CallTimeout)
	logging.Info().Str("backend", cfg.Storage.Backend).Msg("Stores initialized")
	return s, nil
}

// Ping backs the readiness check.
func (s *stores) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

func (s *stores) Close() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing storage")
	}
}

// auditBackend is the sink behind the audit logger. store is nil for
// sinks that cannot be queried or pruned.
type auditBackend struct {
	sink  audit.Sink
	store audit.Store
	close func() error
}

func openAudit(ctx context.Context, cfg *config.Config) (*auditBackend, error) {
	switch cfg.Audit.Backend {
	case config.BackendMemory:
		s := audit.NewMemoryStore(cfg.Audit.MemoryLimit)
		logging.Info().Int("limit", cfg.Audit.MemoryLimit).Msg("Audit events kept in memory")
		return &auditBackend{sink: s, store: s}, nil
	case config.BackendDuckDB:
		s, err := audit.OpenDuckDB(ctx, cfg.Audit.DuckDBPath)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("path", cfg.Audit.DuckDBPath).Msg("Audit events stored in DuckDB")
		return &auditBackend{sink: s, store: s, close: s.Close}, nil
	case config.BackendNATS:
		s, err := audit.ConnectNATS(ctx, cfg.Audit.NATS)
		if err != nil {
			return nil, err
		}
		logging.Info().
			Str("stream", cfg.Audit.NATS.Stream).
			Str("subject_prefix", cfg.Audit.NATS.SubjectPrefix).
			Msg("Audit events published to NATS JetStream")
		return &auditBackend{sink: s, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}

func (a *auditBackend) Close() {
	if a.close == nil {
		return
	}
	if err := a.close(); err != nil {
		logging.Error().Err(err).Msg("Error closing audit sink")
	}
}

// newDocumentProvider returns the page-count source. Remote lookups are
// cached and guarded by a circuit breaker.
func newDocumentProvider(cfg *config.Config) docmeta.Provider {
	if cfg.Documents.Backend != config.BackendHTTP {
		return docmeta.NewStaticProvider(cfg.Documents.Static)
	}
	remote := docmeta.NewHTTPProvider(cfg.Documents.HTTP, breaker.New("docmeta", breaker.DefaultSettings()))
	return docmeta.NewCachedProvider(remote, cfg.Documents.Cache.Size, cfg.Documents.Cache.TTL)
}
