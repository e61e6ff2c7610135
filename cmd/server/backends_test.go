// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/thesisguard/internal/config"
	"github.com/tomtom215/thesisguard/internal/docmeta"
	"github.com/tomtom215/thesisguard/internal/storage"
)

func TestOpenStores(t *testing.T) {
	tests := []struct {
		name       string
		backend    string
		wantDB     bool
		wantMemory bool
		wantErr    bool
	}{
		{"memory", config.BackendMemory, false, true, false},
		{"badger", config.BackendBadger, true, false, false},
		{"unknown", "postgres", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Storage.Backend = tt.backend
			cfg.Storage.Badger = storage.Config{InMemory: true}
			cfg.Auth.CallTimeout = time.Second

			s, err := openStores(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("openStores() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openStores() error = %v", err)
			}
			defer s.Close()

			if (s.db != nil) != tt.wantDB {
				t.Errorf("db set = %t, want %t", s.db != nil, tt.wantDB)
			}
			if (s.memorySessions != nil) != tt.wantMemory {
				t.Errorf("memorySessions set = %t, want %t", s.memorySessions != nil, tt.wantMemory)
			}
			if s.sessions == nil || s.restrictions == nil || s.grants == nil {
				t.Fatal("stores left unset")
			}
			if err := s.Ping(context.Background()); err != nil {
				t.Errorf("Ping() = %v", err)
			}
		})
	}
}

func TestStores_PingAfterClose(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Backend = config.BackendBadger
	cfg.Storage.Badger = storage.Config{InMemory: true}

	s, err := openStores(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Ping() after close = %v, want ErrClosed", err)
	}
}

func TestOpenAudit_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Audit.Backend = config.BackendMemory
	cfg.Audit.MemoryLimit = 10

	b, err := openAudit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openAudit() error = %v", err)
	}
	defer b.Close()
	if b.sink == nil || b.store == nil {
		t.Error("memory backend should be both sink and store")
	}

	cfg.Audit.Backend = "kafka"
	if _, err := openAudit(context.Background(), cfg); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestNewDocumentProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Documents.Backend = config.BackendStatic
	cfg.Documents.Static = map[string]int{"thesis-1": 42}

	p := newDocumentProvider(cfg)
	if _, ok := p.(*docmeta.StaticProvider); !ok {
		t.Fatalf("provider = %T, want *docmeta.StaticProvider", p)
	}
	if n, err := p.PageCount(context.Background(), "thesis-1"); err != nil || n != 42 {
		t.Errorf("PageCount() = %d, %v", n, err)
	}

	cfg.Documents.Backend = config.BackendHTTP
	cfg.Documents.HTTP.BaseURL = "http://127.0.0.1:1"
	cfg.Documents.Cache.Size = 10
	cfg.Documents.Cache.TTL = time.Minute
	if _, ok := newDocumentProvider(cfg).(*docmeta.CachedProvider); !ok {
		t.Error("http backend should be cached")
	}
}

func TestEvery(t *testing.T) {
	var calls atomic.Int32
	run := every(5*time.Millisecond, func() { calls.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run() = %v, want DeadlineExceeded", err)
	}
	if calls.Load() == 0 {
		t.Error("fn was never called")
	}
}
