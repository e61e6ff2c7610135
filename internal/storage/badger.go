// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package storage owns the shared BadgerDB instance that backs the
// restriction, download grant and session stores, and runs its value log
// garbage collection.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("storage is closed")

// Config configures the badger instance.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	Path string `koanf:"path"`
	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool `koanf:"in_memory"`
	// SyncWrites fsyncs every commit. Restrictions and grants are small
	// and rare, so this is on by default.
	SyncWrites  bool `koanf:"sync_writes"`
	Compression bool `koanf:"compression"`
	// GCInterval is how often value log GC runs; 0 disables it.
	GCInterval time.Duration `koanf:"gc_interval"`
	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio      float64       `koanf:"gc_ratio" validate:"gte=0,lt=1"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DefaultConfig returns durable defaults under /data/thesisguard/badger.
func DefaultConfig() Config {
	return Config{
		Path:         "/data/thesisguard/badger",
		SyncWrites:   true,
		Compression:  true,
		GCInterval:   10 * time.Minute,
		GCRatio:      0.5,
		CloseTimeout: 30 * time.Second,
	}
}

// DB wraps the badger handle with lifecycle management.
type DB struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database.
func Open(cfg Config) (*DB, error) {
	def := DefaultConfig()
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = def.GCRatio
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("Storage opened")
	return &DB{db: db, config: cfg}, nil
}

// Badger returns the underlying handle for the store adapters.
func (d *DB) Badger() *badger.DB {
	return d.db
}

// Ping reports whether the database is open. It backs the readiness check.
func (d *DB) Ping(context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// RunGC rewrites value log files until badger reports nothing left to do.
func (d *DB) RunGC() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if d.config.InMemory {
		return nil
	}

	start := time.Now()
	defer func() { metrics.StorageGCDuration.Observe(time.Since(start).Seconds()) }()

	rewritten := 0
	for {
		err := d.db.RunValueLogGC(d.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			metrics.StorageGCRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("run value log GC: %w", err)
		}
		rewritten++
	}
	if rewritten > 0 {
		metrics.StorageGCRuns.WithLabelValues("rewritten").Inc()
	} else {
		metrics.StorageGCRuns.WithLabelValues("noop").Inc()
	}
	return nil
}

// RunWithContext runs GC every GCInterval until ctx is cancelled.
func (d *DB) RunWithContext(ctx context.Context) error {
	if d.config.GCInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(d.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.RunGC(); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				logging.Warn().Err(err).Msg("Storage GC failed")
			}
		}
	}
}

// Close closes the database, giving up after CloseTimeout.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Storage closed")
		return nil
	case <-time.After(d.config.CloseTimeout):
		logging.Warn().Dur("timeout", d.config.CloseTimeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", d.config.CloseTimeout)
	}
}
