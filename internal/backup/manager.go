// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
)

const metadataFile = "metadata.json"

// Manager creates, lists, prunes and restores snapshots.
type Manager struct {
	cfg    Config
	source Source

	mu   sync.RWMutex
	meta metadata

	running atomic.Bool
	now     func() time.Time
}

// NewManager creates the backup directory if needed and loads existing
// metadata.
func NewManager(cfg Config, source Source) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	m := &Manager{cfg: cfg, source: source, now: time.Now}
	if err := m.loadMetadata(); err != nil {
		return nil, err
	}
	return m, nil
}

// Create writes a new snapshot and applies retention.
func (m *Manager) Create(ctx context.Context, trigger Trigger) (*Snapshot, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer m.running.Store(false)

	snap, err := m.create(ctx, trigger)
	if err != nil {
		metrics.BackupRuns.WithLabelValues(string(trigger), "error").Inc()
		logging.Error().Err(err).Str("trigger", string(trigger)).Msg("Storage snapshot failed")
		return nil, err
	}
	metrics.BackupRuns.WithLabelValues(string(trigger), "success").Inc()
	metrics.BackupLastSuccess.Set(float64(snap.CreatedAt.Unix()))

	logging.Info().
		Str("id", snap.ID).
		Str("trigger", string(trigger)).
		Int64("size", snap.Size).
		Dur("duration", snap.Duration).
		Msg("Storage snapshot created")

	if removed, err := m.Prune(); err != nil {
		logging.Warn().Err(err).Msg("Snapshot retention failed")
	} else if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Old snapshots removed")
	}
	return snap, nil
}

func (m *Manager) create(ctx context.Context, trigger Trigger) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := m.now()
	snap := &Snapshot{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		CreatedAt: start.UTC(),
	}
	snap.File = fmt.Sprintf("thesisguard-%s-%s.badger.zst", start.UTC().Format("20060102T150405Z"), snap.ID[:8])

	final := filepath.Join(m.cfg.Dir, snap.File)
	tmp := final + ".tmp"

	version, size, checksum, err := m.writeArchive(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("finalize snapshot: %w", err)
	}

	snap.Version = version
	snap.Size = size
	snap.Checksum = checksum
	snap.Duration = m.now().Sub(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.Snapshots = append(m.meta.Snapshots, *snap)
	now := snap.CreatedAt
	m.meta.LastRun = &now
	if err := m.saveMetadataLocked(); err != nil {
		return nil, err
	}
	return snap, nil
}

// writeArchive streams the backup through zstd and a hash into path.
//
//nolint:gosec // G304: path is built from the configured backup directory
func (m *Manager) writeArchive(path string) (version uint64, size int64, checksum string, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, 0, "", fmt.Errorf("create snapshot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot file: %w", cerr)
		}
	}()

	h := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(f, h)}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return 0, 0, "", fmt.Errorf("create encoder: %w", err)
	}

	version, err = m.source.Backup(enc, 0)
	if err != nil {
		_ = enc.Close()
		return 0, 0, "", fmt.Errorf("stream backup: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, 0, "", fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, 0, "", fmt.Errorf("sync snapshot: %w", err)
	}
	return version, counter.n, hex.EncodeToString(h.Sum(nil)), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// List returns snapshots, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.meta.Snapshots))
	copy(out, m.meta.Snapshots)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns one snapshot.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.meta.Snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

// Verify recomputes the checksum of a snapshot archive.
func (m *Manager) Verify(id string) error {
	snap, err := m.Get(id)
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(m.cfg.Dir, snap.File))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if hex.EncodeToString(h.Sum(nil)) != snap.Checksum {
		return fmt.Errorf("%s: %w", id, ErrChecksumMismatch)
	}
	return nil
}

// Restore verifies a snapshot and loads it into target, which should be
// an empty store.
func (m *Manager) Restore(id string, target Target) error {
	if err := m.Verify(id); err != nil {
		return err
	}
	snap, err := m.Get(id)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(m.cfg.Dir, snap.File))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	defer dec.Close()

	if err := target.Load(dec, 256); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	logging.Info().Str("id", id).Uint64("version", snap.Version).Msg("Storage snapshot restored")
	return nil
}

func (m *Manager) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.Dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backup metadata: %w", err)
	}
	if err := json.Unmarshal(data, &m.meta); err != nil {
		return fmt.Errorf("parse backup metadata: %w", err)
	}
	return nil
}

func (m *Manager) saveMetadataLocked() error {
	data, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	path := filepath.Join(m.cfg.Dir, metadataFile)
	if err := os.WriteFile(path+".tmp", data, 0o640); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return nil
}
