// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func openMemDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestManager(t *testing.T, source Source) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	m, err := NewManager(cfg, source)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndRestore(t *testing.T) {
	src := openMemDB(t)
	err := src.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("restriction:block-1"), []byte(`{"scope":"account"}`))
	})
	if err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, src)
	snap, err := m.Create(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.Size == 0 || snap.Checksum == "" {
		t.Errorf("snapshot = %+v, want size and checksum", snap)
	}
	if _, err := os.Stat(filepath.Join(m.cfg.Dir, snap.File)); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if err := m.Verify(snap.ID); err != nil {
		t.Errorf("Verify: %v", err)
	}

	dst := openMemDB(t)
	if err := m.Restore(snap.ID, dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	err = dst.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("restriction:block-1"))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if string(v) != `{"scope":"account"}` {
				t.Errorf("restored value = %s", v)
			}
			return nil
		})
	})
	if err != nil {
		t.Errorf("restored key: %v", err)
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	m := newTestManager(t, openMemDB(t))
	snap, err := m.Create(context.Background(), TriggerManual)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(filepath.Join(m.cfg.Dir, snap.File), os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write([]byte("tampered"))
	_ = f.Close()

	if err := m.Verify(snap.ID); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Verify = %v, want ErrChecksumMismatch", err)
	}
	if err := m.Restore(snap.ID, openMemDB(t)); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Restore = %v, want ErrChecksumMismatch", err)
	}
	if err := m.Verify("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Verify(missing) = %v, want ErrNotFound", err)
	}
}

func TestMetadataSurvivesRestart(t *testing.T) {
	src := openMemDB(t)
	m := newTestManager(t, src)
	snap, err := m.Create(context.Background(), TriggerScheduled)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewManager(m.cfg, src)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := reloaded.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Checksum != snap.Checksum || got.Trigger != TriggerScheduled {
		t.Errorf("reloaded snapshot = %+v, want %+v", got, snap)
	}
}

func TestCreate_RejectsConcurrentRun(t *testing.T) {
	m := newTestManager(t, openMemDB(t))
	m.running.Store(true)
	if _, err := m.Create(context.Background(), TriggerManual); !errors.Is(err, ErrInProgress) {
		t.Errorf("Create = %v, want ErrInProgress", err)
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name   string
		policy RetentionPolicy
		ages   []time.Duration
		want   int
	}{
		{"nothing to prune", RetentionPolicy{MinCount: 1, MaxCount: 10, MaxAge: 30 * day}, []time.Duration{day, 2 * day}, 2},
		{"max age", RetentionPolicy{MinCount: 1, MaxAge: 7 * day}, []time.Duration{day, 8 * day, 9 * day}, 1},
		{"min count beats max age", RetentionPolicy{MinCount: 2, MaxAge: 7 * day}, []time.Duration{8 * day, 9 * day, 10 * day}, 2},
		{"max count", RetentionPolicy{MaxCount: 2}, []time.Duration{day, 2 * day, 3 * day, 4 * day}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, openMemDB(t))
			m.cfg.Retention = tt.policy
			m.now = func() time.Time { return now }

			for i, age := range tt.ages {
				file := filepath.Join(m.cfg.Dir, string(rune('a'+i))+".badger.zst")
				if err := os.WriteFile(file, []byte("x"), 0o640); err != nil {
					t.Fatal(err)
				}
				m.meta.Snapshots = append(m.meta.Snapshots, Snapshot{
					ID:        string(rune('a' + i)),
					File:      filepath.Base(file),
					CreatedAt: now.Add(-age),
				})
			}

			removed, err := m.Prune()
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if got := len(m.List()); got != tt.want {
				t.Errorf("kept %d snapshots, want %d", got, tt.want)
			}
			if removed != len(tt.ages)-tt.want {
				t.Errorf("removed = %d, want %d", removed, len(tt.ages)-tt.want)
			}
			// The newest snapshot always survives.
			if m.List()[0].ID != "a" {
				t.Errorf("newest kept = %s, want a", m.List()[0].ID)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		interval time.Duration
		hour     int
		last     *time.Time
		want     time.Time
	}{
		{"hourly first run", time.Hour, 3, nil, now.Add(time.Hour)},
		{"hourly overdue", time.Hour, 3, &last, now},
		{"daily anchored tomorrow", 24 * time.Hour, 3, nil, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
		{"daily anchored later today", 24 * time.Hour, 18, nil, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)},
		{"daily unanchored", 24 * time.Hour, -1, nil, now.Add(24 * time.Hour)},
		{"weekly anchored a full interval after last run", 7 * 24 * time.Hour, 3, &last, time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{cfg: Config{Interval: tt.interval, PreferredHour: tt.hour}}
			m.meta.LastRun = tt.last
			if got := m.nextRun(now); !got.Equal(tt.want) {
				t.Errorf("nextRun = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunWithContext_ShutdownSnapshot(t *testing.T) {
	m := newTestManager(t, openMemDB(t))
	m.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext = %v, want Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithContext did not return")
	}

	snaps := m.List()
	if len(snaps) != 1 || snaps[0].Trigger != TriggerShutdown {
		t.Errorf("snapshots = %+v, want one shutdown snapshot", snaps)
	}
}
