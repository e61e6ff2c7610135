// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func TestOpen_OnDisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("restriction:r-1"), []byte("{}"))
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := db.RunGC(); err != nil {
		t.Errorf("RunGC: %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and read the value back.
	db, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	err = db.Badger().View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("restriction:r-1"))
		return err
	})
	if err != nil {
		t.Errorf("value lost across reopen: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := db.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after close = %v, want ErrClosed", err)
	}
	if err := db.RunGC(); !errors.Is(err, ErrClosed) {
		t.Errorf("RunGC after close = %v, want ErrClosed", err)
	}
}

func TestRunWithContext_StopsOnCancel(t *testing.T) {
	db, err := Open(Config{InMemory: true, GCInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := db.RunWithContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunWithContext = %v, want DeadlineExceeded", err)
	}
}
