// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package backup

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned for an unknown snapshot ID.
	ErrNotFound = errors.New("snapshot not found")
	// ErrChecksumMismatch is returned when an archive no longer matches its recorded checksum.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	// ErrInProgress is returned when a snapshot is requested while another runs.
	ErrInProgress = errors.New("snapshot already in progress")
)

// Trigger indicates what initiated a snapshot.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerShutdown  Trigger = "shutdown"
)

// Config configures snapshots.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// Interval between scheduled snapshots.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
	// PreferredHour (0-23) anchors snapshots when Interval is a day or more.
	// -1 disables anchoring.
	PreferredHour int `koanf:"preferred_hour" validate:"gte=-1,lte=23"`
	// OnShutdown takes a final snapshot when the service stops.
	OnShutdown bool `koanf:"on_shutdown"`

	Retention RetentionPolicy `koanf:"retention"`
}

// RetentionPolicy bounds how many snapshots are kept.
type RetentionPolicy struct {
	MinCount int           `koanf:"min_count" validate:"gte=0"`
	MaxCount int           `koanf:"max_count" validate:"gte=0"`
	MaxAge   time.Duration `koanf:"max_age" validate:"gte=0"`
}

// DefaultConfig snapshots daily at 03:00 and keeps two weeks.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Dir:           "/data/thesisguard/backups",
		Interval:      24 * time.Hour,
		PreferredHour: 3,
		OnShutdown:    true,
		Retention: RetentionPolicy{
			MinCount: 3,
			MaxCount: 30,
			MaxAge:   14 * 24 * time.Hour,
		},
	}
}

// Snapshot is the metadata of one archive.
type Snapshot struct {
	ID        string        `json:"id"`
	Trigger   Trigger       `json:"trigger"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration_ms"`
	File      string        `json:"file"`
	Size      int64         `json:"size"`
	Checksum  string        `json:"checksum"`
	// Version is the badger version the stream covers.
	Version uint64 `json:"version"`
}

// Source streams a consistent backup. *badger.DB implements it.
type Source interface {
	Backup(w io.Writer, since uint64) (uint64, error)
}

// Target loads a backup stream. *badger.DB implements it.
type Target interface {
	Load(r io.Reader, maxPendingWrites int) error
}

type metadata struct {
	Snapshots []Snapshot `json:"snapshots"`
	LastRun   *time.Time `json:"last_run,omitempty"`
}
