// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package session tracks viewer inactivity.
//
// A session moves Active -> Warning -> Expired as time passes without
// activity. Each session's last activity is a single atomic int64 holding
// unix nanoseconds, or expiredMark once the session has expired, so a
// heartbeat and the sweeper settle their race with compare-and-swap: either
// the heartbeat lands first and the session lives on, or the sweeper marks
// it expired and the heartbeat is refused. An expired session is never
// resurrected.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
)

// State is a session's inactivity state.
type State string

const (
	StateActive  State = "active"
	StateWarning State = "warning"
	StateExpired State = "expired"
)

const expiredMark int64 = -1

// Errors returned to callers; they are user-facing denials.
var (
	ErrSessionExpired  = models.ErrSessionExpired
	ErrSessionNotFound = models.Deny(models.CodeSessionNotFound, "the session is not being tracked")
	ErrExtensionLimit  = models.Deny(models.CodeExtensionLimit, "the session cannot be extended any further")
)

// Config holds timeout settings.
type Config struct {
	WarnAfter     time.Duration `koanf:"warn_after" validate:"min=1s"`
	ExpireAfter   time.Duration `koanf:"expire_after" validate:"min=1s,gtfield=WarnAfter"`
	MaxExtensions int           `koanf:"max_extensions" validate:"min=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1s"`
}

// DefaultConfig warns after 25 minutes idle, expires after 30, allows three
// extensions and sweeps every 30 seconds.
func DefaultConfig() Config {
	return Config{
		WarnAfter:     25 * time.Minute,
		ExpireAfter:   30 * time.Minute,
		MaxExtensions: 3,
		SweepInterval: 30 * time.Second,
	}
}

// ExpireFunc is called once per expired session, outside any lock.
type ExpireFunc func(ctx context.Context, principalID, sessionID string)

type entry struct {
	principalID string
	createdAt   time.Time
	last        atomic.Int64
	expiredAt   atomic.Int64
	extensions  atomic.Int32
}

// Info is a snapshot of one session.
type Info struct {
	SessionID           string    `json:"session_id"`
	PrincipalID         string    `json:"principal_id"`
	State               State     `json:"state"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity,omitempty"`
	WarnAt              time.Time `json:"warn_at,omitempty"`
	ExpiresAt           time.Time `json:"expires_at,omitempty"`
	Extensions          int       `json:"extensions"`
	RemainingExtensions int       `json:"remaining_extensions"`
}

// Manager tracks session activity.
type Manager struct {
	config   Config
	onExpire ExpireFunc

	mu       sync.RWMutex
	sessions map[string]*entry

	now func() time.Time
}

// NewManager creates a manager. onExpire may be nil.
func NewManager(cfg Config, onExpire ExpireFunc) *Manager {
	def := DefaultConfig()
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = def.WarnAfter
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = def.ExpireAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxExtensions < 0 {
		cfg.MaxExtensions = 0
	}
	return &Manager{
		config:   cfg,
		onExpire: onExpire,
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (m *Manager) lookup(sessionID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

// Heartbeat records activity, starting to track the session if needed.
// It fails with ErrSessionExpired once the session has expired.
func (m *Manager) Heartbeat(ctx context.Context, sessionID, principalID string) error {
	now := m.now()
	e, ok := m.lookup(sessionID)
	if !ok {
		m.mu.Lock()
		e, ok = m.sessions[sessionID]
		if !ok {
			e = &entry{principalID: models.PrincipalKey(principalID), createdAt: now}
			e.last.Store(now.UnixNano())
			m.sessions[sessionID] = e
			metrics.SessionsTracked.Set(float64(len(m.sessions)))
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
	}
	return m.touch(ctx, sessionID, e, now)
}

// touch moves last activity to now unless the session expired.
func (m *Manager) touch(ctx context.Context, sessionID string, e *entry, now time.Time) error {
	for {
		old := e.last.Load()
		if old == expiredMark {
			return ErrSessionExpired
		}
		if now.Sub(time.Unix(0, old)) > m.config.ExpireAfter {
			// The sweeper has not run yet; expire here.
			if e.last.CompareAndSwap(old, expiredMark) {
				m.expired(ctx, sessionID, e, now)
				return ErrSessionExpired
			}
			continue
		}
		if e.last.CompareAndSwap(old, now.UnixNano()) {
			return nil
		}
	}
}

// Extend resets the inactivity clock on request, at most MaxExtensions
// times per session.
func (m *Manager) Extend(ctx context.Context, sessionID string) (Info, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	now := m.now()
	if m.expireIfStale(ctx, sessionID, e, now) {
		return Info{}, ErrSessionExpired
	}
	for {
		n := e.extensions.Load()
		if int(n) >= m.config.MaxExtensions {
			return m.info(sessionID, e, now), ErrExtensionLimit
		}
		if e.extensions.CompareAndSwap(n, n+1) {
			break
		}
	}

	if err := m.touch(ctx, sessionID, e, now); err != nil {
		// Expired between the check and the touch; the extension was not used.
		e.extensions.Add(-1)
		return Info{}, err
	}
	return m.info(sessionID, e, now), nil
}

// expireIfStale reports whether the session is expired at now, marking it
// and firing the expiry callback when the sweeper has not done so yet.
func (m *Manager) expireIfStale(ctx context.Context, sessionID string, e *entry, now time.Time) bool {
	for {
		old := e.last.Load()
		if old == expiredMark {
			return true
		}
		if now.Sub(time.Unix(0, old)) <= m.config.ExpireAfter {
			return false
		}
		if e.last.CompareAndSwap(old, expiredMark) {
			m.expired(ctx, sessionID, e, now)
			return true
		}
	}
}

// State returns a snapshot of the session at the current time.
func (m *Manager) State(sessionID string) (Info, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return m.info(sessionID, e, m.now()), nil
}

func (m *Manager) info(sessionID string, e *entry, now time.Time) Info {
	ext := int(e.extensions.Load())
	remaining := m.config.MaxExtensions - ext
	if remaining < 0 {
		remaining = 0
	}
	info := Info{
		SessionID:           sessionID,
		PrincipalID:         e.principalID,
		CreatedAt:           e.createdAt,
		Extensions:          ext,
		RemainingExtensions: remaining,
	}

	last := e.last.Load()
	if last == expiredMark {
		info.State = StateExpired
		return info
	}
	lastAt := time.Unix(0, last)
	info.LastActivity = lastAt
	info.WarnAt = lastAt.Add(m.config.WarnAfter)
	info.ExpiresAt = lastAt.Add(m.config.ExpireAfter)
	info.State = m.classify(now.Sub(lastAt))
	return info
}

func (m *Manager) classify(inactive time.Duration) State {
	switch {
	case inactive > m.config.ExpireAfter:
		return StateExpired
	case inactive > m.config.WarnAfter:
		return StateWarning
	default:
		return StateActive
	}
}

// Remove stops tracking a session, e.g. on logout.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	metrics.SessionsTracked.Set(float64(len(m.sessions)))
	m.mu.Unlock()
}

// Len returns the number of tracked sessions, expired ones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep expires every session idle longer than ExpireAfter at now and
// returns their IDs. Expired sessions are forgotten after another
// ExpireAfter has passed.
func (m *Manager) Sweep(ctx context.Context, now time.Time) []string {
	type candidate struct {
		id string
		e  *entry
	}

	m.mu.RLock()
	candidates := make([]candidate, 0, len(m.sessions))
	for id, e := range m.sessions {
		candidates = append(candidates, candidate{id: id, e: e})
	}
	m.mu.RUnlock()

	var expired []string
	var stale []string
	for _, c := range candidates {
		old := c.e.last.Load()
		if old == expiredMark {
			if now.Sub(time.Unix(0, c.e.expiredAt.Load())) > m.config.ExpireAfter {
				stale = append(stale, c.id)
			}
			continue
		}
		if now.Sub(time.Unix(0, old)) <= m.config.ExpireAfter {
			continue
		}
		if c.e.last.CompareAndSwap(old, expiredMark) {
			m.expired(ctx, c.id, c.e, now)
			expired = append(expired, c.id)
		}
	}

	if len(stale) > 0 {
		m.mu.Lock()
		for _, id := range stale {
			if e, ok := m.sessions[id]; ok && e.last.Load() == expiredMark {
				delete(m.sessions, id)
			}
		}
		metrics.SessionsTracked.Set(float64(len(m.sessions)))
		m.mu.Unlock()
	}
	return expired
}

func (m *Manager) expired(ctx context.Context, sessionID string, e *entry, now time.Time) {
	e.expiredAt.Store(now.UnixNano())
	metrics.SessionsExpired.Inc()
	logging.Info().Str("session_id", logging.SanitizeSessionID(sessionID)).
		Str("principal_id", e.principalID).Msg("Session expired after inactivity")
	if m.onExpire != nil {
		m.onExpire(ctx, e.principalID, sessionID)
	}
}

// RunWithContext sweeps on SweepInterval until ctx is cancelled.
func (m *Manager) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ids := m.Sweep(ctx, m.now()); len(ids) > 0 {
				logging.Debug().Int("expired", len(ids)).Msg("Session sweep complete")
			}
		}
	}
}
