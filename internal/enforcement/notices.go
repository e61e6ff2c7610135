// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"context"
	"sync"

	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
)

// DefaultNoticesPerPrincipal caps each principal's inbox.
const DefaultNoticesPerPrincipal = 50

// NoticeInbox holds user-facing notices per principal, newest last.
type NoticeInbox struct {
	mu    sync.Mutex
	max   int
	boxes map[string][]models.Notice
}

// NewNoticeInbox creates an inbox keeping at most max notices per principal.
func NewNoticeInbox(max int) *NoticeInbox {
	if max <= 0 {
		max = DefaultNoticesPerPrincipal
	}
	return &NoticeInbox{max: max, boxes: make(map[string][]models.Notice)}
}

// Push adds a notice, dropping the principal's oldest beyond the cap.
func (n *NoticeInbox) Push(notice models.Notice) {
	key := models.PrincipalKey(notice.PrincipalID)
	n.mu.Lock()
	defer n.mu.Unlock()

	box := append(n.boxes[key], notice)
	if len(box) > n.max {
		box = box[len(box)-n.max:]
	}
	n.boxes[key] = box
}

// List returns a principal's notices, newest first.
func (n *NoticeInbox) List(principalID string) []models.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	box := n.boxes[models.PrincipalKey(principalID)]
	out := make([]models.Notice, len(box))
	for i := range box {
		out[len(box)-1-i] = box[i]
	}
	return out
}

// Clear empties a principal's inbox.
func (n *NoticeInbox) Clear(principalID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.boxes, models.PrincipalKey(principalID))
}

// AlertStore persists admin-facing security alerts.
type AlertStore interface {
	Save(ctx context.Context, alert *models.Alert) error
	List(ctx context.Context, limit int) ([]models.Alert, error)
}

// Notifier pushes alerts to an external channel.
type Notifier interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, alert *models.Alert) error
}

// DefaultAlertCapacity bounds the in-memory alert store.
const DefaultAlertCapacity = 1000

// MemoryAlertStore keeps the most recent alerts in memory.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	max    int
	alerts []models.Alert
}

// NewMemoryAlertStore creates an alert store holding at most max alerts.
func NewMemoryAlertStore(max int) *MemoryAlertStore {
	if max <= 0 {
		max = DefaultAlertCapacity
	}
	return &MemoryAlertStore{max: max}
}

// Save implements AlertStore.
func (s *MemoryAlertStore) Save(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, *alert)
	if len(s.alerts) > s.max {
		dropped := len(s.alerts) - s.max
		s.alerts = s.alerts[dropped:]
		logging.Debug().Int("dropped", dropped).Msg("Alert store at capacity")
	}
	return nil
}

// List implements AlertStore, newest first.
func (s *MemoryAlertStore) List(_ context.Context, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]models.Alert, 0, limit)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}
