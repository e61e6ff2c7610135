// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/thesisguard/internal/breaker"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/metrics"
)

// ErrSpooled is returned by LogAndWait when the event is held locally
// because the sink did not acknowledge it in time. The event will still be
// delivered, in order, once the sink recovers.
var ErrSpooled = errors.New("audit event spooled locally")

// Config holds configuration for the audit logger.
type Config struct {
	// SinkTimeout bounds a single Append call.
	SinkTimeout time.Duration `koanf:"sink_timeout"`

	// WaitTimeout bounds how long LogAndWait waits for an acknowledgement.
	WaitTimeout time.Duration `koanf:"wait_timeout"`

	// SpoolLimit caps events held locally; the oldest are dropped beyond it.
	SpoolLimit int `koanf:"spool_limit"`

	// RetryInitial and RetryMax bound the exponential backoff between
	// delivery attempts while the sink is failing.
	RetryInitial time.Duration `koanf:"retry_initial"`
	RetryMax     time.Duration `koanf:"retry_max"`

	// FlushInterval is how often the writer checks the spool without a signal.
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SinkTimeout:   3 * time.Second,
		WaitTimeout:   2 * time.Second,
		SpoolLimit:    50000,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      time.Minute,
		FlushInterval: time.Second,
	}
}

type request struct {
	event    *Event
	done     chan error
	notified bool
	spooled  bool
}

// Logger delivers events to a Sink through one ordered queue.
type Logger struct {
	config  Config
	sink    Sink
	breaker *breaker.Breaker

	mu        sync.Mutex
	pending   []*request
	inflight  bool
	failing   bool
	nextRetry time.Time
	backoff   *backoff.ExponentialBackOff

	signal chan struct{}
}

// NewLogger creates an audit logger. Serve must be running for events to
// reach the sink.
func NewLogger(sink Sink, cfg Config) *Logger {
	def := DefaultConfig()
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.SpoolLimit <= 0 {
		cfg.SpoolLimit = def.SpoolLimit
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitial
	bo.MaxInterval = cfg.RetryMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Logger{
		config:  cfg,
		sink:    sink,
		breaker: breaker.New("audit-sink", breaker.DefaultSettings()),
		backoff: bo,
		signal:  make(chan struct{}, 1),
	}
}

// Log queues an event without waiting for the sink.
func (l *Logger) Log(event *Event) {
	l.enqueue(&request{event: prepare(event)})
}

// LogAndWait queues an event and waits until the sink acknowledges it or the
// wait timeout passes. A nil return means the event is durable in the sink;
// ErrSpooled means it is held locally and will be retried. The caller's
// context is not consulted: the wait is always bounded by WaitTimeout.
func (l *Logger) LogAndWait(event *Event) error {
	req := &request{event: prepare(event), done: make(chan error, 1)}
	l.enqueue(req)

	timer := time.NewTimer(l.config.WaitTimeout)
	defer timer.Stop()

	select {
	case err := <-req.done:
		return err
	case <-timer.C:
		l.mu.Lock()
		if !req.notified {
			l.markSpooled(req)
		}
		l.mu.Unlock()
		return <-req.done
	}
}

// Pending returns the number of events not yet acknowledged by the sink.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func prepare(event *Event) *Event {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

func (l *Logger) enqueue(req *request) {
	l.mu.Lock()
	if len(l.pending) >= l.config.SpoolLimit {
		idx := 0
		if l.inflight {
			idx = 1
		}
		if idx < len(l.pending) {
			dropped := l.pending[idx]
			l.pending = append(l.pending[:idx], l.pending[idx+1:]...)
			l.notify(dropped, ErrSpooled)
			metrics.AuditEvents.WithLabelValues("dropped").Inc()
			logging.Error().Str("event_id", dropped.event.ID).Str("type", string(dropped.event.Type)).
				Msg("Audit spool full, dropping oldest event")
		}
	}
	l.pending = append(l.pending, req)
	failing := l.failing
	metrics.AuditSpoolSize.Set(float64(len(l.pending)))
	if failing {
		l.markSpooled(req)
	}
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// notify must be called with mu held.
func (l *Logger) notify(req *request, err error) {
	if req.done == nil || req.notified {
		return
	}
	req.notified = true
	req.done <- err
}

// markSpooled must be called with mu held.
func (l *Logger) markSpooled(req *request) {
	if !req.spooled {
		req.spooled = true
		metrics.AuditEvents.WithLabelValues("spooled").Inc()
		spoolLocally(req.event)
	}
	l.notify(req, ErrSpooled)
}

// spoolLocally writes the full event to the process log so a local trail
// exists even if the process dies before the sink recovers.
func spoolLocally(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to marshal spooled audit event")
		return
	}
	logging.Warn().RawJSON("audit_event", data).Msg("Audit sink unavailable, event spooled")
}

// Serve runs the writer until ctx is cancelled. It implements suture.Service.
func (l *Logger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return ctx.Err()
		case <-l.signal:
		case <-ticker.C:
		}
		l.flush(ctx)
	}
}

// String implements fmt.Stringer for suture logging.
func (l *Logger) String() string {
	return "audit-logger"
}

// flush writes pending events in order until the queue is empty or the sink fails.
func (l *Logger) flush(ctx context.Context) {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		if l.failing && time.Now().Before(l.nextRetry) {
			for _, req := range l.pending {
				l.markSpooled(req)
			}
			l.mu.Unlock()
			return
		}
		req := l.pending[0]
		l.inflight = true
		l.mu.Unlock()

		err := l.write(ctx, req.event)

		l.mu.Lock()
		l.inflight = false
		if err != nil {
			l.failing = true
			l.nextRetry = time.Now().Add(l.backoff.NextBackOff())
			for _, p := range l.pending {
				l.markSpooled(p)
			}
			pending := len(l.pending)
			l.mu.Unlock()
			logging.Warn().Err(err).Int("pending", pending).Msg("Audit sink append failed, retrying with backoff")
			return
		}

		l.pending = l.pending[1:]
		if l.failing {
			l.failing = false
			l.backoff.Reset()
			logging.Info().Msg("Audit sink recovered")
		}
		if req.spooled {
			metrics.AuditEvents.WithLabelValues("replayed").Inc()
		} else {
			metrics.AuditEvents.WithLabelValues("written").Inc()
		}
		l.notify(req, nil)
		metrics.AuditSpoolSize.Set(float64(len(l.pending)))
		l.mu.Unlock()
	}
}

func (l *Logger) write(ctx context.Context, event *Event) error {
	return l.breaker.Do(func() error {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.SinkTimeout)
		defer cancel()
		return l.sink.Append(writeCtx, event)
	})
}

// drain makes one last bounded delivery attempt on shutdown.
func (l *Logger) drain() {
	l.mu.Lock()
	l.failing = false
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.flush(ctx)

	if n := l.Pending(); n > 0 {
		logging.Error().Int("pending", n).Msg("Audit logger stopped with undelivered events")
	}
}
