// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures the JetStream audit sink.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	Stream        string        `koanf:"stream"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	MaxAge        time.Duration `koanf:"max_age"`
}

// JetStreamPublisher is the subset of jetstream.JetStream used by NATSSink.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes audit events to a JetStream stream. Publish waits for
// the stream acknowledgement, so a nil error means the event is stored.
type NATSSink struct {
	js     JetStreamPublisher
	nc     *nats.Conn
	prefix string
}

// NewNATSSink wraps an existing JetStream publisher.
func NewNATSSink(js JetStreamPublisher, subjectPrefix string) *NATSSink {
	if subjectPrefix == "" {
		subjectPrefix = "thesisguard.audit"
	}
	return &NATSSink{js: js, prefix: subjectPrefix}
}

// ConnectNATS connects to NATS, ensures the audit stream exists and returns a sink.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATSSink, error) {
	if cfg.Stream == "" {
		cfg.Stream = "THESISGUARD_AUDIT"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "thesisguard.audit"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("thesisguard-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		Duplicates: 10 * time.Minute,
	}
	if _, err := js.Stream(ctx, cfg.Stream); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("update stream %s: %w", cfg.Stream, err)
		}
	} else if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
		}
	} else {
		nc.Close()
		return nil, fmt.Errorf("check stream %s: %w", cfg.Stream, err)
	}

	sink := NewNATSSink(js, cfg.SubjectPrefix)
	sink.nc = nc
	return sink, nil
}

// Append publishes the event on <prefix>.<type>. The event ID is the
// JetStream message ID, so replays inside the duplicate window are dropped
// by the server.
func (s *NATSSink) Append(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	subject := s.prefix + "." + strings.ReplaceAll(string(event.Type), ".", "_")
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close drains the NATS connection if the sink owns it.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
