// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// DuckDBStore implements Store using DuckDB for durable, queryable storage.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenDuckDB opens (or creates) a DuckDB database at path and ensures the
// audit table exists. Use ":memory:" for an in-process database.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	store := NewDuckDBStore(db)
	if err := store.CreateTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewDuckDBStore wraps an existing database handle.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			outcome TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_role TEXT,
			actor_session_id TEXT,
			target_id TEXT,
			target_type TEXT,
			source_ip TEXT,
			source_user_agent TEXT,
			policy_id TEXT,
			action TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSON,
			correlation_id TEXT,
			request_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
		CREATE INDEX IF NOT EXISTS idx_audit_actor_id ON audit_events(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_policy_id ON audit_events(policy_id)
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit events table created/verified")
	return nil
}

// Append inserts an event. Re-delivering an event with the same ID is a no-op
// so spool replays after an ambiguous timeout stay exactly-once.
func (s *DuckDBStore) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var targetID, targetType *string
	if event.Target != nil {
		targetID, targetType = &event.Target.ID, &event.Target.Type
	}
	var metadata *string
	if len(event.Metadata) > 0 {
		m := string(event.Metadata)
		metadata = &m
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, type, severity, outcome,
			actor_id, actor_type, actor_role, actor_session_id,
			target_id, target_type, source_ip, source_user_agent,
			policy_id, action, description, metadata,
			correlation_id, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Timestamp, string(event.Type), string(event.Severity), string(event.Outcome),
		event.Actor.ID, event.Actor.Type, event.Actor.Role, event.Actor.SessionID,
		targetID, targetType, event.Source.IPAddress, event.Source.UserAgent,
		event.PolicyID, event.Action, event.Description, metadata,
		event.CorrelationID, event.RequestID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

// Query retrieves events matching the filter, most recent first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var args []interface{}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.PolicyID != "" {
		conditions = append(conditions, "policy_id = ?")
		args = append(args, filter.PolicyID)
	}
	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}

	query := `
		SELECT id, timestamp, type, severity, outcome,
			actor_id, actor_type, actor_role, actor_session_id,
			target_id, target_type, source_ip, source_user_agent,
			policy_id, action, description, CAST(metadata AS VARCHAR),
			correlation_id, request_id
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType, severity, outcome string
		var role, sessionID, targetID, targetType sql.NullString
		var ip, userAgent, policyID, metadata sql.NullString
		var correlationID, requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &severity, &outcome,
			&e.Actor.ID, &e.Actor.Type, &role, &sessionID,
			&targetID, &targetType, &ip, &userAgent,
			&policyID, &e.Action, &e.Description, &metadata,
			&correlationID, &requestID); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		e.Type = EventType(eventType)
		e.Severity = Severity(severity)
		e.Outcome = Outcome(outcome)
		e.Actor.Role = role.String
		e.Actor.SessionID = sessionID.String
		if targetID.Valid {
			e.Target = &Target{ID: targetID.String, Type: targetType.String}
		}
		e.Source = Source{IPAddress: ip.String, UserAgent: userAgent.String}
		e.PolicyID = policyID.String
		if metadata.Valid {
			e.Metadata = json.RawMessage(metadata.String)
		}
		e.CorrelationID = correlationID.String
		e.RequestID = requestID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old audit events")
	}
	return count, nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
