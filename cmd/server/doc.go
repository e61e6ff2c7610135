// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package main is the entry point for the Thesisguard server.

Thesisguard sits between a thesis viewer and the archive. It decides how
much of a document a reader may see, records client-reported violations,
escalates repeated violations into warnings, restrictions, terminated
sessions and blocked accounts, and issues single-use download grants.
Nothing here cryptographically prevents extraction; every violation report
is an untrusted client claim.

# Application Architecture

All components are constructed here and injected; there is no global
engine. Long-running work is supervised by a Suture v4 tree:

	RootSupervisor ("thesisguard")
	├── DataSupervisor ("data-layer")
	│   ├── audit-logger
	│   ├── audit-retention (duckdb and memory sinks)
	│   ├── badger-gc (badger storage)
	│   └── storage-backup (BACKUP_ENABLED)
	├── EnforcementSupervisor ("enforcement-layer")
	│   ├── enforcement-batch
	│   ├── invalidation-retry
	│   ├── session-sweeper
	│   ├── violation-cleanup
	│   └── auth-session-cleanup (memory storage)
	└── APISupervisor ("api-layer")
	    └── http-server

Initialization order:

 1. Configuration: koanf v2 with defaults, config.yaml and environment
 2. Logging: zerolog with JSON or console output
 3. Storage: BadgerDB (or memory) for restrictions, grants and sessions
 4. Audit: DuckDB, NATS JetStream or memory sink behind the audit logger
 5. Enforcement: policy registry, engine, tracker, session manager
 6. Gate: access evaluator, watermarks, download validator
 7. HTTP: chi router with authentication and casbin authorization
 8. Supervisor tree

# Configuration

	HTTP_PORT=8470
	LOG_LEVEL=info
	JWT_SECRET=<32+ chars>          # required
	WATERMARK_SECRET=<32+ chars>    # required, different from JWT_SECRET
	STORAGE_BACKEND=badger          # memory or badger
	BADGER_PATH=/data/thesisguard/badger
	AUDIT_BACKEND=duckdb            # memory, duckdb or nats
	AUDIT_DUCKDB_PATH=/data/thesisguard/audit.duckdb
	NATS_URL=nats://127.0.0.1:4222
	NETWORK_ALLOWED=true
	WEBHOOK_ENABLED=false

See package config for the full list.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains
in-flight requests, the audit logger flushes what it can, and storage is
closed after the tree has stopped.
*/
package main
