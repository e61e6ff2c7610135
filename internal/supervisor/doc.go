// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package supervisor runs Thesisguard's long-lived loops under suture v4.

# Overview

Services are grouped into three layers for failure isolation:

	RootSupervisor ("thesisguard")
	├── DataSupervisor ("data-layer")
	│   ├── audit-logger (spool + delivery to the audit sink)
	│   ├── audit-retention (if audit retention is set)
	│   ├── badger-gc (if STORAGE_BACKEND=badger)
	│   └── storage-backup (if BACKUP_ENABLED=true)
	├── EnforcementSupervisor ("enforcement-layer")
	│   ├── enforcement-batch (batched report actions)
	│   ├── invalidation-retry (session invalidations that failed)
	│   ├── session-sweeper (inactivity timeouts)
	│   ├── violation-cleanup (idle counter expiry)
	│   └── auth-session-cleanup (if sessions are kept in memory)
	└── APISupervisor ("api-layer")
	    └── http-server

A failing audit sink is restarted inside the data layer while the API
keeps serving; events are spooled meanwhile.

# Event Logging

Supervisor events (restarts, backoff, stop timeouts) are logged through
sutureslog, fed by logging.NewSlogLogger so they share the zerolog output.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(auditLogger)
	tree.AddEnforcementService(services.NewRunnerService("enforcement-batch", engine))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)

Service wrappers live in the services subpackage.
*/
package supervisor
