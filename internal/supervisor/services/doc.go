// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package services provides suture.Service wrappers for Thesisguard components.

Each wrapper implements suture.Service and fmt.Stringer:

  - HTTPServerService: ListenAndServe with graceful Shutdown on cancellation
  - RunnerService: components exposing RunWithContext(ctx) error, such as
    the enforcement engine's batch worker and the session sweeper
  - FuncService: any other loop function, such as the invalidation retry
    loop or violation counter cleanup

Components that already implement Serve and String (the audit logger and
audit retention) are added to the tree directly.
*/
package services
