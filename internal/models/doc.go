// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package models defines the data structures shared by the Thesisguard
enforcement core.

Key Components:

  - Principal and Role: who is asking, and how much they may see
  - Violation: an untrusted, client-reported security event
  - EnforcementAction: a decision record executed once and discarded
  - AccessGrant and Denial: evaluator output and user-facing refusals
  - AccessLevel: ordered download permission levels

Violations are claims made by a browser. Their absence is never evidence
of good behaviour, and nothing in this module prevents a determined client
from extracting a document. Thesisguard is a deterrent and an audit trail,
not a DRM system.
*/
package models
