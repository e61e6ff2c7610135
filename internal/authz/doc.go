// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package authz authorizes the admin console endpoints using Casbin.
//
// Subjects are roles, not principals: the role comes from the verified
// bearer token, and the policy grants it actions on admin paths.
//
//	Request -> auth.Middleware -> authz.Middleware -> Handler
//	              |                     |
//	         Authenticate          Authorize (Casbin)
//
// # RBAC Model
//
//	[request_definition]
//	r = sub, obj, act
//
//	[policy_definition]
//	p = sub, obj, act
//
//	[role_definition]
//	g = _, _
//
//	[policy_effect]
//	e = some(where (p.eft == allow))
//
//	[matchers]
//	m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && r.act == p.act
//
// # Default Policy
//
// Archivists read policies, alerts and restrictions and issue download
// grants. Administrators inherit those rights and may also enable or disable
// policies, lift restrictions and reset violation counters. Researchers and
// guests have no admin rights.
//
// The embedded model.conf and policy.csv are used unless ModelPath or
// PolicyPath point at readable files.
//
// # Usage Example
//
//	enforcer, err := authz.NewEnforcer(authz.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	r.With(authz.NewMiddleware(enforcer).Authorize).Get("/api/v1/admin/alerts", h.Alerts)
package authz
