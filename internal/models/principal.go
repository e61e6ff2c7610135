// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package models

// Role identifies a principal's position in the archive's role hierarchy.
type Role string

// Role constants. These align with the Casbin policy in internal/authz/policy.csv.
const (
	RoleResearcher      Role = "researcher"
	RoleGuestResearcher Role = "guest_researcher"
	RoleArchivist       Role = "archivist"
	RoleAdmin           Role = "admin"
)

// ValidRoles contains all recognized role names.
var ValidRoles = []Role{RoleResearcher, RoleGuestResearcher, RoleArchivist, RoleAdmin}

// Elevated reports whether the role receives unrestricted document access.
// Unknown roles are never elevated.
func (r Role) Elevated() bool {
	return r == RoleArchivist || r == RoleAdmin
}

// Known reports whether r is one of ValidRoles.
func (r Role) Known() bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// AnonymousID is the counter key used for violations without a principal.
const AnonymousID = "anonymous"

// Principal is the authenticated (or anonymous) actor behind a request.
// Role is fixed for the lifetime of a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Anonymous returns the least privileged principal.
func Anonymous() Principal {
	return Principal{ID: AnonymousID, Role: RoleGuestResearcher}
}

// Key returns the principal ID, or AnonymousID when empty.
func (p Principal) Key() string {
	return PrincipalKey(p.ID)
}

// PrincipalKey normalizes a possibly empty principal ID.
func PrincipalKey(id string) string {
	if id == "" {
		return AnonymousID
	}
	return id
}
