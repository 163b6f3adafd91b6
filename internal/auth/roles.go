// Package auth provides the closed role model, password hashing, and
// session token handling for orgware.
package auth

import (
	"fmt"
)

// Role represents a user role in the system.
type Role string

const (
	// RoleSuperAdmin is the platform owner role. It bypasses every
	// permission and organization-feature check.
	RoleSuperAdmin Role = "superadmin"
	// RoleAdmin is a platform-level administrator. Admins operate without
	// an organization, like superadmins.
	RoleAdmin Role = "admin"
	// RoleOrgAdmin administers a single organization.
	RoleOrgAdmin Role = "orgadmin"
	// RoleUser is the base role for regular organization members.
	RoleUser Role = "user"
)

// AllRoles lists every valid role. The set is closed: exactly four roles,
// no dynamic role definition.
var AllRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleOrgAdmin, RoleUser}

// RoleRank orders roles from least to most privileged.
// user (0) < orgadmin (1) < admin (2) < superadmin (3).
var RoleRank = map[Role]int{
	RoleUser:       0,
	RoleOrgAdmin:   1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// manageableRoles is the closed management table. A role may only manage
// (assign, edit permissions of, invite) roles listed for it. Superadmin is
// never a manageable target, not even by another superadmin.
var manageableRoles = map[Role][]Role{
	RoleSuperAdmin: {RoleAdmin, RoleOrgAdmin, RoleUser},
	RoleAdmin:      {RoleOrgAdmin, RoleUser},
	RoleOrgAdmin:   {RoleUser},
	RoleUser:       {},
}

// CanManage reports whether actor may manage target according to the
// management table. It is a strict lookup: CanManage(r, r) is false for
// every role.
func CanManage(actor, target Role) bool {
	for _, t := range manageableRoles[actor] {
		if t == target {
			return true
		}
	}
	return false
}

// IsAtLeast reports whether role meets the minimum role min, using RoleRank
// ordering. Unknown roles never satisfy any minimum.
func (r Role) IsAtLeast(min Role) bool {
	rank, ok := RoleRank[r]
	minRank, minOK := RoleRank[min]
	if !ok || !minOK {
		return false
	}
	return rank >= minRank
}

// Rank returns the hierarchy rank of this role, or -1 for unknown roles.
func (r Role) Rank() int {
	if rank, ok := RoleRank[r]; ok {
		return rank
	}
	return -1
}

// RequiresOrganization reports whether principals holding this role must
// belong to an organization. Admin and superadmin are platform-level roles
// and operate without one.
func (r Role) RequiresOrganization() bool {
	return r == RoleUser || r == RoleOrgAdmin
}

// IsValidRole checks whether a role string names one of the four roles.
func IsValidRole(role string) bool {
	_, ok := RoleRank[Role(role)]
	return ok
}

// ParseRole parses a role string into a Role.
func ParseRole(role string) (Role, error) {
	if !IsValidRole(role) {
		return "", fmt.Errorf("invalid role: %s", role)
	}
	return Role(role), nil
}
