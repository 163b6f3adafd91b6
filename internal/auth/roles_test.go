// Package auth provides unit tests for the closed role model
package auth

import (
	"testing"
)

// Test AllRoles contains exactly the four roles
func TestAllRoles(t *testing.T) {
	expected := []Role{RoleSuperAdmin, RoleAdmin, RoleOrgAdmin, RoleUser}

	if len(AllRoles) != len(expected) {
		t.Fatalf("AllRoles has %d elements, expected %d", len(AllRoles), len(expected))
	}

	for i, role := range AllRoles {
		if role != expected[i] {
			t.Errorf("AllRoles[%d] = %v, expected %v", i, role, expected[i])
		}
	}
}

// Test RoleRank covers every role in AllRoles
func TestRoleRankCompleteness(t *testing.T) {
	for _, role := range AllRoles {
		if _, exists := RoleRank[role]; !exists {
			t.Errorf("Role %v is not defined in RoleRank", role)
		}
	}
}

// Test the rank ordering user < orgadmin < admin < superadmin
func TestRoleRankOrdering(t *testing.T) {
	if !(RoleRank[RoleUser] < RoleRank[RoleOrgAdmin] &&
		RoleRank[RoleOrgAdmin] < RoleRank[RoleAdmin] &&
		RoleRank[RoleAdmin] < RoleRank[RoleSuperAdmin]) {
		t.Errorf("role ranks are not strictly ordered: %v", RoleRank)
	}
}

// Test no role can manage itself
func TestCanManageNoSelfLoops(t *testing.T) {
	for _, role := range AllRoles {
		if CanManage(role, role) {
			t.Errorf("CanManage(%v, %v) = true, expected false", role, role)
		}
	}
}

// Test superadmin manages everything except superadmin
func TestCanManageSuperAdmin(t *testing.T) {
	for _, target := range AllRoles {
		got := CanManage(RoleSuperAdmin, target)
		want := target != RoleSuperAdmin
		if got != want {
			t.Errorf("CanManage(superadmin, %v) = %v, expected %v", target, got, want)
		}
	}
}

// Test base users manage nothing
func TestCanManageUser(t *testing.T) {
	for _, target := range AllRoles {
		if CanManage(RoleUser, target) {
			t.Errorf("CanManage(user, %v) = true, expected false", target)
		}
	}
}

// Test the full management table against the rank ordering
func TestCanManageTable(t *testing.T) {
	cases := []struct {
		actor  Role
		target Role
		want   bool
	}{
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleSuperAdmin, RoleOrgAdmin, true},
		{RoleSuperAdmin, RoleUser, true},
		{RoleSuperAdmin, RoleSuperAdmin, false},
		{RoleAdmin, RoleOrgAdmin, true},
		{RoleAdmin, RoleUser, true},
		{RoleAdmin, RoleAdmin, false},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleOrgAdmin, RoleUser, true},
		{RoleOrgAdmin, RoleOrgAdmin, false},
		{RoleOrgAdmin, RoleAdmin, false},
		{RoleUser, RoleUser, false},
	}

	for _, tc := range cases {
		if got := CanManage(tc.actor, tc.target); got != tc.want {
			t.Errorf("CanManage(%v, %v) = %v, expected %v", tc.actor, tc.target, got, tc.want)
		}
	}
}

// Test IsAtLeast minimum-role gate
func TestIsAtLeast(t *testing.T) {
	cases := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleSuperAdmin, RoleUser, true},
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{RoleAdmin, RoleOrgAdmin, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleOrgAdmin, RoleOrgAdmin, true},
		{RoleUser, RoleOrgAdmin, false},
		{Role("ghost"), RoleUser, false},
		{RoleUser, Role("ghost"), false},
	}

	for _, tc := range cases {
		if got := tc.role.IsAtLeast(tc.min); got != tc.want {
			t.Errorf("%v.IsAtLeast(%v) = %v, expected %v", tc.role, tc.min, got, tc.want)
		}
	}
}

// Test organization requirement per role: admin and superadmin are
// platform-level and operate without an organization.
func TestRequiresOrganization(t *testing.T) {
	cases := map[Role]bool{
		RoleUser:       true,
		RoleOrgAdmin:   true,
		RoleAdmin:      false,
		RoleSuperAdmin: false,
	}

	for role, want := range cases {
		if got := role.RequiresOrganization(); got != want {
			t.Errorf("%v.RequiresOrganization() = %v, expected %v", role, got, want)
		}
	}
}

// Test ParseRole accepts only the four roles
func TestParseRole(t *testing.T) {
	for _, role := range AllRoles {
		parsed, err := ParseRole(string(role))
		if err != nil {
			t.Errorf("ParseRole(%q) returned error: %v", role, err)
		}
		if parsed != role {
			t.Errorf("ParseRole(%q) = %v", role, parsed)
		}
	}

	for _, invalid := range []string{"", "root", "ADMIN", "super_admin"} {
		if _, err := ParseRole(invalid); err == nil {
			t.Errorf("ParseRole(%q) succeeded, expected error", invalid)
		}
	}
}
