package authz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/catalog"
	"github.com/orgware/orgware/internal/identity"
	"github.com/orgware/orgware/internal/organization"
)

func orgFeature(name string) *catalog.Feature {
	return &catalog.Feature{
		Name:         name,
		RequiredRole: auth.RoleUser,
		Level:        catalog.FeatureLevelOrganization,
	}
}

func systemFeature(name string) *catalog.Feature {
	return &catalog.Feature{
		Name:         name,
		RequiredRole: auth.RoleAdmin,
		Level:        catalog.FeatureLevelSystem,
	}
}

func principal(role auth.Role, grants ...auth.PermissionGrant) *identity.User {
	orgID := "org-1"
	return &identity.User{
		ID:             "user-1",
		Role:           role,
		OrganizationID: &orgID,
		Permissions:    grants,
		IsActive:       true,
	}
}

func orgWith(enabled bool, subFeatures ...organization.SubFeatureToggle) *organization.Organization {
	return &organization.Organization{
		ID: "org-1",
		Features: []organization.Feature{
			{Name: "promotion", IsEnabled: enabled, SubFeatures: subFeatures},
		},
	}
}

func readEmailGrant() auth.PermissionGrant {
	return auth.PermissionGrant{
		Feature:     "promotion",
		SubFeatures: []string{"email"},
		Actions:     []auth.Action{auth.ActionRead},
	}
}

func TestMissingPrincipalDenies(t *testing.T) {
	d := Evaluate(nil, orgFeature("promotion"), nil, auth.ActionRead, "")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnauthenticated, d.Reason)
}

// The superadmin bypass is absolute: no grant, a disabled organization
// toggle, even a missing catalog entry never turn it into a denial.
func TestSuperAdminBypassIsAbsolute(t *testing.T) {
	p := principal(auth.RoleSuperAdmin)
	disabledOrg := orgWith(false)

	for _, action := range auth.AllActions {
		for _, sf := range []string{"", "email", "nonexistent"} {
			d := Evaluate(p, orgFeature("promotion"), disabledOrg, action, sf)
			assert.True(t, d.Allowed, "action=%s subFeature=%q", action, sf)
			assert.Equal(t, ReasonSuperAdmin, d.Reason)
		}
	}

	d := Evaluate(p, nil, nil, auth.ActionManage, "anything")
	assert.True(t, d.Allowed)
}

func TestNoGrantDeniesWithDefaultDeny(t *testing.T) {
	for _, role := range []auth.Role{auth.RoleUser, auth.RoleOrgAdmin, auth.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			p := principal(role)
			d := Evaluate(p, orgFeature("promotion"), orgWith(true), auth.ActionRead, "")

			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonNoPermissionRecord, d.Reason)
		})
	}
}

func TestGrantedReadOnEnabledFeatureAllows(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true, organization.SubFeatureToggle{Name: "email", IsEnabled: true})

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionRead, "email")

	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
}

func TestUngrantedActionDenies(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true, organization.SubFeatureToggle{Name: "email", IsEnabled: true})

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionWrite, "email")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonActionNotGranted, d.Reason)
}

func TestUngrantedSubFeatureDenies(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true,
		organization.SubFeatureToggle{Name: "email", IsEnabled: true},
		organization.SubFeatureToggle{Name: "sms", IsEnabled: true},
	)

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionRead, "sms")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSubFeatureNotGranted, d.Reason)
}

// The action and sub-feature checks are independent: a granted
// sub-feature does not rescue an ungranted action, and vice versa.
func TestActionAndSubFeatureChecksAreIndependent(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true, organization.SubFeatureToggle{Name: "email", IsEnabled: true})

	byAction := Evaluate(p, orgFeature("promotion"), org, auth.ActionWrite, "email")
	assert.False(t, byAction.Allowed)
	assert.Equal(t, ReasonActionNotGranted, byAction.Reason)

	bySubFeature := Evaluate(p, orgFeature("promotion"), org, auth.ActionRead, "push")
	assert.False(t, bySubFeature.Allowed)
	assert.Equal(t, ReasonSubFeatureNotGranted, bySubFeature.Reason)
}

// Actions are granted per feature, not per sub-feature: adding "write"
// to a grant makes it available on every listed sub-feature. The
// coarseness is intentional; changing it is a visible behavior change.
func TestActionsApplyToEverySubFeatureOfAGrant(t *testing.T) {
	grant := auth.PermissionGrant{
		Feature:     "promotion",
		SubFeatures: []string{"email", "sms"},
		Actions:     []auth.Action{auth.ActionRead, auth.ActionWrite},
	}
	p := principal(auth.RoleUser, grant)
	org := orgWith(true,
		organization.SubFeatureToggle{Name: "email", IsEnabled: true},
		organization.SubFeatureToggle{Name: "sms", IsEnabled: true},
	)

	for _, sf := range []string{"email", "sms"} {
		for _, action := range []auth.Action{auth.ActionRead, auth.ActionWrite} {
			d := Evaluate(p, orgFeature("promotion"), org, action, sf)
			assert.True(t, d.Allowed, "action=%s subFeature=%s", action, sf)
		}
	}
}

// The organization gate stacks with the permission gate: a valid grant
// is still denied when the organization has the feature disabled, and
// the reason is distinguishable from a permission denial.
func TestDisabledOrgFeatureDeniesDespiteGrant(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(false, organization.SubFeatureToggle{Name: "email", IsEnabled: true})

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionRead, "email")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonOrgFeatureDisabled, d.Reason)
	assert.NotEqual(t, ReasonNoPermissionRecord, d.Reason)
}

func TestDisabledSubFeatureToggleDenies(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true, organization.SubFeatureToggle{Name: "email", IsEnabled: false})

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionRead, "email")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonOrgFeatureDisabled, d.Reason)
}

func TestMissingOrganizationFailsClosedForOrgFeatures(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())

	d := Evaluate(p, orgFeature("promotion"), nil, auth.ActionRead, "email")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonOrgFeatureDisabled, d.Reason)
}

// System and user_role features are gated by role and grant alone; the
// organization toggle state is irrelevant.
func TestOrgToggleDoesNotGateSystemLevelFeatures(t *testing.T) {
	grant := auth.PermissionGrant{
		Feature: "platform-settings",
		Actions: []auth.Action{auth.ActionManage},
	}
	p := principal(auth.RoleAdmin, grant)
	p.OrganizationID = nil

	d := Evaluate(p, systemFeature("platform-settings"), nil, auth.ActionManage, "")

	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
}

func TestUnknownFeatureDenies(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())

	d := Evaluate(p, nil, orgWith(true), auth.ActionRead, "")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoPermissionRecord, d.Reason)
}

// Duplicate grants for the same feature are tolerated; the first match
// wins even when a later duplicate would be more permissive.
func TestFirstMatchingGrantIsAuthoritative(t *testing.T) {
	first := auth.PermissionGrant{
		Feature: "promotion",
		Actions: []auth.Action{auth.ActionRead},
	}
	second := auth.PermissionGrant{
		Feature: "promotion",
		Actions: []auth.Action{auth.ActionRead, auth.ActionWrite},
	}
	p := principal(auth.RoleUser, first, second)
	org := orgWith(true)

	d := Evaluate(p, orgFeature("promotion"), org, auth.ActionWrite, "")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonActionNotGranted, d.Reason)
}

func TestEvaluateIsSafeForConcurrentUse(t *testing.T) {
	p := principal(auth.RoleUser, readEmailGrant())
	org := orgWith(true, organization.SubFeatureToggle{Name: "email", IsEnabled: true})
	feature := orgFeature("promotion")

	done := make(chan Decision, 64)
	for i := 0; i < 64; i++ {
		go func() {
			done <- Evaluate(p, feature, org, auth.ActionRead, "email")
		}()
	}
	for i := 0; i < 64; i++ {
		d := <-done
		assert.True(t, d.Allowed)
	}
}

func TestDenialMessagesNameTheFeature(t *testing.T) {
	p := principal(auth.RoleUser)

	d := Evaluate(p, orgFeature("promotion"), orgWith(true), auth.ActionRead, "")

	assert.Contains(t, d.Message, "promotion")
	assert.Equal(t, fmt.Sprintf("no permission record for feature %s", "promotion"), d.Message)
}
