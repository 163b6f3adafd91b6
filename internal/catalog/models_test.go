package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgware/orgware/internal/auth"
)

func validFeature() *Feature {
	return &Feature{
		ID:           "f-1",
		Name:         "email",
		DisplayName:  "Email",
		RequiredRole: auth.RoleUser,
		Level:        FeatureLevelOrganization,
		Status:       FeatureStatusDone,
		SubFeatures: []SubFeature{
			{Name: "inbox", DisplayName: "Inbox", Actions: []auth.Action{auth.ActionRead, auth.ActionWrite}},
			{Name: "archive", DisplayName: "Archive", Actions: []auth.Action{auth.ActionRead}},
		},
	}
}

func TestValidateAcceptsWellFormedFeature(t *testing.T) {
	require.NoError(t, validFeature().Validate())
}

func TestValidateRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Feature)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(f *Feature) { f.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "unknown required role",
			mutate:  func(f *Feature) { f.RequiredRole = "owner" },
			wantErr: "invalid required role",
		},
		{
			name:    "unknown level",
			mutate:  func(f *Feature) { f.Level = "tenant" },
			wantErr: "invalid level",
		},
		{
			name:    "nameless sub-feature",
			mutate:  func(f *Feature) { f.SubFeatures[1].Name = "" },
			wantErr: "without a name",
		},
		{
			name:    "duplicate sub-feature",
			mutate:  func(f *Feature) { f.SubFeatures[1].Name = "inbox" },
			wantErr: "duplicate sub-feature",
		},
		{
			name:    "unknown action",
			mutate:  func(f *Feature) { f.SubFeatures[0].Actions = []auth.Action{"execute"} },
			wantErr: "invalid action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFeature()
			tt.mutate(f)
			err := f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubFeatureLookup(t *testing.T) {
	f := validFeature()

	sf := f.SubFeature("archive")
	require.NotNil(t, sf)
	assert.Equal(t, "Archive", sf.DisplayName)

	assert.Nil(t, f.SubFeature("missing"))
}

func TestParseFeatureLevel(t *testing.T) {
	level, err := ParseFeatureLevel("user_role")
	require.NoError(t, err)
	assert.Equal(t, FeatureLevelUserRole, level)

	_, err = ParseFeatureLevel("global")
	assert.Error(t, err)
}
