// Package catalog provides the system-wide feature catalog: the set of
// definable features, their sub-features, and the actions each supports.
package catalog

import (
	"fmt"
	"time"

	"github.com/orgware/orgware/internal/auth"
)

// FeatureLevel classifies which tier a feature belongs to. Organization
// feature toggles apply only to FeatureLevelOrganization; the other levels
// are gated by role alone.
type FeatureLevel string

const (
	FeatureLevelOrganization FeatureLevel = "organization"
	FeatureLevelUserRole     FeatureLevel = "user_role"
	FeatureLevelSystem       FeatureLevel = "system"
)

// IsValidFeatureLevel checks whether a string names a feature level.
func IsValidFeatureLevel(level string) bool {
	switch FeatureLevel(level) {
	case FeatureLevelOrganization, FeatureLevelUserRole, FeatureLevelSystem:
		return true
	}
	return false
}

// ParseFeatureLevel parses a feature level string.
func ParseFeatureLevel(level string) (FeatureLevel, error) {
	if !IsValidFeatureLevel(level) {
		return "", fmt.Errorf("invalid feature level: %s", level)
	}
	return FeatureLevel(level), nil
}

// FeatureStatus is the informational delivery status of a catalog feature.
type FeatureStatus string

const (
	FeatureStatusPending    FeatureStatus = "pending"
	FeatureStatusInProgress FeatureStatus = "in_progress"
	FeatureStatusDone       FeatureStatus = "done"
)

// SubFeature is a named sub-resource of a feature. Actions lists what the
// sub-feature legitimately supports; it populates UI pickers and is not
// enforced beyond the principal's own grant.
type SubFeature struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description,omitempty"`
	Actions     []auth.Action `json:"actions"`
}

// Feature is a catalog entry: a named feature with its sub-features, the
// minimum role able to see it by default, and its tier classification.
// Catalog entries are written only by superadmins and are immutable for
// the duration of a request.
type Feature struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	DisplayName  string        `json:"display_name"`
	Description  string        `json:"description,omitempty"`
	RequiredRole auth.Role     `json:"required_role"`
	Level        FeatureLevel  `json:"level"`
	Status       FeatureStatus `json:"status"`
	SubFeatures  []SubFeature  `json:"sub_features"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SubFeature returns the sub-feature with the given name, or nil.
func (f *Feature) SubFeature(name string) *SubFeature {
	for i := range f.SubFeatures {
		if f.SubFeatures[i].Name == name {
			return &f.SubFeatures[i]
		}
	}
	return nil
}

// Validate checks the structural validity of a catalog entry.
func (f *Feature) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feature name is required")
	}
	if !auth.IsValidRole(string(f.RequiredRole)) {
		return fmt.Errorf("feature %s has invalid required role: %s", f.Name, f.RequiredRole)
	}
	if !IsValidFeatureLevel(string(f.Level)) {
		return fmt.Errorf("feature %s has invalid level: %s", f.Name, f.Level)
	}
	seen := make(map[string]struct{}, len(f.SubFeatures))
	for _, sf := range f.SubFeatures {
		if sf.Name == "" {
			return fmt.Errorf("feature %s has a sub-feature without a name", f.Name)
		}
		if _, dup := seen[sf.Name]; dup {
			return fmt.Errorf("feature %s has duplicate sub-feature: %s", f.Name, sf.Name)
		}
		seen[sf.Name] = struct{}{}
		for _, a := range sf.Actions {
			if !auth.IsValidAction(string(a)) {
				return fmt.Errorf("sub-feature %s.%s has invalid action: %s", f.Name, sf.Name, a)
			}
		}
	}
	return nil
}
