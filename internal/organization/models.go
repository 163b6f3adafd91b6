// Package organization provides multi-tenant organization management and
// per-organization feature toggles.
package organization

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SubFeatureToggle is the per-organization enable state of one sub-feature.
type SubFeatureToggle struct {
	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
}

// Feature is the per-organization enable state of one catalog feature and
// its sub-features. A sub-feature counts as enabled only when both its own
// toggle and the parent feature toggle are true.
type Feature struct {
	Name        string             `json:"name"`
	IsEnabled   bool               `json:"is_enabled"`
	SubFeatures []SubFeatureToggle `json:"sub_features"`
}

// Settings holds declarative organization limits. AllowedFeatures is
// modeled but not consulted by the authorization engine; it is carried as
// dead configuration until a reason to enforce it is rediscovered.
type Settings struct {
	MaxUsers        int      `json:"max_users"`
	AllowedFeatures []string `json:"allowed_features,omitempty"`
}

// Organization represents a tenant organization in the system.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	Features    []Feature `json:"features"`
	Settings    Settings  `json:"settings"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Feature returns the toggle entry for the named feature, or nil when the
// organization has none. A missing entry is treated as disabled.
func (o *Organization) Feature(name string) *Feature {
	for i := range o.Features {
		if o.Features[i].Name == name {
			return &o.Features[i]
		}
	}
	return nil
}

// IsFeatureEnabled reports whether the named feature (and, when given, the
// named sub-feature) is enabled for this organization. The rules are
// default-deny: a feature without a toggle entry is disabled, a sub-feature
// without a toggle entry is disabled, and a disabled parent disables every
// sub-feature regardless of its own toggle.
func (o *Organization) IsFeatureEnabled(featureName, subFeatureName string) bool {
	feature := o.Feature(featureName)
	if feature == nil || !feature.IsEnabled {
		return false
	}

	if subFeatureName == "" {
		return true
	}

	for _, sf := range feature.SubFeatures {
		if sf.Name == subFeatureName {
			return sf.IsEnabled
		}
	}
	return false
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from an organization name.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugInvalidChars.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// Validate checks structural validity of an organization record.
func (o *Organization) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("organization name is required")
	}
	if o.Slug == "" {
		return fmt.Errorf("organization slug is required")
	}
	return nil
}
