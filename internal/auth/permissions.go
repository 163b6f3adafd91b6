// Package auth provides the closed action vocabulary and per-feature
// permission grants carried by principals.
package auth

import (
	"fmt"
	"strings"
)

// Action is a permission action on a feature. The vocabulary is closed:
// exactly read, write, delete, and manage.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// AllActions lists every valid action.
var AllActions = []Action{ActionRead, ActionWrite, ActionDelete, ActionManage}

// IsValidAction checks whether a string names one of the four actions.
func IsValidAction(action string) bool {
	switch Action(action) {
	case ActionRead, ActionWrite, ActionDelete, ActionManage:
		return true
	}
	return false
}

// ParseAction parses an action string into an Action.
func ParseAction(action string) (Action, error) {
	if !IsValidAction(action) {
		return "", fmt.Errorf("invalid action: %s", action)
	}
	return Action(action), nil
}

// PermissionGrant is a principal's explicit grant for one feature: the
// sub-features it covers and the actions it allows. Actions are not indexed
// per sub-feature; an action granted to the feature applies to every listed
// sub-feature. This coarseness is intentional and pinned by tests.
type PermissionGrant struct {
	Feature     string   `json:"feature"`
	SubFeatures []string `json:"sub_features"`
	Actions     []Action `json:"actions"`
}

// HasAction reports whether the grant includes the given action.
func (g *PermissionGrant) HasAction(action Action) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// HasSubFeature reports whether the grant covers the named sub-feature.
func (g *PermissionGrant) HasSubFeature(name string) bool {
	for _, sf := range g.SubFeatures {
		if sf == name {
			return true
		}
	}
	return false
}

// FindGrant returns the first grant matching the feature name. Well-formed
// data has at most one grant per feature, but duplicates are tolerated and
// the first match is authoritative.
func FindGrant(grants []PermissionGrant, feature string) *PermissionGrant {
	for i := range grants {
		if grants[i].Feature == feature {
			return &grants[i]
		}
	}
	return nil
}

// ValidateGrant checks the structural validity of a grant: a non-empty
// feature name and a known action vocabulary. Grant contents are not
// validated against the feature catalog; a grant naming an unknown feature
// is simply never matched by any authorization request.
func ValidateGrant(g PermissionGrant) error {
	if strings.TrimSpace(g.Feature) == "" {
		return fmt.Errorf("permission grant requires a feature name")
	}
	for _, a := range g.Actions {
		if !IsValidAction(string(a)) {
			return fmt.Errorf("permission grant for %s has invalid action: %s", g.Feature, a)
		}
	}
	return nil
}
