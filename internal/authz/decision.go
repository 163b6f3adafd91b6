// Package authz implements the authorization decision engine: a pure
// evaluation core over principal grants, catalog features, and
// organization toggles, plus the service wrapper and route guards
// built on it.
package authz

// ReasonCode is the machine-checkable category of an authorization
// decision. The set is closed; callers switch on it to render
// different guidance per denial kind.
type ReasonCode string

const (
	ReasonUnauthenticated     ReasonCode = "unauthenticated"
	ReasonSuperAdmin          ReasonCode = "superadmin"
	ReasonAllowed             ReasonCode = "allowed"
	ReasonNoPermissionRecord  ReasonCode = "no_permission_record"
	ReasonActionNotGranted    ReasonCode = "action_not_granted"
	ReasonSubFeatureNotGranted ReasonCode = "subfeature_not_granted"
	ReasonOrgFeatureDisabled  ReasonCode = "org_feature_disabled"
	ReasonInsufficientRole    ReasonCode = "insufficient_role"
)

// Decision is the outcome of one authorization evaluation. Denials are
// first-class values, not errors; they are never retried.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
	Message string     `json:"message"`
}

func allow(reason ReasonCode, message string) Decision {
	return Decision{Allowed: true, Reason: reason, Message: message}
}

func deny(reason ReasonCode, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}
