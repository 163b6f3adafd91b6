package authz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/catalog"
	"github.com/orgware/orgware/internal/common/middleware"
	"github.com/orgware/orgware/internal/identity"
	"github.com/orgware/orgware/internal/organization"
)

// Evaluate is the pure decision core. It is safe for concurrent use: it
// only reads its inputs, which are immutable for the duration of a
// request.
//
// The check order is fixed. An absent principal denies immediately; a
// superadmin allows unconditionally, bypassing every later gate
// including organization toggles. Otherwise the principal's grant for
// the feature must exist, cover the action, and cover the requested
// sub-feature. Finally, for organization-level catalog features only,
// the principal's organization must have the feature (and sub-feature)
// enabled; system and user_role features are gated by role alone.
func Evaluate(principal *identity.User, feature *catalog.Feature, org *organization.Organization, action auth.Action, subFeature string) Decision {
	if principal == nil {
		return deny(ReasonUnauthenticated, "authentication required")
	}

	if principal.Role == auth.RoleSuperAdmin {
		return allow(ReasonSuperAdmin, "superadmin bypass")
	}

	if feature == nil {
		return deny(ReasonNoPermissionRecord, "no permission record for feature")
	}

	grant := principal.Grant(feature.Name)
	if grant == nil {
		return deny(ReasonNoPermissionRecord, fmt.Sprintf("no permission record for feature %s", feature.Name))
	}
	if !grant.HasAction(action) {
		return deny(ReasonActionNotGranted, fmt.Sprintf("action %s not granted on %s", action, feature.Name))
	}
	if subFeature != "" && !grant.HasSubFeature(subFeature) {
		return deny(ReasonSubFeatureNotGranted, fmt.Sprintf("sub-feature %s not granted on %s", subFeature, feature.Name))
	}

	if feature.Level == catalog.FeatureLevelOrganization {
		if org == nil || !org.IsFeatureEnabled(feature.Name, subFeature) {
			return deny(ReasonOrgFeatureDisabled, fmt.Sprintf("organization has disabled feature %s", feature.Name))
		}
	}

	return allow(ReasonAllowed, "permission granted")
}

// FeatureReader loads catalog entries for the engine.
type FeatureReader interface {
	GetFeatureByName(ctx context.Context, name string) (*catalog.Feature, error)
}

// OrganizationReader loads organizations for the engine.
type OrganizationReader interface {
	GetOrganization(ctx context.Context, id string) (*organization.Organization, error)
}

// Recorder receives denial events for the audit trail. Recording is
// best-effort; the engine never fails a decision on recorder errors.
type Recorder interface {
	RecordDenial(ctx context.Context, principalID, feature string, action auth.Action, subFeature string, reason string)
}

// Engine wraps the pure core with catalog and organization lookups,
// decision metrics, and audit recording.
type Engine struct {
	features FeatureReader
	orgs     OrganizationReader
	recorder Recorder
	logger   *zap.Logger
}

// NewEngine creates an authorization engine. The recorder may be nil.
func NewEngine(features FeatureReader, orgs OrganizationReader, recorder Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		features: features,
		orgs:     orgs,
		recorder: recorder,
		logger:   logger.With(zap.String("service", "authz")),
	}
}

// Authorize resolves the feature and the principal's organization, then
// evaluates. Lookup failures other than not-found are returned as
// errors; not-found conditions fail closed as ordinary denials. The
// superadmin bypass is absolute and skips the lookups entirely.
func (e *Engine) Authorize(ctx context.Context, principal *identity.User, featureName string, action auth.Action, subFeature string) (Decision, error) {
	if principal == nil {
		return e.finish(ctx, nil, featureName, action, subFeature,
			deny(ReasonUnauthenticated, "authentication required")), nil
	}
	if principal.Role == auth.RoleSuperAdmin {
		return e.finish(ctx, principal, featureName, action, subFeature,
			allow(ReasonSuperAdmin, "superadmin bypass")), nil
	}

	feature, err := e.features.GetFeatureByName(ctx, featureName)
	if err != nil {
		if errors.Is(err, catalog.ErrFeatureNotFound) {
			return e.finish(ctx, principal, featureName, action, subFeature,
				deny(ReasonNoPermissionRecord, "no permission record for feature "+featureName)), nil
		}
		return Decision{}, fmt.Errorf("load feature %s: %w", featureName, err)
	}

	var org *organization.Organization
	if feature.Level == catalog.FeatureLevelOrganization && principal.OrganizationID != nil {
		org, err = e.orgs.GetOrganization(ctx, *principal.OrganizationID)
		if err != nil {
			if !errors.Is(err, organization.ErrOrganizationNotFound) {
				return Decision{}, fmt.Errorf("load organization %s: %w", *principal.OrganizationID, err)
			}
			org = nil
		}
	}

	return e.finish(ctx, principal, featureName, action, subFeature,
		Evaluate(principal, feature, org, action, subFeature)), nil
}

func (e *Engine) finish(ctx context.Context, principal *identity.User, feature string, action auth.Action, subFeature string, decision Decision) Decision {
	outcome := "deny"
	if decision.Allowed {
		outcome = "allow"
	}
	middleware.AuthzDecisionsTotal.WithLabelValues(outcome, string(decision.Reason)).Inc()

	if !decision.Allowed {
		principalID := ""
		if principal != nil {
			principalID = principal.ID
		}
		e.logger.Debug("authorization denied",
			zap.String("principal_id", principalID),
			zap.String("feature", feature),
			zap.String("action", string(action)),
			zap.String("sub_feature", subFeature),
			zap.String("reason", string(decision.Reason)),
		)
		if e.recorder != nil {
			e.recorder.RecordDenial(ctx, principalID, feature, action, subFeature, string(decision.Reason))
		}
	}

	return decision
}
