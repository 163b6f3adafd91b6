package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// PrincipalLoader resolves the full user record behind a token subject.
type PrincipalLoader interface {
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

// Authenticate validates the bearer token and resolves the principal
// into the request context. Requests without a valid token are rejected;
// routes that tolerate anonymous access belong outside this middleware.
func Authenticate(tokens *auth.TokenService, users PrincipalLoader, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			apperrors.HandleError(c, apperrors.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateAccessToken(c.Request.Context(), parts[1])
		if err != nil {
			apperrors.HandleError(c, apperrors.New(apperrors.ErrInvalidToken, "Invalid or expired token", http.StatusUnauthorized))
			c.Abort()
			return
		}

		user, err := users.GetUser(c.Request.Context(), claims.Subject)
		if err != nil {
			logger.Warn("principal lookup failed",
				zap.String("subject", claims.Subject), zap.Error(err))
			apperrors.HandleError(c, apperrors.Unauthorized("unknown principal"))
			c.Abort()
			return
		}
		if !user.IsActive {
			apperrors.HandleError(c, apperrors.Unauthorized("account disabled"))
			c.Abort()
			return
		}

		identity.SetPrincipal(c, user)
		c.Next()
	}
}

// RequireRole rejects requests whose principal does not satisfy the
// minimum role.
func RequireRole(min auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := identity.PrincipalFromContext(c)
		if principal == nil {
			apperrors.HandleError(c, apperrors.Unauthorized("authentication required"))
			c.Abort()
			return
		}
		if !principal.Role.IsAtLeast(min) {
			apperrors.HandleError(c, apperrors.InsufficientRole("requires at least "+string(min)+" role"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireFeature guards a route with a full engine decision for a fixed
// feature and action. The sub-feature, when relevant for a route, is
// read from the sub_feature query parameter.
func RequireFeature(engine *Engine, feature string, action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := identity.PrincipalFromContext(c)
		subFeature := c.Query("sub_feature")

		decision, err := engine.Authorize(c.Request.Context(), principal, feature, action, subFeature)
		if err != nil {
			apperrors.HandleError(c, apperrors.Internal("authorization check failed", err))
			c.Abort()
			return
		}
		if !decision.Allowed {
			apperrors.HandleError(c, denialError(decision))
			c.Abort()
			return
		}

		c.Next()
	}
}

// denialError maps a denial to the transport error vocabulary. Callers
// rely on the code to distinguish an organization gate from a
// permission failure.
func denialError(d Decision) *apperrors.AppError {
	switch d.Reason {
	case ReasonUnauthenticated:
		return apperrors.Unauthorized(d.Message)
	case ReasonOrgFeatureDisabled:
		return apperrors.New(apperrors.ErrOrgFeatureDisabled, d.Message, http.StatusForbidden)
	case ReasonInsufficientRole:
		return apperrors.InsufficientRole(d.Message)
	default:
		return apperrors.New(apperrors.ErrInsufficientPerms, d.Message, http.StatusForbidden)
	}
}
