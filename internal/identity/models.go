// Package identity provides the identity store: user records with their
// role, organization reference, and permission grants.
package identity

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
)

// User represents a principal in the system. OrganizationID is required for
// user and orgadmin roles; admin and superadmin are platform-level and
// carry none.
type User struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	FirstName      string                 `json:"first_name,omitempty"`
	LastName       string                 `json:"last_name,omitempty"`
	Role           auth.Role              `json:"role"`
	OrganizationID *string                `json:"organization_id,omitempty"`
	Permissions    []auth.PermissionGrant `json:"permissions"`
	IsActive       bool                   `json:"is_active"`
	PasswordHash   string                 `json:"-"`
	CreatedBy      *string                `json:"created_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Grant returns the user's first permission grant for the named feature,
// or nil when none exists. Duplicate grants are tolerated; the first match
// is authoritative.
func (u *User) Grant(feature string) *auth.PermissionGrant {
	return auth.FindGrant(u.Permissions, feature)
}

// InOrganization reports whether the user belongs to the given organization.
func (u *User) InOrganization(orgID string) bool {
	return u.OrganizationID != nil && *u.OrganizationID == orgID
}

// NormalizeEmail lowercases and trims an email address. All identity-store
// lookups by email use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContextKeyPrincipal is the gin context key holding the resolved principal.
const ContextKeyPrincipal = "principal"

// SetPrincipal stores the resolved principal in the gin context.
func SetPrincipal(c *gin.Context, user *User) {
	c.Set(ContextKeyPrincipal, user)
}

// PrincipalFromContext returns the resolved principal from the gin context,
// or nil when the request is unauthenticated.
func PrincipalFromContext(c *gin.Context) *User {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil
	}
	user, ok := v.(*User)
	if !ok {
		return nil
	}
	return user
}
