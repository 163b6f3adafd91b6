// Package invitation implements token-based onboarding: time-boxed,
// single-use invitations that provision a new principal with a
// pre-approved role, organization, and permission set.
package invitation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/orgware/orgware/internal/auth"
)

// Validity is the fixed invitation window, applied at creation and
// again on every resend. Changing it changes observable behavior.
const Validity = 7 * 24 * time.Hour

// Status is the lifecycle state of an invitation. The expired state is
// detected lazily by comparing ExpiresAt at redemption; there is no
// background sweep.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
)

// Invitation is a pending offer to join. The token is the only
// credential; it must never be derivable from the other fields.
type Invitation struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	Role           auth.Role              `json:"role"`
	OrganizationID *string                `json:"organization_id,omitempty"`
	Permissions    []auth.PermissionGrant `json:"permissions"`
	InvitedBy      string                 `json:"invited_by"`
	Token          string                 `json:"-"`
	Status         Status                 `json:"status"`
	ExpiresAt      time.Time              `json:"expires_at"`
	AcceptedAt     *time.Time             `json:"accepted_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Redeemable reports whether the invitation can still be redeemed at
// the given instant.
func (i *Invitation) Redeemable(now time.Time) bool {
	return i.Status == StatusPending && i.ExpiresAt.After(now)
}

// newToken returns a 256-bit random token in URL-safe base64. The
// unique index on the token column catches the astronomically unlikely
// collision.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
