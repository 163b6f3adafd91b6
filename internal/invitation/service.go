package invitation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/audit"
	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/common/middleware"
	"github.com/orgware/orgware/internal/identity"
)

// UserLookup is the slice of the identity store the workflow needs for
// its existing-user precondition.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
}

// Mailer delivers invitation links. Delivery failure never fails the
// invitation itself.
type Mailer interface {
	SendInvitation(ctx context.Context, email, link string) error
}

// Service implements the invitation workflow. The clock is injectable
// so expiry behavior is testable without waiting.
type Service struct {
	repo          Repository
	users         UserLookup
	passwords     *auth.PasswordService
	mailer        Mailer
	inviteBaseURL string
	clock         func() time.Time
	audit         *audit.Service
	logger        *zap.Logger
}

// NewService creates an invitation service. mailer may be nil.
func NewService(repo Repository, users UserLookup, passwords *auth.PasswordService, mailer Mailer, inviteBaseURL string, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		users:         users,
		passwords:     passwords,
		mailer:        mailer,
		inviteBaseURL: inviteBaseURL,
		clock:         func() time.Time { return time.Now().UTC() },
		logger:        logger.With(zap.String("service", "invitation")),
	}
}

// WithClock replaces the time source. Tests use this to simulate expiry.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithAudit attaches an audit recorder for lifecycle events.
func (s *Service) WithAudit(recorder *audit.Service) *Service {
	s.audit = recorder
	return s
}

// CreateParams are the inputs for creating an invitation.
type CreateParams struct {
	Email          string
	Role           auth.Role
	OrganizationID *string
	Permissions    []auth.PermissionGrant
}

// Create issues a new invitation. Preconditions are checked in order
// and reported distinctly: the inviter must manage the target role,
// orgadmins stay inside their own organization, the email must not
// belong to an existing user, and no identical pending invitation may
// exist. Permissions are copied verbatim; they are not validated
// against the feature catalog. The invite link is mailed best-effort.
func (s *Service) Create(ctx context.Context, inviter *identity.User, params CreateParams) (*Invitation, string, error) {
	if inviter == nil {
		return nil, "", apperrors.Unauthorized("authentication required")
	}
	if !auth.CanManage(inviter.Role, params.Role) {
		s.count("create", "denied")
		return nil, "", apperrors.InsufficientRole("cannot invite users with this role")
	}
	if inviter.Role == auth.RoleOrgAdmin {
		if params.OrganizationID == nil || !inviter.InOrganization(*params.OrganizationID) {
			s.count("create", "denied")
			return nil, "", apperrors.Forbidden("cannot invite outside your organization")
		}
	}
	if params.Role.RequiresOrganization() && params.OrganizationID == nil {
		return nil, "", apperrors.ValidationError("role requires an organization")
	}
	for _, grant := range params.Permissions {
		if err := auth.ValidateGrant(grant); err != nil {
			return nil, "", apperrors.ValidationError(err.Error())
		}
	}

	email := identity.NormalizeEmail(params.Email)

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		s.count("create", "conflict")
		return nil, "", apperrors.UserAlreadyExists(email)
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, "", apperrors.DatabaseError("check existing user", err)
	}

	pending, err := s.repo.HasPending(ctx, email, params.OrganizationID, params.Role)
	if err != nil {
		return nil, "", apperrors.DatabaseError("check pending invitation", err)
	}
	if pending {
		s.count("create", "conflict")
		return nil, "", apperrors.InvitationAlreadySent(email)
	}

	token, err := newToken()
	if err != nil {
		return nil, "", apperrors.Internal("failed to generate invitation token", err)
	}

	now := s.clock()
	inv := &Invitation{
		ID:             uuid.New().String(),
		Email:          email,
		Role:           params.Role,
		OrganizationID: params.OrganizationID,
		Permissions:    params.Permissions,
		InvitedBy:      inviter.ID,
		Token:          token,
		Status:         StatusPending,
		ExpiresAt:      now.Add(Validity),
		CreatedAt:      now,
	}

	if err := s.repo.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			// Lost a check-then-act race; indistinguishable from being late.
			s.count("create", "conflict")
			return nil, "", apperrors.InvitationAlreadySent(email)
		}
		return nil, "", apperrors.DatabaseError("create invitation", err)
	}

	link := s.inviteBaseURL + token
	s.sendMail(ctx, inv, link)
	s.count("create", "success")
	s.audit.Record(ctx, audit.Event{
		Action:   audit.ActionInvitationCreate,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  inviter.ID,
		TargetID: inv.ID,
		Details:  map[string]interface{}{"role": string(inv.Role)},
	})

	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID),
		zap.String("role", string(inv.Role)),
		zap.String("invited_by", inviter.ID),
		zap.Time("expires_at", inv.ExpiresAt),
	)

	return inv, link, nil
}

// RedeemParams are the inputs for redeeming an invitation.
type RedeemParams struct {
	Token     string
	Password  string
	FirstName string
	LastName  string
}

// Redeem exchanges a valid token for a new user account. Every lookup
// failure collapses to the same generic error so callers cannot probe
// which tokens exist, which expired, and which were already used. The
// invitation accept and the user creation commit in one transaction;
// if user creation fails the invitation stays pending.
func (s *Service) Redeem(ctx context.Context, params RedeemParams) (*identity.User, error) {
	generic := apperrors.InvitationInvalid()

	inv, err := s.repo.GetByToken(ctx, params.Token)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			s.count("redeem", "invalid")
			return nil, generic
		}
		return nil, apperrors.DatabaseError("lookup invitation", err)
	}

	now := s.clock()
	if !inv.Redeemable(now) {
		s.count("redeem", "invalid")
		return nil, generic
	}

	if err := s.passwords.ValidatePolicy(params.Password); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	hash, err := s.passwords.Hash(params.Password)
	if err != nil {
		return nil, apperrors.Internal("failed to hash password", err)
	}

	// Platform-level roles operate without an organization even when the
	// invitation carried one.
	var orgID *string
	if inv.Role.RequiresOrganization() {
		orgID = inv.OrganizationID
	}

	user := &identity.User{
		ID:             uuid.New().String(),
		Email:          inv.Email,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Role:           inv.Role,
		OrganizationID: orgID,
		Permissions:    inv.Permissions,
		IsActive:       true,
		PasswordHash:   hash,
		CreatedBy:      &inv.InvitedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.AcceptAndCreateUser(ctx, inv.ID, now, user); err != nil {
		if errors.Is(err, ErrNotRedeemable) || errors.Is(err, identity.ErrEmailTaken) {
			s.count("redeem", "invalid")
			return nil, generic
		}
		return nil, apperrors.DatabaseError("redeem invitation", err)
	}

	s.count("redeem", "success")
	s.audit.Record(ctx, audit.Event{
		Action:   audit.ActionInvitationRedeem,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  user.ID,
		TargetID: inv.ID,
	})
	s.logger.Info("invitation redeemed",
		zap.String("invitation_id", inv.ID),
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)

	return user, nil
}

// Resend pushes the expiry window forward by the fixed validity from
// now, recovering expired-but-pending invitations as well as
// refreshing live ones. The token is not rotated: a previously issued
// link stays valid.
func (s *Service) Resend(ctx context.Context, actor *identity.User, invitationID string) (*Invitation, error) {
	inv, err := s.authorizeManage(ctx, actor, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, apperrors.Conflict("invitation is no longer pending")
	}

	inv.ExpiresAt = s.clock().Add(Validity)
	if err := s.repo.ExtendExpiry(ctx, inv.ID, inv.ExpiresAt); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, apperrors.Conflict("invitation is no longer pending")
		}
		return nil, apperrors.DatabaseError("extend invitation", err)
	}

	s.sendMail(ctx, inv, s.inviteBaseURL+inv.Token)
	s.count("resend", "success")

	s.logger.Info("invitation resent",
		zap.String("invitation_id", inv.ID),
		zap.Time("expires_at", inv.ExpiresAt),
		zap.String("actor_id", actor.ID),
	)

	return inv, nil
}

// Revoke deletes an invitation outright, invalidating its token.
func (s *Service) Revoke(ctx context.Context, actor *identity.User, invitationID string) error {
	inv, err := s.authorizeManage(ctx, actor, invitationID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, inv.ID); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return apperrors.NotFound("invitation")
		}
		return apperrors.DatabaseError("delete invitation", err)
	}

	s.count("revoke", "success")
	s.audit.Record(ctx, audit.Event{
		Action:   audit.ActionInvitationRevoke,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  actor.ID,
		TargetID: inv.ID,
	})
	s.logger.Info("invitation revoked",
		zap.String("invitation_id", inv.ID),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

// List returns invitations visible to the actor. Orgadmins are scoped
// to their own organization.
func (s *Service) List(ctx context.Context, actor *identity.User, organizationID *string, limit, offset int) ([]Invitation, int, error) {
	if actor == nil {
		return nil, 0, apperrors.Unauthorized("authentication required")
	}

	switch {
	case actor.Role.IsAtLeast(auth.RoleAdmin):
		// unrestricted
	case actor.Role == auth.RoleOrgAdmin:
		organizationID = actor.OrganizationID
	default:
		return nil, 0, apperrors.InsufficientRole("cannot list invitations")
	}

	invitations, total, err := s.repo.List(ctx, organizationID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.DatabaseError("list invitations", err)
	}
	return invitations, total, nil
}

func (s *Service) authorizeManage(ctx context.Context, actor *identity.User, invitationID string) (*Invitation, error) {
	if actor == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}

	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, apperrors.NotFound("invitation")
		}
		return nil, apperrors.DatabaseError("get invitation", err)
	}

	if !auth.CanManage(actor.Role, inv.Role) {
		return nil, apperrors.InsufficientRole("cannot manage this invitation")
	}
	if actor.Role == auth.RoleOrgAdmin {
		if inv.OrganizationID == nil || !actor.InOrganization(*inv.OrganizationID) {
			return nil, apperrors.Forbidden("cannot manage invitations outside your organization")
		}
	}

	return inv, nil
}

func (s *Service) sendMail(ctx context.Context, inv *Invitation, link string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendInvitation(ctx, inv.Email, link); err != nil {
		s.logger.Warn("invitation mail delivery failed",
			zap.String("invitation_id", inv.ID), zap.Error(err))
	}
}

func (s *Service) count(operation, outcome string) {
	middleware.InvitationsTotal.WithLabelValues(operation, outcome).Inc()
}
