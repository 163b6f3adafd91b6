package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/audit"
	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
)

// Service provides user lifecycle, session, and permission management.
type Service struct {
	repo      Repository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	audit     *audit.Service
	logger    *zap.Logger
}

// NewService creates an identity service instance.
func NewService(repo Repository, passwords *auth.PasswordService, tokens *auth.TokenService, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		passwords: passwords,
		tokens:    tokens,
		logger:    logger.With(zap.String("service", "identity")),
	}
}

// WithAudit attaches an audit recorder for permission changes.
func (s *Service) WithAudit(recorder *audit.Service) *Service {
	s.audit = recorder
	return s
}

// TokenPair carries a freshly issued session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login authenticates by email and password and issues a token pair.
// All failures collapse to the same invalid-credentials error.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	invalidCreds := apperrors.New(apperrors.ErrInvalidCredentials, "Invalid email or password", 401)

	user, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, invalidCreds
		}
		return nil, nil, apperrors.DatabaseError("get user by email", err)
	}

	if !user.IsActive {
		return nil, nil, invalidCreds
	}

	if err := s.passwords.Verify(password, user.PasswordHash); err != nil {
		s.logger.Info("login failed", zap.String("user_id", user.ID))
		return nil, nil, invalidCreds
	}

	orgID := ""
	if user.OrganizationID != nil {
		orgID = *user.OrganizationID
	}
	access, refresh, err := s.tokens.GenerateTokenPair(ctx, user.ID, user.Role, orgID)
	if err != nil {
		return nil, nil, apperrors.Internal("failed to issue session", err)
	}

	s.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)

	return user, &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	access, err := s.tokens.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", apperrors.New(apperrors.ErrInvalidToken, "Invalid refresh token", 401)
	}
	return access, nil
}

// Logout revokes the presented tokens.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken != "" {
		if err := s.tokens.RevokeToken(ctx, accessToken); err != nil {
			return apperrors.Internal("failed to revoke token", err)
		}
	}
	if refreshToken != "" {
		if err := s.tokens.RevokeToken(ctx, refreshToken); err != nil {
			return apperrors.Internal("failed to revoke token", err)
		}
	}
	return nil
}

// CreateUserParams are the inputs for direct user creation.
type CreateUserParams struct {
	Email          string
	FirstName      string
	LastName       string
	Password       string
	Role           auth.Role
	OrganizationID *string
	Permissions    []auth.PermissionGrant
}

// CreateUser creates a user directly, bypassing the invitation flow. The
// actor must be able to manage the target role, and orgadmins can only
// create users inside their own organization.
func (s *Service) CreateUser(ctx context.Context, actor *User, params CreateUserParams) (*User, error) {
	if actor == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if !auth.CanManage(actor.Role, params.Role) {
		return nil, apperrors.InsufficientRole("cannot create users with this role")
	}
	if err := s.checkOrgScope(actor, params.OrganizationID); err != nil {
		return nil, err
	}
	if params.Role.RequiresOrganization() && params.OrganizationID == nil {
		return nil, apperrors.ValidationError("role requires an organization")
	}
	for _, grant := range params.Permissions {
		if err := auth.ValidateGrant(grant); err != nil {
			return nil, apperrors.ValidationError(err.Error())
		}
	}

	if err := s.passwords.ValidatePolicy(params.Password); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	hash, err := s.passwords.Hash(params.Password)
	if err != nil {
		return nil, apperrors.Internal("failed to hash password", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:             uuid.New().String(),
		Email:          NormalizeEmail(params.Email),
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Role:           params.Role,
		OrganizationID: params.OrganizationID,
		Permissions:    params.Permissions,
		IsActive:       true,
		PasswordHash:   hash,
		CreatedBy:      &actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperrors.UserAlreadyExists(user.Email)
		}
		return nil, apperrors.DatabaseError("create user", err)
	}

	s.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("actor_id", actor.ID),
	)

	return user, nil
}

// GetUser returns a user visible to the actor: themselves, a member of
// an orgadmin's organization, or anyone for platform administrators.
func (s *Service) GetUser(ctx context.Context, actor *User, userID string) (*User, error) {
	if actor == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperrors.NotFound("user")
		}
		return nil, apperrors.DatabaseError("get user", err)
	}

	if !s.canView(actor, user) {
		return nil, apperrors.Forbidden("cannot access this user")
	}

	return user, nil
}

// ListUsers returns users visible to the actor. Orgadmins are always scoped
// to their own organization regardless of the requested filter.
func (s *Service) ListUsers(ctx context.Context, actor *User, organizationID *string, limit, offset int) ([]User, int, error) {
	if actor == nil {
		return nil, 0, apperrors.Unauthorized("authentication required")
	}

	switch {
	case actor.Role.IsAtLeast(auth.RoleAdmin):
		// unrestricted
	case actor.Role == auth.RoleOrgAdmin:
		organizationID = actor.OrganizationID
	default:
		return nil, 0, apperrors.InsufficientRole("cannot list users")
	}

	users, total, err := s.repo.ListUsers(ctx, organizationID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.DatabaseError("list users", err)
	}
	return users, total, nil
}

// UpdateProfile updates name and active state. Users can edit their own
// profile but not deactivate themselves; managers can edit users they manage.
func (s *Service) UpdateProfile(ctx context.Context, actor *User, userID, firstName, lastName string, isActive bool) error {
	if actor == nil {
		return apperrors.Unauthorized("authentication required")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperrors.NotFound("user")
		}
		return apperrors.DatabaseError("get user", err)
	}

	if actor.ID == user.ID {
		if isActive != user.IsActive {
			return apperrors.Forbidden("cannot change own active state")
		}
	} else if !s.canManageUser(actor, user) {
		return apperrors.Forbidden("cannot modify this user")
	}

	user.FirstName = firstName
	user.LastName = lastName
	user.IsActive = isActive

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return apperrors.DatabaseError("update profile", err)
	}

	s.logger.Info("profile updated",
		zap.String("user_id", user.ID),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// ChangePassword replaces the actor's own password after verifying the
// current one.
func (s *Service) ChangePassword(ctx context.Context, actor *User, currentPassword, newPassword string) error {
	if actor == nil {
		return apperrors.Unauthorized("authentication required")
	}

	if err := s.passwords.Verify(currentPassword, actor.PasswordHash); err != nil {
		return apperrors.New(apperrors.ErrInvalidCredentials, "Current password is incorrect", 401)
	}

	if err := s.passwords.ValidatePolicy(newPassword); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return apperrors.Internal("failed to hash password", err)
	}

	if err := s.repo.UpdatePassword(ctx, actor.ID, hash); err != nil {
		return apperrors.DatabaseError("update password", err)
	}

	s.logger.Info("password changed", zap.String("user_id", actor.ID))
	return nil
}

// ReplacePermissions overwrites the target user's entire permission
// collection. The actor must manage the target's role, and orgadmins can
// only touch members of their own organization. Concurrent replacements
// are last-write-wins.
func (s *Service) ReplacePermissions(ctx context.Context, actor *User, userID string, grants []auth.PermissionGrant) error {
	if actor == nil {
		return apperrors.Unauthorized("authentication required")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperrors.NotFound("user")
		}
		return apperrors.DatabaseError("get user", err)
	}

	if !s.canManageUser(actor, user) {
		return apperrors.InsufficientRole("cannot manage this user's permissions")
	}

	for _, grant := range grants {
		if err := auth.ValidateGrant(grant); err != nil {
			return apperrors.ValidationError(err.Error())
		}
	}

	if err := s.repo.ReplacePermissions(ctx, userID, grants); err != nil {
		return apperrors.DatabaseError("replace permissions", err)
	}

	s.audit.Record(ctx, audit.Event{
		Action:   audit.ActionPermissionsReplace,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  actor.ID,
		TargetID: userID,
		Details:  map[string]interface{}{"grants": len(grants)},
	})
	s.logger.Info("permissions replaced",
		zap.String("user_id", userID),
		zap.Int("grants", len(grants)),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

func (s *Service) canView(actor, target *User) bool {
	if actor.ID == target.ID {
		return true
	}
	return s.canManageUser(actor, target)
}

func (s *Service) canManageUser(actor, target *User) bool {
	if !auth.CanManage(actor.Role, target.Role) {
		return false
	}
	if actor.Role == auth.RoleOrgAdmin {
		return target.OrganizationID != nil && actor.InOrganization(*target.OrganizationID)
	}
	return true
}

func (s *Service) checkOrgScope(actor *User, organizationID *string) error {
	if actor.Role.IsAtLeast(auth.RoleAdmin) {
		return nil
	}
	if organizationID == nil || !actor.InOrganization(*organizationID) {
		return apperrors.Forbidden("cannot act outside your organization")
	}
	return nil
}
