package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
)

// MockRepository is a testify mock of the identity Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateUser(ctx context.Context, user *User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) GetUser(ctx context.Context, id string) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) UpdateProfile(ctx context.Context, user *User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	args := m.Called(ctx, userID, passwordHash)
	return args.Error(0)
}

func (m *MockRepository) ReplacePermissions(ctx context.Context, userID string, grants []auth.PermissionGrant) error {
	args := m.Called(ctx, userID, grants)
	return args.Error(0)
}

func (m *MockRepository) ListUsers(ctx context.Context, organizationID *string, limit, offset int) ([]User, int, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]User), args.Int(1), args.Error(2)
}

func newTestService(repo Repository) *Service {
	passwords := auth.NewPasswordService()
	tokens := auth.NewTokenService("test-secret-0123456789", nil, zap.NewNop())
	return NewService(repo, passwords, tokens, zap.NewNop())
}

func strPtr(s string) *string { return &s }

func activeUser(t *testing.T, password string) *User {
	t.Helper()
	passwords := auth.NewPasswordService()
	hash, err := passwords.Hash(password)
	require.NoError(t, err)
	return &User{
		ID:             "user-1",
		Email:          "alice@example.com",
		Role:           auth.RoleUser,
		OrganizationID: strPtr("org-1"),
		IsActive:       true,
		PasswordHash:   hash,
	}
}

func TestLoginSuccess(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)
	user := activeUser(t, "Sup3rSecret!pw")

	repo.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	got, tokens, err := svc.Login(context.Background(), "  Alice@Example.com ", "Sup3rSecret!pw")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	repo.AssertExpectations(t)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)
	user := activeUser(t, "Sup3rSecret!pw")

	repo.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	_, _, err := svc.Login(context.Background(), "alice@example.com", "wrong-password")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidCredentials))
}

// Unknown emails and wrong passwords must produce the same error so the
// login endpoint does not reveal which accounts exist.
func TestLoginUnknownEmailSameError(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, ErrUserNotFound)

	_, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidCredentials))
}

func TestLoginInactiveUser(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)
	user := activeUser(t, "Sup3rSecret!pw")
	user.IsActive = false

	repo.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	_, _, err := svc.Login(context.Background(), "alice@example.com", "Sup3rSecret!pw")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidCredentials))
}

func TestCreateUserRoleGuard(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	orgadmin := &User{ID: "oa-1", Role: auth.RoleOrgAdmin, OrganizationID: strPtr("org-1")}

	_, err := svc.CreateUser(context.Background(), orgadmin, CreateUserParams{
		Email:          "new@example.com",
		Password:       "Sup3rSecret!pw",
		Role:           auth.RoleAdmin,
		OrganizationID: strPtr("org-1"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInsufficientRole))
	repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestCreateUserOrgScope(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	orgadmin := &User{ID: "oa-1", Role: auth.RoleOrgAdmin, OrganizationID: strPtr("org-1")}

	_, err := svc.CreateUser(context.Background(), orgadmin, CreateUserParams{
		Email:          "new@example.com",
		Password:       "Sup3rSecret!pw",
		Role:           auth.RoleUser,
		OrganizationID: strPtr("org-2"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrForbidden))
}

func TestCreateUserNormalizesEmail(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	admin := &User{ID: "admin-1", Role: auth.RoleAdmin}

	repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *User) bool {
		return u.Email == "new@example.com" && u.IsActive
	})).Return(nil)

	user, err := svc.CreateUser(context.Background(), admin, CreateUserParams{
		Email:          "  New@Example.COM ",
		Password:       "Sup3rSecret!pw",
		Role:           auth.RoleUser,
		OrganizationID: strPtr("org-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "admin-1", *user.CreatedBy)
	repo.AssertExpectations(t)
}

func TestCreateUserRequiresOrganizationForScopedRoles(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	admin := &User{ID: "admin-1", Role: auth.RoleAdmin}

	_, err := svc.CreateUser(context.Background(), admin, CreateUserParams{
		Email:    "new@example.com",
		Password: "Sup3rSecret!pw",
		Role:     auth.RoleOrgAdmin,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrValidation))
}

func TestReplacePermissionsOverwrites(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	admin := &User{ID: "admin-1", Role: auth.RoleAdmin}
	target := &User{ID: "user-1", Role: auth.RoleUser, OrganizationID: strPtr("org-1")}

	grants := []auth.PermissionGrant{
		{Feature: "promotion", Actions: []auth.Action{auth.ActionRead, auth.ActionWrite}},
	}

	repo.On("GetUser", mock.Anything, "user-1").Return(target, nil)
	repo.On("ReplacePermissions", mock.Anything, "user-1", grants).Return(nil)

	err := svc.ReplacePermissions(context.Background(), admin, "user-1", grants)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestReplacePermissionsCrossOrgDenied(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	orgadmin := &User{ID: "oa-1", Role: auth.RoleOrgAdmin, OrganizationID: strPtr("org-1")}
	target := &User{ID: "user-2", Role: auth.RoleUser, OrganizationID: strPtr("org-2")}

	repo.On("GetUser", mock.Anything, "user-2").Return(target, nil)

	err := svc.ReplacePermissions(context.Background(), orgadmin, "user-2", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInsufficientRole))
	repo.AssertNotCalled(t, "ReplacePermissions", mock.Anything, mock.Anything, mock.Anything)
}

func TestReplacePermissionsValidatesGrants(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	admin := &User{ID: "admin-1", Role: auth.RoleAdmin}
	target := &User{ID: "user-1", Role: auth.RoleUser, OrganizationID: strPtr("org-1")}

	repo.On("GetUser", mock.Anything, "user-1").Return(target, nil)

	err := svc.ReplacePermissions(context.Background(), admin, "user-1", []auth.PermissionGrant{
		{Feature: "promotion", Actions: []auth.Action{"execute"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrValidation))
}

func TestUpdateProfileSelfCannotDeactivate(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	self := &User{ID: "user-1", Role: auth.RoleUser, OrganizationID: strPtr("org-1"), IsActive: true}

	repo.On("GetUser", mock.Anything, "user-1").Return(self, nil)

	err := svc.UpdateProfile(context.Background(), self, "user-1", "Alice", "Smith", false)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrForbidden))
}

// Orgadmins are always scoped to their own organization no matter what
// filter they ask for.
func TestListUsersOrgadminForcedScope(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	orgadmin := &User{ID: "oa-1", Role: auth.RoleOrgAdmin, OrganizationID: strPtr("org-1")}
	otherOrg := strPtr("org-2")

	repo.On("ListUsers", mock.Anything, mock.MatchedBy(func(orgID *string) bool {
		return orgID != nil && *orgID == "org-1"
	}), 50, 0).Return([]User{}, 0, nil)

	_, _, err := svc.ListUsers(context.Background(), orgadmin, otherOrg, 50, 0)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestListUsersPlainUserDenied(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	user := &User{ID: "user-1", Role: auth.RoleUser, OrganizationID: strPtr("org-1")}

	_, _, err := svc.ListUsers(context.Background(), user, nil, 50, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInsufficientRole))
}
