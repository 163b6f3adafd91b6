package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// fakeRepo is an in-memory Repository with the same conditional-accept
// semantics the postgres implementation relies on.
type fakeRepo struct {
	mu          sync.Mutex
	invitations map[string]*Invitation
	users       map[string]*identity.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		invitations: make(map[string]*Invitation),
		users:       make(map[string]*identity.User),
	}
}

func (f *fakeRepo) Create(_ context.Context, inv *Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invitations {
		if existing.Status == StatusPending &&
			existing.Email == inv.Email &&
			existing.Role == inv.Role &&
			samePtr(existing.OrganizationID, inv.OrganizationID) {
			return ErrDuplicatePending
		}
	}
	cp := *inv
	f.invitations[inv.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeRepo) GetByToken(_ context.Context, token string) (*Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvitationNotFound
}

func (f *fakeRepo) HasPending(_ context.Context, email string, orgID *string, role auth.Role) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Status == StatusPending && inv.Email == email &&
			inv.Role == role && samePtr(inv.OrganizationID, orgID) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ExtendExpiry(_ context.Context, id string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[id]
	if !ok || inv.Status != StatusPending {
		return ErrInvitationNotFound
	}
	inv.ExpiresAt = expiresAt
	return nil
}

func (f *fakeRepo) AcceptAndCreateUser(_ context.Context, invitationID string, now time.Time, user *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok || inv.Status != StatusPending || !inv.ExpiresAt.After(now) {
		return ErrNotRedeemable
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return identity.ErrEmailTaken
		}
	}
	inv.Status = StatusAccepted
	inv.AcceptedAt = &now
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeRepo) List(_ context.Context, orgID *string, limit, offset int) ([]Invitation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Invitation
	for _, inv := range f.invitations {
		if orgID == nil || samePtr(inv.OrganizationID, orgID) {
			out = append(out, *inv)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.invitations[id]; !ok {
		return ErrInvitationNotFound
	}
	delete(f.invitations, id)
	return nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type fakeUserLookup struct {
	existing map[string]*identity.User
}

func (f *fakeUserLookup) GetUserByEmail(_ context.Context, email string) (*identity.User, error) {
	if u, ok := f.existing[email]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

type recordingMailer struct {
	sent []string
}

func (m *recordingMailer) SendInvitation(_ context.Context, email, link string) error {
	m.sent = append(m.sent, link)
	return nil
}

func strPtr(s string) *string { return &s }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testService(repo Repository, users UserLookup) (*Service, *recordingMailer) {
	mailer := &recordingMailer{}
	svc := NewService(repo, users, auth.NewPasswordService(), mailer, "https://orgware.example/invite/", zap.NewNop())
	return svc, mailer
}

func admin() *identity.User {
	return &identity.User{ID: "admin-1", Role: auth.RoleAdmin}
}

func orgadmin(orgID string) *identity.User {
	return &identity.User{ID: "oa-1", Role: auth.RoleOrgAdmin, OrganizationID: &orgID}
}

func userParams(orgID string) CreateParams {
	return CreateParams{
		Email:          "new@example.com",
		Role:           auth.RoleUser,
		OrganizationID: strPtr(orgID),
		Permissions: []auth.PermissionGrant{
			{Feature: "promotion", SubFeatures: []string{"email"}, Actions: []auth.Action{auth.ActionRead}},
		},
	}
}

func TestCreateIssuesUnguessableToken(t *testing.T) {
	repo := newFakeRepo()
	svc, mailer := testService(repo, &fakeUserLookup{})

	inv, link, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	// 32 random bytes in raw base64url encode to 43 characters.
	assert.Len(t, inv.Token, 43)
	assert.Equal(t, StatusPending, inv.Status)
	assert.Equal(t, "https://orgware.example/invite/"+inv.Token, link)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, link, mailer.sent[0])
}

func TestCreateSetsSevenDayExpiry(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(fixedClock(now))

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), inv.ExpiresAt)
}

func TestCreateRejectsUnmanageableRole(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	params := userParams("org-1")
	params.Role = auth.RoleAdmin

	_, _, err := svc.Create(context.Background(), orgadmin("org-1"), params)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInsufficientRole))
	assert.Empty(t, repo.invitations)
}

// An orgadmin inviting into another organization is rejected before any
// persistence write.
func TestCreateRejectsCrossOrgInvite(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	_, _, err := svc.Create(context.Background(), orgadmin("org-1"), userParams("org-2"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrForbidden))
	assert.Empty(t, repo.invitations)
}

func TestCreateRejectsExistingUser(t *testing.T) {
	repo := newFakeRepo()
	users := &fakeUserLookup{existing: map[string]*identity.User{
		"new@example.com": {ID: "u-1", Email: "new@example.com"},
	}}
	svc, _ := testService(repo, users)

	_, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrUserAlreadyExists))
}

// A second create for the same (email, organization, role) triple is
// rejected while a different role or organization for the same email
// goes through.
func TestCreateDuplicatePendingPrevention(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	_, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	_, _, err = svc.Create(context.Background(), admin(), userParams("org-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvitationExists))

	differentRole := userParams("org-1")
	differentRole.Role = auth.RoleOrgAdmin
	_, _, err = svc.Create(context.Background(), admin(), differentRole)
	require.NoError(t, err)

	_, _, err = svc.Create(context.Background(), admin(), userParams("org-2"))
	require.NoError(t, err)
}

func TestRedeemCreatesUserWithInvitationFields(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	user, err := svc.Redeem(context.Background(), RedeemParams{
		Token:     inv.Token,
		Password:  "Sup3rSecret!pw",
		FirstName: "New",
		LastName:  "User",
	})
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, auth.RoleUser, user.Role)
	require.NotNil(t, user.OrganizationID)
	assert.Equal(t, "org-1", *user.OrganizationID)
	assert.Equal(t, inv.Permissions, user.Permissions)
	assert.Equal(t, "admin-1", *user.CreatedBy)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, user.PasswordHash)
}

// Redeeming the same token twice fails the second time with the generic
// error and creates no second user.
func TestRedeemIsSingleUse(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvitationInvalid))
	assert.Len(t, repo.users, 1)
}

// Expiry is enforced at redemption: an invitation that was validly
// created cannot be redeemed once the clock passes its window.
func TestRedeemRejectsExpiredInvitation(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(fixedClock(created))

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	svc.WithClock(fixedClock(created.Add(Validity + time.Hour)))

	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvitationInvalid))
}

// Unknown, expired, and already-used tokens all produce the exact same
// error; the redemption endpoint must not leak which condition failed.
func TestRedeemFailuresAreUndifferentiated(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(fixedClock(created))

	expired, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	params := userParams("org-1")
	params.Email = "other@example.com"
	used, _, err := svc.Create(context.Background(), admin(), params)
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), RedeemParams{Token: used.Token, Password: "Sup3rSecret!pw"})
	require.NoError(t, err)

	svc.WithClock(fixedClock(created.Add(Validity + time.Hour)))

	var messages []string
	for _, token := range []string{"no-such-token", expired.Token, used.Token} {
		_, err := svc.Redeem(context.Background(), RedeemParams{Token: token, Password: "Sup3rSecret!pw"})
		require.Error(t, err)
		appErr, ok := err.(*apperrors.AppError)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrInvitationInvalid, appErr.Code)
		messages = append(messages, appErr.Message)
	}
	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[1], messages[2])
}

// A platform-level invitation with no organization produces a user with
// no organization.
func TestRedeemAdminInviteLeavesOrganizationUnset(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	inv, _, err := svc.Create(context.Background(), &identity.User{ID: "sa-1", Role: auth.RoleSuperAdmin}, CreateParams{
		Email: "platform@example.com",
		Role:  auth.RoleAdmin,
	})
	require.NoError(t, err)

	user, err := svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.NoError(t, err)
	assert.Nil(t, user.OrganizationID)
	assert.Equal(t, auth.RoleAdmin, user.Role)
}

// Resend pushes the window forward from now and keeps the token, so a
// previously delivered link stays valid — even for an already expired
// invitation.
func TestResendExtendsWithoutRotatingToken(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(fixedClock(created))

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	later := created.Add(Validity + 48*time.Hour)
	svc.WithClock(fixedClock(later))

	resent, err := svc.Resend(context.Background(), admin(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Token, resent.Token)
	assert.Equal(t, later.Add(Validity), resent.ExpiresAt)

	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.NoError(t, err)
}

func TestResendRejectsAcceptedInvitation(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.NoError(t, err)

	_, err = svc.Resend(context.Background(), admin(), inv.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConflict))
}

func TestRevokeInvalidatesToken(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	inv, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), admin(), inv.ID))

	_, err = svc.Redeem(context.Background(), RedeemParams{Token: inv.Token, Password: "Sup3rSecret!pw"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvitationInvalid))
}

func TestListOrgadminForcedScope(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := testService(repo, &fakeUserLookup{})

	_, _, err := svc.Create(context.Background(), admin(), userParams("org-1"))
	require.NoError(t, err)
	_, _, err = svc.Create(context.Background(), admin(), userParams("org-2"))
	require.NoError(t, err)

	invitations, total, err := svc.List(context.Background(), orgadmin("org-1"), strPtr("org-2"), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, invitations, 1)
	assert.Equal(t, "org-1", *invitations[0].OrganizationID)
}
