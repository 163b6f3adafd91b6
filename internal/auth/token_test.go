// Package auth provides unit tests for the token service
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRedis creates a miniredis-backed client for revocation tests
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mini := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mini.Addr()})
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	ts := NewTokenService("test-secret", nil, zap.NewNop())
	ctx := context.Background()

	token, err := ts.GenerateAccessToken(ctx, "user-1", RoleOrgAdmin, "org-1")
	require.NoError(t, err)

	claims, err := ts.ValidateAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, string(RoleOrgAdmin), claims.Role)
	assert.Equal(t, "org-1", claims.OrganizationID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	ts := NewTokenService("secret-a", nil, zap.NewNop())
	other := NewTokenService("secret-b", nil, zap.NewNop())
	ctx := context.Background()

	token, err := ts.GenerateAccessToken(ctx, "user-1", RoleUser, "")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ts := NewTokenService("test-secret", nil, zap.NewNop()).WithConfig(TokenConfig{
		AccessTokenDuration:  -time.Minute,
		RefreshTokenDuration: time.Hour,
		Issuer:               "orgware",
	})
	ctx := context.Background()

	token, err := ts.GenerateAccessToken(ctx, "user-1", RoleUser, "")
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	ts := NewTokenService("test-secret", nil, zap.NewNop())
	ctx := context.Background()

	refresh, err := ts.GenerateRefreshToken(ctx, "user-1", RoleUser, "")
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(ctx, refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	claims, err := ts.ValidateRefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestRevokeToken(t *testing.T) {
	ts := NewTokenService("test-secret", newTestRedis(t), zap.NewNop())
	ctx := context.Background()

	token, err := ts.GenerateAccessToken(ctx, "user-1", RoleAdmin, "")
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, ts.RevokeToken(ctx, token))

	revoked, err := ts.IsTokenRevoked(ctx, token)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = ts.ValidateAccessToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefreshAccessToken(t *testing.T) {
	ts := NewTokenService("test-secret", nil, zap.NewNop())
	ctx := context.Background()

	refresh, err := ts.GenerateRefreshToken(ctx, "user-1", RoleOrgAdmin, "org-1")
	require.NoError(t, err)

	access, err := ts.RefreshAccessToken(ctx, refresh)
	require.NoError(t, err)

	claims, err := ts.ValidateAccessToken(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "org-1", claims.OrganizationID)
}
