// Package auth provides JWT session token issuance, validation, and revocation
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrTokenInvalid is returned when a token is malformed or signature verification fails
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned when a token has passed its expiration time
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenRevoked is returned when a token has been explicitly revoked
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("signing secret is required")
)

// Claims represents the JWT claims carried by orgware session tokens.
type Claims struct {
	Subject        string `json:"sub"`
	Role           string `json:"role,omitempty"`
	OrganizationID string `json:"org,omitempty"`
	TokenType      string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenType represents the type of JWT token.
type TokenType string

const (
	AccessTokenType  TokenType = "access"
	RefreshTokenType TokenType = "refresh"
)

// TokenConfig holds configuration for token generation.
type TokenConfig struct {
	AccessTokenDuration  time.Duration // Default: 15 minutes
	RefreshTokenDuration time.Duration // Default: 7 days
	Issuer               string
}

// DefaultTokenConfig returns sensible defaults for token configuration.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
		Issuer:               "orgware",
	}
}

// TokenService issues and validates HMAC-signed JWTs, with a Redis-backed
// revocation blacklist.
type TokenService struct {
	secret []byte
	redis  *redis.Client
	config TokenConfig
	logger *zap.Logger
}

// NewTokenService creates a TokenService with the given signing secret and
// optional Redis client for revocation checks.
func NewTokenService(secret string, redisClient *redis.Client, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		secret: []byte(secret),
		redis:  redisClient,
		config: DefaultTokenConfig(),
		logger: logger,
	}
}

// WithConfig sets a custom token configuration.
func (ts *TokenService) WithConfig(config TokenConfig) *TokenService {
	ts.config = config
	return ts
}

// GenerateAccessToken creates a new access token for the given principal.
func (ts *TokenService) GenerateAccessToken(ctx context.Context, subject string, role Role, organizationID string) (string, error) {
	return ts.generateToken(subject, role, organizationID, AccessTokenType, ts.config.AccessTokenDuration)
}

// GenerateRefreshToken creates a new refresh token for the given principal.
func (ts *TokenService) GenerateRefreshToken(ctx context.Context, subject string, role Role, organizationID string) (string, error) {
	return ts.generateToken(subject, role, organizationID, RefreshTokenType, ts.config.RefreshTokenDuration)
}

// GenerateTokenPair creates both access and refresh tokens.
func (ts *TokenService) GenerateTokenPair(ctx context.Context, subject string, role Role, organizationID string) (accessToken, refreshToken string, err error) {
	accessToken, err = ts.GenerateAccessToken(ctx, subject, role, organizationID)
	if err != nil {
		return "", "", fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err = ts.GenerateRefreshToken(ctx, subject, role, organizationID)
	if err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

func (ts *TokenService) generateToken(subject string, role Role, organizationID string, tokenType TokenType, duration time.Duration) (string, error) {
	if len(ts.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := time.Now()
	claims := Claims{
		Subject:        subject,
		Role:           string(role),
		OrganizationID: organizationID,
		TokenType:      string(tokenType),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.config.Issuer,
			Subject:   subject,
			Audience:  []string{"orgware"},
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	ts.logger.Debug("generated token",
		zap.String("subject", subject),
		zap.String("type", string(tokenType)),
		zap.Duration("duration", duration),
	)

	return tokenString, nil
}

// ValidateToken validates a JWT and returns the claims if valid.
func (ts *TokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if len(ts.secret) == 0 {
		return nil, ErrMissingSecret
	}

	if ts.redis != nil {
		revoked, err := ts.isTokenRevoked(ctx, tokenString)
		if err != nil {
			ts.logger.Warn("failed to check token revocation status", zap.Error(err))
			// Continue with validation even if Redis check fails
		} else if revoked {
			return nil, ErrTokenRevoked
		}
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (ts *TokenService) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := ts.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != string(AccessTokenType) {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// ValidateRefreshToken validates a refresh token and returns the claims.
func (ts *TokenService) ValidateRefreshToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := ts.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != string(RefreshTokenType) {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// RefreshAccessToken generates a new access token from a valid refresh token.
func (ts *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := ts.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("validate refresh token: %w", err)
	}

	return ts.GenerateAccessToken(ctx, claims.Subject, Role(claims.Role), claims.OrganizationID)
}

// RevokeToken adds a token to the Redis blacklist until its natural expiry.
func (ts *TokenService) RevokeToken(ctx context.Context, tokenString string) error {
	if ts.redis == nil {
		return errors.New("redis client not configured")
	}

	parser := jwt.Parser{}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		// Unparseable tokens fail validation anyway
		return nil
	}

	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			return nil
		}
	} else {
		ttl = 24 * time.Hour
	}

	key := ts.blacklistKey(tokenString)
	if err := ts.redis.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("set token in blacklist: %w", err)
	}

	ts.logger.Debug("revoked token", zap.String("subject", claims.Subject), zap.Duration("ttl", ttl))
	return nil
}

// IsTokenRevoked checks whether a token has been revoked.
func (ts *TokenService) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	if ts.redis == nil {
		return false, nil
	}
	return ts.isTokenRevoked(ctx, tokenString)
}

func (ts *TokenService) isTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	exists, err := ts.redis.Exists(ctx, ts.blacklistKey(tokenString)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (ts *TokenService) blacklistKey(tokenString string) string {
	return fmt.Sprintf("auth:revoked:%s", tokenString)
}
