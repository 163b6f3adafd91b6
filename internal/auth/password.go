// Package auth provides password hashing and validation for orgware
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrPasswordTooShort is returned when the password is shorter than the policy minimum
	ErrPasswordTooShort = errors.New("password is too short")

	// ErrPasswordMismatch is returned when the password does not match the stored hash
	ErrPasswordMismatch = errors.New("password does not match")

	// ErrInvalidHashFormat is returned when the stored hash cannot be parsed
	ErrInvalidHashFormat = errors.New("invalid hash format")
)

// PasswordPolicy defines password requirements for self-service and
// invitation-redemption password setting.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
}

// DefaultPasswordPolicy returns sensible defaults for the password policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        10,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
	}
}

// PasswordService handles argon2id password hashing and verification.
type PasswordService struct {
	policy      PasswordPolicy
	time        uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	saltLength  uint32
}

// NewPasswordService creates a PasswordService with default argon2id parameters.
func NewPasswordService() *PasswordService {
	return &PasswordService{
		policy:      DefaultPasswordPolicy(),
		time:        3,
		memory:      64 * 1024,
		parallelism: 2,
		keyLength:   32,
		saltLength:  16,
	}
}

// WithPolicy sets a custom password policy.
func (ps *PasswordService) WithPolicy(policy PasswordPolicy) *PasswordService {
	ps.policy = policy
	return ps
}

// ValidatePolicy checks a plaintext password against the configured policy.
func (ps *PasswordService) ValidatePolicy(password string) error {
	if len(password) < ps.policy.MinLength {
		return ErrPasswordTooShort
	}

	var hasUpper, hasLower, hasDigit bool
	for _, c := range password {
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= '0' && c <= '9':
			hasDigit = true
		}
	}

	if ps.policy.RequireUppercase && !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if ps.policy.RequireLowercase && !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if ps.policy.RequireDigit && !hasDigit {
		return errors.New("password must contain at least one digit")
	}

	return nil
}

// Hash validates the password against the policy and returns an encoded
// argon2id hash in the standard $argon2id$ format.
func (ps *PasswordService) Hash(password string) (string, error) {
	if err := ps.ValidatePolicy(password); err != nil {
		return "", err
	}

	salt := make([]byte, ps.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, ps.time, ps.memory, ps.parallelism, ps.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, ps.memory, ps.time, ps.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// Verify compares a plaintext password against an encoded argon2id hash.
// It returns ErrPasswordMismatch when the password is wrong.
func (ps *PasswordService) Verify(password, encodedHash string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrInvalidHashFormat
	}

	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return ErrInvalidHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidHashFormat
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidHashFormat
	}

	key := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(expected)))

	if subtle.ConstantTimeCompare(key, expected) != 1 {
		return ErrPasswordMismatch
	}

	return nil
}
