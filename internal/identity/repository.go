// Package identity provides the postgres-backed user repository
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/common/database"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when a create collides with an existing email
	ErrEmailTaken = errors.New("email already registered")
)

// Repository defines persistence operations for the identity store.
type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	ReplacePermissions(ctx context.Context, userID string, grants []auth.PermissionGrant) error
	ListUsers(ctx context.Context, organizationID *string, limit, offset int) ([]User, int, error)
}

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	db *database.PostgresDB
}

// NewPostgresRepository creates a postgres-backed identity repository.
func NewPostgresRepository(db *database.PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, role, organization_id,
	permissions, is_active, password_hash, created_by, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var permissionsJSON []byte
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.OrganizationID,
		&permissionsJSON, &u.IsActive, &u.PasswordHash, &u.CreatedBy,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &u.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return &u, nil
}

// CreateUser inserts a new user record. The email must be normalized by the
// caller; the unique index on email makes duplicate creates fail with
// ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *User) error {
	permissionsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO users (id, email, first_name, last_name, role, organization_id,
		                    permissions, is_active, password_hash, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Email, user.FirstName, user.LastName, user.Role, user.OrganizationID,
		permissionsJSON, user.IsActive, user.PasswordHash, user.CreatedBy,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by normalized email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

// UpdateProfile updates a user's mutable profile fields.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, user *User) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET first_name = $1, last_name = $2, is_active = $3, updated_at = $4
		 WHERE id = $5`,
		user.FirstName, user.LastName, user.IsActive, time.Now().UTC(), user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password hash.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ReplacePermissions overwrites the user's entire permission collection.
// Concurrent replacements are last-write-wins; there are no merge semantics.
func (r *PostgresRepository) ReplacePermissions(ctx context.Context, userID string, grants []auth.PermissionGrant) error {
	permissionsJSON, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	result, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET permissions = $1, updated_at = $2 WHERE id = $3`,
		permissionsJSON, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("replace permissions: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers returns a page of users, optionally scoped to one organization,
// with a total count.
func (r *PostgresRepository) ListUsers(ctx context.Context, organizationID *string, limit, offset int) ([]User, int, error) {
	var total int
	var rows pgx.Rows
	var err error

	if organizationID != nil {
		if err = r.db.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE organization_id = $1`, *organizationID,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count users: %w", err)
		}
		rows, err = r.db.Pool.Query(ctx,
			`SELECT `+userColumns+` FROM users WHERE organization_id = $1
			 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
			*organizationID, limit, offset)
	} else {
		if err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count users: %w", err)
		}
		rows, err = r.db.Pool.Query(ctx,
			`SELECT `+userColumns+` FROM users ORDER BY created_at ASC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}

	return users, total, nil
}
