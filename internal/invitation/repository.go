package invitation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/common/database"
	"github.com/orgware/orgware/internal/identity"
)

var (
	// ErrInvitationNotFound is returned when no invitation matches the lookup
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrNotRedeemable is returned when the conditional accept matches no
	// row: unknown token, already accepted, or expired. Callers must not
	// forward the distinction.
	ErrNotRedeemable = errors.New("invitation not redeemable")

	// ErrDuplicatePending is returned when an identical pending invitation
	// already exists.
	ErrDuplicatePending = errors.New("pending invitation already exists")
)

// Repository defines persistence operations for invitations. The
// redemption path must be atomic: the conditional accept and the user
// creation commit together or not at all.
type Repository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, id string) (*Invitation, error)
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	HasPending(ctx context.Context, email string, organizationID *string, role auth.Role) (bool, error)
	ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error
	AcceptAndCreateUser(ctx context.Context, invitationID string, now time.Time, user *identity.User) error
	List(ctx context.Context, organizationID *string, limit, offset int) ([]Invitation, int, error)
	Delete(ctx context.Context, id string) error
}

// PostgresRepository implements Repository on a pgx connection pool.
// The schema carries a unique index on token and a partial unique index
// on (email, organization_id, role) WHERE status = 'pending', so losing
// racers fail at insert rather than double-inviting.
type PostgresRepository struct {
	db *database.PostgresDB
}

// NewPostgresRepository creates a postgres-backed invitation repository.
func NewPostgresRepository(db *database.PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const invitationColumns = `id, email, role, organization_id, permissions, invited_by,
	token, status, expires_at, accepted_at, created_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	var permissionsJSON []byte
	err := row.Scan(
		&inv.ID, &inv.Email, &inv.Role, &inv.OrganizationID, &permissionsJSON,
		&inv.InvitedBy, &inv.Token, &inv.Status, &inv.ExpiresAt, &inv.AcceptedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("scan invitation: %w", err)
	}
	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &inv.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return &inv, nil
}

// Create inserts a new invitation. A unique violation means a
// concurrent create won the race for the same pending triple.
func (r *PostgresRepository) Create(ctx context.Context, inv *Invitation) error {
	permissionsJSON, err := json.Marshal(inv.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO invitations (id, email, role, organization_id, permissions, invited_by,
		                          token, status, expires_at, accepted_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.Email, inv.Role, inv.OrganizationID, permissionsJSON, inv.InvitedBy,
		inv.Token, inv.Status, inv.ExpiresAt, inv.AcceptedAt, inv.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Invitation, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
	return scanInvitation(row)
}

// GetByToken retrieves an invitation by exact token match.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)
	return scanInvitation(row)
}

// HasPending reports whether a pending invitation exists for the exact
// (email, organization, role) triple.
func (r *PostgresRepository) HasPending(ctx context.Context, email string, organizationID *string, role auth.Role) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM invitations
		   WHERE email = $1 AND organization_id IS NOT DISTINCT FROM $2
		     AND role = $3 AND status = 'pending'
		 )`,
		email, organizationID, role,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return exists, nil
}

// ExtendExpiry pushes the expiry window forward without touching the
// token or the status. It applies to pending invitations only.
func (r *PostgresRepository) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE invitations SET expires_at = $1 WHERE id = $2 AND status = 'pending'`,
		expiresAt, id,
	)
	if err != nil {
		return fmt.Errorf("extend invitation expiry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// AcceptAndCreateUser transitions the invitation to accepted and
// creates the new user in one transaction. The accept is conditional on
// the row still being pending and unexpired, so exactly one of any
// concurrent redeemers succeeds; the rest get ErrNotRedeemable.
func (r *PostgresRepository) AcceptAndCreateUser(ctx context.Context, invitationID string, now time.Time, user *identity.User) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redemption tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE invitations SET status = 'accepted', accepted_at = $1
		 WHERE id = $2 AND status = 'pending' AND expires_at > $3`,
		now, invitationID, now,
	)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotRedeemable
	}

	permissionsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, first_name, last_name, role, organization_id,
		                    permissions, is_active, password_hash, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Email, user.FirstName, user.LastName, user.Role, user.OrganizationID,
		permissionsJSON, user.IsActive, user.PasswordHash, user.CreatedBy,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return identity.ErrEmailTaken
		}
		return fmt.Errorf("create user from invitation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redemption tx: %w", err)
	}
	return nil
}

// List returns a page of invitations, optionally scoped to one
// organization, with a total count.
func (r *PostgresRepository) List(ctx context.Context, organizationID *string, limit, offset int) ([]Invitation, int, error) {
	var total int
	var rows pgx.Rows
	var err error

	if organizationID != nil {
		if err = r.db.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM invitations WHERE organization_id = $1`, *organizationID,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count invitations: %w", err)
		}
		rows, err = r.db.Pool.Query(ctx,
			`SELECT `+invitationColumns+` FROM invitations WHERE organization_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			*organizationID, limit, offset)
	} else {
		if err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM invitations`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count invitations: %w", err)
		}
		rows, err = r.db.Pool.Query(ctx,
			`SELECT `+invitationColumns+` FROM invitations
			 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, 0, err
		}
		invitations = append(invitations, *inv)
	}

	return invitations, total, nil
}

// Delete revokes an invitation outright.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}
