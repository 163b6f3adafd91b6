// Package organization provides organization CRUD and feature toggle management
package organization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/common/database"
	"github.com/orgware/orgware/internal/identity"
)

// ErrOrganizationNotFound is returned when no organization matches the lookup
var ErrOrganizationNotFound = errors.New("organization not found")

// Service provides organization management operations.
type Service struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewService creates a new organization service instance.
func NewService(db *database.PostgresDB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With(zap.String("service", "organization")),
	}
}

const orgColumns = `id, name, slug, description, is_active, features, settings, created_at, updated_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var org Organization
	var featuresJSON, settingsJSON []byte
	err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.Description, &org.IsActive,
		&featuresJSON, &settingsJSON, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	if featuresJSON != nil {
		if err := json.Unmarshal(featuresJSON, &org.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	if settingsJSON != nil {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return &org, nil
}

// CreateOrganization creates a new organization. Only platform-level
// administrators may create organizations.
func (s *Service) CreateOrganization(ctx context.Context, actor *identity.User, org *Organization) error {
	if actor == nil || !actor.Role.IsAtLeast(auth.RoleAdmin) {
		return apperrors.InsufficientRole("only administrators can create organizations")
	}

	org.ID = uuid.New().String()
	if org.Slug == "" {
		org.Slug = Slugify(org.Name)
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	org.IsActive = true

	if err := org.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	featuresJSON, err := json.Marshal(org.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO organizations (id, name, slug, description, is_active, features, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		org.ID, org.Name, org.Slug, org.Description, org.IsActive,
		featuresJSON, settingsJSON, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("organization slug already in use")
		}
		return fmt.Errorf("insert organization: %w", err)
	}

	s.logger.Info("organization created",
		zap.String("org_id", org.ID),
		zap.String("slug", org.Slug),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *Service) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, orgID)
	return scanOrganization(row)
}

// GetOrganizationBySlug retrieves an organization by its slug.
func (s *Service) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE slug = $1`, slug)
	return scanOrganization(row)
}

// ListOrganizations returns a paginated list of organizations with a total count.
func (s *Service) ListOrganizations(ctx context.Context, limit, offset int) ([]Organization, int, error) {
	var total int
	if err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+orgColumns+` FROM organizations ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, *org)
	}

	return orgs, total, nil
}

// UpdateOrganization updates an organization's name, description, and active flag.
func (s *Service) UpdateOrganization(ctx context.Context, actor *identity.User, orgID, name, description string, isActive bool) error {
	if err := s.requireOrgManager(actor, orgID); err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx,
		`UPDATE organizations SET name = $1, description = $2, is_active = $3, updated_at = $4 WHERE id = $5`,
		name, description, isActive, time.Now().UTC(), orgID,
	)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrganizationNotFound
	}

	s.logger.Info("organization updated",
		zap.String("org_id", orgID),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// SetFeatureToggle sets the enable state of a feature, or of one of its
// sub-features when subFeature is non-empty. Missing toggle entries are
// created on first write. Orgadmins may toggle only their own organization;
// platform administrators may toggle any.
func (s *Service) SetFeatureToggle(ctx context.Context, actor *identity.User, orgID, feature, subFeature string, enabled bool) error {
	if err := s.requireOrgManager(actor, orgID); err != nil {
		return err
	}

	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	entry := org.Feature(feature)
	if entry == nil {
		org.Features = append(org.Features, Feature{Name: feature})
		entry = &org.Features[len(org.Features)-1]
	}

	if subFeature == "" {
		entry.IsEnabled = enabled
	} else {
		found := false
		for i := range entry.SubFeatures {
			if entry.SubFeatures[i].Name == subFeature {
				entry.SubFeatures[i].IsEnabled = enabled
				found = true
				break
			}
		}
		if !found {
			entry.SubFeatures = append(entry.SubFeatures, SubFeatureToggle{Name: subFeature, IsEnabled: enabled})
		}
	}

	featuresJSON, err := json.Marshal(org.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	result, err := s.db.Pool.Exec(ctx,
		`UPDATE organizations SET features = $1, updated_at = $2 WHERE id = $3`,
		featuresJSON, time.Now().UTC(), orgID,
	)
	if err != nil {
		return fmt.Errorf("update feature toggles: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrganizationNotFound
	}

	s.logger.Info("organization feature toggled",
		zap.String("org_id", orgID),
		zap.String("feature", feature),
		zap.String("sub_feature", subFeature),
		zap.Bool("enabled", enabled),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// requireOrgManager enforces who may mutate an organization: orgadmins for
// their own organization, admin and superadmin for any.
func (s *Service) requireOrgManager(actor *identity.User, orgID string) error {
	if actor == nil {
		return apperrors.Unauthorized("authentication required")
	}
	if actor.Role.IsAtLeast(auth.RoleAdmin) {
		return nil
	}
	if actor.Role == auth.RoleOrgAdmin && actor.InOrganization(orgID) {
		return nil
	}
	return apperrors.InsufficientRole("cannot manage this organization")
}
