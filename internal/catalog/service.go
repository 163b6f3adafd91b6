package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/common/database"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// ErrFeatureNotFound is returned when no catalog entry matches the lookup
var ErrFeatureNotFound = errors.New("feature not found")

const (
	featureCacheKeyPrefix = "catalog:feature:"
	featureCacheTTL       = 5 * time.Minute
)

// Service manages the feature catalog. Reads by name are cached in Redis
// because the authorization engine consults the catalog on every decision.
type Service struct {
	db     *database.PostgresDB
	redis  *database.RedisClient
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(db *database.PostgresDB, redisClient *database.RedisClient, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		redis:  redisClient,
		logger: logger.With(zap.String("service", "catalog")),
	}
}

const featureColumns = `id, name, display_name, description, required_role, level, status, sub_features, created_at, updated_at`

func scanFeature(row pgx.Row) (*Feature, error) {
	var f Feature
	var subFeaturesJSON []byte
	err := row.Scan(
		&f.ID, &f.Name, &f.DisplayName, &f.Description, &f.RequiredRole,
		&f.Level, &f.Status, &subFeaturesJSON, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeatureNotFound
		}
		return nil, fmt.Errorf("scan feature: %w", err)
	}
	if subFeaturesJSON != nil {
		if err := json.Unmarshal(subFeaturesJSON, &f.SubFeatures); err != nil {
			return nil, fmt.Errorf("unmarshal sub_features: %w", err)
		}
	}
	return &f, nil
}

// CreateFeature adds a new catalog entry. Only superadmins may define features.
func (s *Service) CreateFeature(ctx context.Context, actor *identity.User, feature *Feature) error {
	if actor == nil || actor.Role != auth.RoleSuperAdmin {
		return apperrors.InsufficientRole("only superadmins can define catalog features")
	}

	feature.ID = uuid.New().String()
	if feature.Status == "" {
		feature.Status = FeatureStatusPending
	}
	now := time.Now().UTC()
	feature.CreatedAt = now
	feature.UpdatedAt = now

	if err := feature.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	subFeaturesJSON, err := json.Marshal(feature.SubFeatures)
	if err != nil {
		return fmt.Errorf("marshal sub_features: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO features (id, name, display_name, description, required_role, level, status, sub_features, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		feature.ID, feature.Name, feature.DisplayName, feature.Description,
		feature.RequiredRole, feature.Level, feature.Status, subFeaturesJSON,
		feature.CreatedAt, feature.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("feature name already defined")
		}
		return fmt.Errorf("insert feature: %w", err)
	}

	s.logger.Info("catalog feature created",
		zap.String("feature", feature.Name),
		zap.String("level", string(feature.Level)),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// UpdateFeature replaces a catalog entry's mutable fields. Superadmin only.
func (s *Service) UpdateFeature(ctx context.Context, actor *identity.User, feature *Feature) error {
	if actor == nil || actor.Role != auth.RoleSuperAdmin {
		return apperrors.InsufficientRole("only superadmins can modify catalog features")
	}

	feature.UpdatedAt = time.Now().UTC()
	if err := feature.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	subFeaturesJSON, err := json.Marshal(feature.SubFeatures)
	if err != nil {
		return fmt.Errorf("marshal sub_features: %w", err)
	}

	result, err := s.db.Pool.Exec(ctx,
		`UPDATE features SET display_name = $1, description = $2, required_role = $3,
		        level = $4, status = $5, sub_features = $6, updated_at = $7
		 WHERE name = $8`,
		feature.DisplayName, feature.Description, feature.RequiredRole,
		feature.Level, feature.Status, subFeaturesJSON, feature.UpdatedAt,
		feature.Name,
	)
	if err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFeatureNotFound
	}

	s.invalidateCache(ctx, feature.Name)

	s.logger.Info("catalog feature updated",
		zap.String("feature", feature.Name),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// DeleteFeature removes a catalog entry. Superadmin only.
func (s *Service) DeleteFeature(ctx context.Context, actor *identity.User, name string) error {
	if actor == nil || actor.Role != auth.RoleSuperAdmin {
		return apperrors.InsufficientRole("only superadmins can delete catalog features")
	}

	result, err := s.db.Pool.Exec(ctx, `DELETE FROM features WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete feature: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFeatureNotFound
	}

	s.invalidateCache(ctx, name)

	s.logger.Info("catalog feature deleted",
		zap.String("feature", name),
		zap.String("actor_id", actor.ID),
	)

	return nil
}

// GetFeatureByName retrieves a catalog entry by its unique name, consulting
// the Redis cache first. Cache failures fall through to postgres.
func (s *Service) GetFeatureByName(ctx context.Context, name string) (*Feature, error) {
	cacheKey := featureCacheKeyPrefix + name

	if s.redis != nil {
		cached, err := s.redis.Client.Get(ctx, cacheKey).Result()
		if err == nil {
			var f Feature
			if err := json.Unmarshal([]byte(cached), &f); err == nil {
				return &f, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("feature cache read failed", zap.Error(err))
		}
	}

	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+featureColumns+` FROM features WHERE name = $1`, name)
	feature, err := scanFeature(row)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(feature); err == nil {
			s.redis.Client.Set(ctx, cacheKey, data, featureCacheTTL)
		}
	}

	return feature, nil
}

// ListFeatures returns catalog entries, optionally filtered by level.
func (s *Service) ListFeatures(ctx context.Context, level FeatureLevel) ([]Feature, error) {
	var rows pgx.Rows
	var err error

	if level != "" {
		rows, err = s.db.Pool.Query(ctx,
			`SELECT `+featureColumns+` FROM features WHERE level = $1 ORDER BY name ASC`, level)
	} else {
		rows, err = s.db.Pool.Query(ctx,
			`SELECT `+featureColumns+` FROM features ORDER BY name ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, *f)
	}

	return features, nil
}

func (s *Service) invalidateCache(ctx context.Context, name string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Client.Del(ctx, featureCacheKeyPrefix+name).Err(); err != nil {
		s.logger.Warn("feature cache invalidation failed",
			zap.String("feature", name), zap.Error(err))
	}
}
