package database

import (
	"context"
	"fmt"
)

// schemaStatements create the access-service tables and the indexes the
// concurrency model depends on: the unique invitation token, and the
// partial unique index that makes two concurrent creates of the same
// pending invitation fail safely instead of double-inviting.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		features JSONB NOT NULL DEFAULT '[]',
		settings JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_organizations_slug ON organizations (slug)`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL,
		first_name VARCHAR(255) NOT NULL DEFAULT '',
		last_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(32) NOT NULL,
		organization_id UUID REFERENCES organizations(id),
		permissions JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		password_hash TEXT NOT NULL,
		created_by UUID,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE INDEX IF NOT EXISTS idx_users_organization ON users (organization_id)`,

	`CREATE TABLE IF NOT EXISTS features (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		required_role VARCHAR(32) NOT NULL,
		level VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		sub_features JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_features_name ON features (name)`,

	`CREATE TABLE IF NOT EXISTS invitations (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL,
		role VARCHAR(32) NOT NULL,
		organization_id UUID REFERENCES organizations(id),
		permissions JSONB NOT NULL DEFAULT '[]',
		invited_by UUID NOT NULL,
		token VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		accepted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_token ON invitations (token)`,
	// NULLS NOT DISTINCT so platform-level invitations with no
	// organization are also deduplicated (requires postgres 15+).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_pending
		ON invitations (email, organization_id, role) NULLS NOT DISTINCT
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations (email)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		action VARCHAR(64) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		actor_id VARCHAR(64),
		target_id VARCHAR(64),
		details JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events (actor_id)`,
}

// InitializeSchema creates all tables and indexes if they do not exist.
func (db *PostgresDB) InitializeSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
