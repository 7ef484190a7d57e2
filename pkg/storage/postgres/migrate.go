package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create org_nodes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_nodes (
					path TEXT PRIMARY KEY,
					id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					level VARCHAR(50) NOT NULL,
					depth INT NOT NULL,
					region VARCHAR(255),
					active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMP,
					deactivated_by VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_org_nodes_path_prefix ON org_nodes(path text_pattern_ops);
				CREATE INDEX idx_org_nodes_depth ON org_nodes(depth);
				CREATE INDEX idx_org_nodes_active ON org_nodes(active);
				CREATE INDEX idx_org_nodes_level ON org_nodes(level);
			`,
		},
		{
			Version:     2,
			Description: "Create services table",
			SQL: `
				CREATE TABLE IF NOT EXISTS services (
					path TEXT PRIMARY KEY,
					id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(50) NOT NULL DEFAULT 'active',
					archived_at TIMESTAMP,
					archived_by VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_services_path_prefix ON services(path text_pattern_ops);
				CREATE INDEX idx_services_status ON services(status);
			`,
		},
		{
			Version:     3,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id UUID PRIMARY KEY,
					actor_id VARCHAR(255) NOT NULL,
					role VARCHAR(255) NOT NULL,
					org_path TEXT NOT NULL,
					team_id VARCHAR(255),
					primary_org BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(50) NOT NULL DEFAULT 'active',
					assigned_by VARCHAR(255),
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deactivated_at TIMESTAMP
				);

				CREATE INDEX idx_role_assignments_actor_id ON role_assignments(actor_id);
				CREATE INDEX idx_role_assignments_role_org ON role_assignments(role, org_path);
				CREATE INDEX idx_role_assignments_org_path ON role_assignments(org_path text_pattern_ops);
				CREATE INDEX idx_role_assignments_status ON role_assignments(status);
				CREATE UNIQUE INDEX idx_role_assignments_active_unique
					ON role_assignments(actor_id, role, org_path) WHERE status = 'active';
			`,
		},
		{
			Version:     4,
			Description: "Create cascade_journal table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cascade_journal (
					id UUID PRIMARY KEY,
					kind VARCHAR(50) NOT NULL,
					root_path TEXT NOT NULL,
					new_path TEXT,
					actor_id VARCHAR(255),
					status VARCHAR(50) NOT NULL,
					attempts INT NOT NULL DEFAULT 0,
					last_error TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					completed_at TIMESTAMP
				);

				CREATE INDEX idx_cascade_journal_status ON cascade_journal(status);
				CREATE INDEX idx_cascade_journal_root_path ON cascade_journal(root_path);
			`,
		},
		{
			Version:     5,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id UUID PRIMARY KEY,
					actor_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					revoked_at TIMESTAMP,
					revoked_by VARCHAR(255)
				);

				CREATE INDEX idx_api_tokens_actor_id ON api_tokens(actor_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					actor_id VARCHAR(255) NOT NULL,
					action VARCHAR(255) NOT NULL,
					target TEXT NOT NULL,
					outcome VARCHAR(50) NOT NULL,
					detail JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_events_actor_id ON audit_events(actor_id);
				CREATE INDEX idx_audit_events_created_at ON audit_events(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	// Run pending migrations
	migrations := GetMigrations()
	for _, migration := range migrations {
		if appliedVersions[migration.Version] {
			continue
		}

		fmt.Printf("Running migration %d: %s\n", migration.Version, migration.Description)

		// Start transaction
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		// Execute migration
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		// Record migration
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		// Commit transaction
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		fmt.Printf("Migration %d completed successfully\n", migration.Version)
	}

	return nil
}
