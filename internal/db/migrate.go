// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is a single versioned schema step. Migrations are compiled in so
// the agent binary can always bring an old on-device database forward.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "pending items queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS pending_items (
			local_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('photo', 'task_status', 'daily_log')),
			payload_ref TEXT,
			thumb_ref TEXT,
			filename TEXT,
			fields TEXT,
			metadata TEXT NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'queued'
				CHECK(sync_status IN ('queued', 'uploading', 'failed', 'completed')),
			attempts INTEGER NOT NULL DEFAULT 0 CHECK(attempts >= 0),
			last_error TEXT,
			enqueued_at INTEGER NOT NULL,
			last_attempt_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_pending_project
			ON pending_items(project_id, enqueued_at);
		CREATE INDEX IF NOT EXISTS idx_pending_status
			ON pending_items(sync_status, enqueued_at);
		`,
	},
}

// Migrate applies all pending schema migrations.
func Migrate(db *sql.DB) error {
	if err := initMigrations(db); err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().Unix(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// initMigrations creates the schema_migrations table if it doesn't exist.
func initMigrations(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := db.Exec(query)
	return err
}

// currentVersion returns the current schema version.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}
