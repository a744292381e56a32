package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	log.Info().Msg("Running database migrations")

	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	// Run migrations
	for _, migration := range migrations {
		if migration.Version > currentVersion {
			log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")

			if err := db.Transaction(func(tx *sql.Tx) error {
				// Execute migration SQL - split by semicolons and execute each statement
				// This ensures each statement is properly executed and errors are caught
				statements := splitSQLStatements(migration.SQL)
				for i, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("migration %d statement %d failed: %w", migration.Version, i+1, err)
					}
				}

				// Record migration
				if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
					return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
				}

				return nil
			}); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Database migrations complete")
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.SplitSeq(sql, "\n")
	for line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip empty lines and comments
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		// Check if line ends with semicolon (statement complete)
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	// Handle any remaining content without trailing semicolon
	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- Known Jellyfin servers
			CREATE TABLE servers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				address TEXT NOT NULL,
				version TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Users per server
			CREATE TABLE users (
				id TEXT NOT NULL,
				server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				primary_image_tag TEXT NOT NULL DEFAULT '',
				last_login_at TIMESTAMP,
				PRIMARY KEY (id, server_id)
			);

			-- Media sources per item; local sources point at downloaded files
			CREATE TABLE sources (
				id TEXT PRIMARY KEY,
				item_id TEXT NOT NULL,
				server_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				path TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_sources_item ON sources(item_id);
			CREATE INDEX idx_sources_scope ON sources(server_id, user_id);

			-- Downloads
			CREATE TABLE downloads (
				id TEXT PRIMARY KEY,
				server_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				item_id TEXT NOT NULL,
				item_name TEXT NOT NULL,
				item_type TEXT NOT NULL,
				source_id TEXT NOT NULL,
				source_name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				progress REAL NOT NULL DEFAULT 0,
				bytes_downloaded INTEGER NOT NULL DEFAULT 0,
				total_bytes INTEGER NOT NULL DEFAULT 0,
				file_path TEXT,
				error TEXT,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_downloads_scope ON downloads(server_id, user_id);
			CREATE INDEX idx_downloads_item ON downloads(item_id);

			-- At most one live download per item per user
			CREATE UNIQUE INDEX idx_downloads_active
				ON downloads(server_id, user_id, item_id)
				WHERE status IN ('queued', 'downloading', 'paused');
		`,
	},
}
