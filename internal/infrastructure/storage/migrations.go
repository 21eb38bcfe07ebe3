package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one ordered schema step. Statements run individually so the
// same list works for drivers without multi-statement Exec.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS processing_records (
				event_id       TEXT PRIMARY KEY,
				issuer_id      TEXT NOT NULL,
				content_hash   TEXT NOT NULL DEFAULT '',
				status         TEXT NOT NULL,
				classification TEXT,
				reason         TEXT NOT NULL DEFAULT '',
				failure_kind   TEXT NOT NULL DEFAULT '',
				attempts       INTEGER NOT NULL DEFAULT 0,
				claim_token    TEXT NOT NULL DEFAULT '',
				processed_at   BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_records_hash
				ON processing_records (issuer_id, content_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_records_status
				ON processing_records (status, failure_kind)`,
			`CREATE TABLE IF NOT EXISTS alert_history (
				event_id   TEXT PRIMARY KEY,
				issuer_id  TEXT NOT NULL,
				event_type TEXT NOT NULL,
				sent_at    BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_history_key
				ON alert_history (issuer_id, event_type, sent_at)`,
		},
	},
}

func runMigrations(ctx context.Context, db *sql.DB, dialect dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
			}
		}

		query, args, err := dialect.builder().
			Insert("schema_migrations").
			Columns("version", "name", "applied_at").
			Values(m.Version, m.Name, time.Now().UnixNano()).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build migration record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
