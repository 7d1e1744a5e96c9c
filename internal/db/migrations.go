package db

import (
	"context"
	"fmt"
)

// migrations are applied in order; the schema version is PRAGMA user_version.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS usage_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		credential_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		model TEXT NOT NULL,
		ts INTEGER NOT NULL,
		consumed TEXT NOT NULL,
		prev TEXT NOT NULL,
		next TEXT NOT NULL,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_usage_samples_ts ON usage_samples(ts);
	CREATE INDEX IF NOT EXISTS idx_usage_samples_series ON usage_samples(credential_id, mode, model, ts);

	CREATE TABLE IF NOT EXISTS quota_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		credential_id TEXT NOT NULL,
		captured_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quota_snapshots_cred ON quota_snapshots(credential_id, captured_at);

	CREATE TABLE IF NOT EXISTS quota_model_values (
		snapshot_id INTEGER NOT NULL REFERENCES quota_snapshots(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		remaining TEXT NOT NULL,
		reset_time INTEGER,
		PRIMARY KEY (snapshot_id, model)
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS credential_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		credential_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_credential_events_ts ON credential_events(ts);
	`,
}

// SchemaVersion returns the applied migration count.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) migrate() error {
	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
