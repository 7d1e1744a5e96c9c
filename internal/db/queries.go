package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// SaveSamples inserts usage samples in one transaction.
func (db *DB) SaveSamples(samples []models.StoredSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO usage_samples (
			credential_id, mode, model, ts, consumed, prev, next,
			prompt_tokens, completion_tokens, total_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range samples {
		var prompt, completion, total sql.NullInt64
		if tok := s.Sample.Tokens; tok != nil {
			prompt = sql.NullInt64{Int64: tok.Prompt, Valid: true}
			completion = sql.NullInt64{Int64: tok.Completion, Valid: true}
			total = sql.NullInt64{Int64: tok.Total, Valid: true}
		}
		if _, err := stmt.Exec(
			s.CredentialID,
			string(s.Mode),
			s.Model,
			s.Sample.Timestamp.UnixMilli(),
			s.Sample.ConsumedPercent,
			s.Sample.PrevPercent,
			s.Sample.NextPercent,
			prompt,
			completion,
			total,
		); err != nil {
			return fmt.Errorf("failed to insert usage sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadSamples returns every sample at or after since, oldest first.
func (db *DB) LoadSamples(since time.Time) ([]models.StoredSample, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT credential_id, mode, model, ts, consumed, prev, next,
			   prompt_tokens, completion_tokens, total_tokens
		FROM usage_samples
		WHERE ts >= ?
		ORDER BY ts ASC, id ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.StoredSample
	for rows.Next() {
		var (
			s                         models.StoredSample
			mode                      string
			ts                        int64
			prompt, completion, total sql.NullInt64
		)
		if err := rows.Scan(
			&s.CredentialID, &mode, &s.Model, &ts,
			&s.Sample.ConsumedPercent, &s.Sample.PrevPercent, &s.Sample.NextPercent,
			&prompt, &completion, &total,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage sample: %w", err)
		}
		s.Mode = models.SamplingMode(mode)
		s.Sample.Timestamp = time.UnixMilli(ts)
		if prompt.Valid || completion.Valid || total.Valid {
			s.Sample.Tokens = &models.TokenCounts{
				Prompt:     prompt.Int64,
				Completion: completion.Int64,
				Total:      total.Int64,
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveSnapshot stores a quota snapshot and its model values.
func (db *DB) SaveSnapshot(credentialID string, snap models.QuotaSnapshot) error {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	captured := snap.LastUpdated
	if captured.IsZero() {
		captured = time.Now()
	}
	result, err := tx.Exec(`INSERT INTO quota_snapshots (credential_id, captured_at) VALUES (?, ?)`,
		credentialID, captured.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert quota snapshot: %w", err)
	}
	snapshotID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	for model, q := range snap.Models {
		var reset sql.NullInt64
		if !q.ResetTime.IsZero() {
			reset = sql.NullInt64{Int64: q.ResetTime.UnixMilli(), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO quota_model_values (snapshot_id, model, remaining, reset_time) VALUES (?, ?, ?, ?)`,
			snapshotID, model, q.Remaining, reset,
		); err != nil {
			return fmt.Errorf("failed to insert quota value %s: %w", model, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadSnapshots returns the latest snapshot of every credential captured at or after since.
func (db *DB) LoadSnapshots(since time.Time) (map[string]models.QuotaSnapshot, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT s.credential_id, s.captured_at, v.model, v.remaining, v.reset_time
		FROM quota_snapshots s
		JOIN quota_model_values v ON v.snapshot_id = s.id
		WHERE s.id IN (
			SELECT MAX(id) FROM quota_snapshots WHERE captured_at >= ? GROUP BY credential_id
		)
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query quota snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]models.QuotaSnapshot)
	for rows.Next() {
		var (
			credentialID, model, remaining string
			captured                       int64
			reset                          sql.NullInt64
		)
		if err := rows.Scan(&credentialID, &captured, &model, &remaining, &reset); err != nil {
			return nil, fmt.Errorf("failed to scan quota snapshot: %w", err)
		}
		snap, ok := out[credentialID]
		if !ok {
			snap = models.QuotaSnapshot{
				LastUpdated: time.UnixMilli(captured),
				Models:      make(map[string]models.ModelQuota),
			}
		}
		q := models.ModelQuota{Remaining: remaining}
		if reset.Valid {
			q.ResetTime = time.UnixMilli(reset.Int64)
		}
		snap.Models[model] = q
		out[credentialID] = snap
	}
	return out, rows.Err()
}

// InsertEvent records a credential lifecycle event.
func (db *DB) InsertEvent(ev *models.PoolEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	result, err := db.ExecContext(context.Background(),
		`INSERT INTO credential_events (ts, credential_id, event_type, detail) VALUES (?, ?, ?, ?)`,
		ts.UnixMilli(), ev.CredentialID, string(ev.Type), nullString(ev.Detail))
	if err != nil {
		return fmt.Errorf("failed to insert credential event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// RecentEvents returns the newest events first.
func (db *DB) RecentEvents(limit int) ([]models.PoolEvent, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, ts, credential_id, event_type, detail
		FROM credential_events
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credential events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.PoolEvent
	for rows.Next() {
		var (
			ev        models.PoolEvent
			ts        int64
			eventType string
			detail    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.CredentialID, &eventType, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan credential event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Type = models.PoolEventType(eventType)
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes samples, snapshots and events older than before.
// It returns the number of deleted rows.
func (db *DB) Prune(before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	queries := []string{
		`DELETE FROM usage_samples WHERE ts < ?`,
		`DELETE FROM quota_snapshots WHERE captured_at < ?`,
		`DELETE FROM credential_events WHERE ts < ?`,
	}

	var total int64
	for _, q := range queries {
		result, err := db.ExecContext(context.Background(), q, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// nullString converts empty strings to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
