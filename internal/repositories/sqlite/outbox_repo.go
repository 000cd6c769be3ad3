package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yoockh/yoocall/internal/models"
)

// OutboxRepo is the default outbox: a single-file SQLite table, so parked
// submissions survive restarts without extra infrastructure.
type OutboxRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func OpenOutbox(ctx context.Context, path string) (*OutboxRepo, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &OutboxRepo{db: db, clock: time.Now}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *OutboxRepo) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS submission_outbox (
    session_id TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_status_updated ON submission_outbox(status, updated_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *OutboxRepo) Close() error { return r.db.Close() }

// Save upserts by session id. A re-parked record goes back to pending and
// accumulates attempts.
func (r *OutboxRepo) Save(ctx context.Context, e *models.OutboxEntry) error {
	now := r.clock().UTC().UnixMilli()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO submission_outbox(session_id, payload, status, attempts, last_error, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   payload=excluded.payload,
		   status=excluded.status,
		   attempts=submission_outbox.attempts + excluded.attempts,
		   last_error=excluded.last_error,
		   updated_at=excluded.updated_at`,
		e.SessionID, []byte(e.Payload), string(models.OutboxPending), e.Attempts, e.LastError, now, now)
	return err
}

// ListPending returns the oldest pending rows first.
func (r *OutboxRepo) ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, payload, status, attempts, COALESCE(last_error, ''), created_at, updated_at
		 FROM submission_outbox WHERE status = ? ORDER BY updated_at ASC LIMIT ?`,
		string(models.OutboxPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutboxEntry
	for rows.Next() {
		var (
			e                  models.OutboxEntry
			payload            []byte
			status             string
			created, updatedAt int64
		)
		if err := rows.Scan(&e.SessionID, &payload, &status, &e.Attempts, &e.LastError, &created, &updatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		e.Status = models.OutboxStatus(status)
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submission_outbox SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(models.OutboxDelivered), r.clock().UTC().UnixMilli(), sessionID)
	return err
}

func (r *OutboxRepo) RecordFailure(ctx context.Context, sessionID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submission_outbox SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE session_id = ?`,
		reason, r.clock().UTC().UnixMilli(), sessionID)
	return err
}

func (r *OutboxRepo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submission_outbox WHERE status = ?`, string(models.OutboxPending)).Scan(&n)
	return n, err
}

// PurgeDelivered drops delivered rows older than the cutoff.
func (r *OutboxRepo) PurgeDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.clock().Add(-olderThan).UTC().UnixMilli()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM submission_outbox WHERE status = ? AND updated_at < ?`,
		string(models.OutboxDelivered), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
