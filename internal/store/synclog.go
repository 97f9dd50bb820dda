package store

import (
	"context"
	"database/sql"
	"time"
)

// SyncLogRepo records what the dispatcher enqueued for each sync family (§3).
type SyncLogRepo struct {
	db *sql.DB
}

// NewSyncLogRepo wraps the ops database connection.
func NewSyncLogRepo(db *Databases) *SyncLogRepo {
	return &SyncLogRepo{db: db.Ops.Conn()}
}

// Record writes one sync-log row.
func (r *SyncLogRepo) Record(ctx context.Context, id, family, cursor string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, family, cursor, enqueued_at) VALUES (?,?,?,?)`, id, family, cursor, at.Unix())
	return err
}

// CleanupCounterRepo tracks per-ticker cleanup progress (§3).
type CleanupCounterRepo struct {
	db *sql.DB
}

// NewCleanupCounterRepo wraps the ops database connection.
func NewCleanupCounterRepo(db *Databases) *CleanupCounterRepo {
	return &CleanupCounterRepo{db: db.Ops.Conn()}
}

// MarkQueued records that a cleanup-market job was enqueued for a ticker.
func (r *CleanupCounterRepo) MarkQueued(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cleanup_counter (ticker, queued_at, cleaned_at)
		VALUES (?, ?, NULL)
		ON CONFLICT(ticker) DO UPDATE SET queued_at = excluded.queued_at
	`, ticker, at.Unix())
	return err
}

// IsCleaned reports whether a ticker has already been cleaned, making
// redelivery of its cleanup-market message a no-op (invariant 8).
func (r *CleanupCounterRepo) IsCleaned(ctx context.Context, ticker string) (bool, error) {
	var cleanedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT cleaned_at FROM cleanup_counter WHERE ticker = ?`, ticker).Scan(&cleanedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cleanedAt.Valid, nil
}

// MarkCleaned records that a ticker's cascading delete completed.
func (r *CleanupCounterRepo) MarkCleaned(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cleanup_counter (ticker, queued_at, cleaned_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET cleaned_at = excluded.cleaned_at
	`, ticker, at.Unix(), at.Unix())
	return err
}
