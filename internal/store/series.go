package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// SeriesRepo owns the series dimension table: exclusively written by the
// series and tags/categories sync families, latest version wins by LastUpdate.
type SeriesRepo struct {
	db *sql.DB
}

// NewSeriesRepo wraps the dimensions database connection.
func NewSeriesRepo(db *Databases) *SeriesRepo {
	return &SeriesRepo{db: db.Dimensions.Conn()}
}

// Upsert replacement-writes a Series row. Re-applying the same Series is
// idempotent: state and LastUpdate converge to the same values (invariant 6).
func (r *SeriesRepo) Upsert(ctx context.Context, s domain.Series) error {
	tags, err := json.Marshal(dedupeTags(s.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO series (ticker, title, category, tags, frequency, metadata, last_update, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			tags = excluded.tags,
			frequency = excluded.frequency,
			metadata = excluded.metadata,
			last_update = excluded.last_update,
			deleted = excluded.deleted
	`, s.Ticker, s.Title, s.Category, string(tags), s.Frequency, s.Metadata, s.LastUpdate.Unix(), boolToInt(s.Deleted))
	return err
}

// SoftDelete marks a series deleted without removing the row.
func (r *SeriesRepo) SoftDelete(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE series SET deleted = 1, last_update = ? WHERE ticker = ?`, at.Unix(), ticker)
	return err
}

// Get returns one series by ticker, or nil if not found.
func (r *SeriesRepo) Get(ctx context.Context, ticker string) (*domain.Series, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT ticker, title, category, tags, frequency, metadata, last_update, deleted
		FROM series WHERE ticker = ?`, ticker)
	return scanSeries(row)
}

func scanSeries(row *sql.Row) (*domain.Series, error) {
	var s domain.Series
	var tagsJSON string
	var lastUpdate int64
	var deleted int
	if err := row.Scan(&s.Ticker, &s.Title, &s.Category, &tagsJSON, &s.Frequency, &s.Metadata, &lastUpdate, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &s.Tags)
	s.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	s.Deleted = deleted != 0
	return &s, nil
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
