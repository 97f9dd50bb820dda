package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// TagsRepo owns the tags_categories dimension table, diffed in one pass by
// the tags/categories sync family: present rows are upserted (restoring any
// prior soft-delete), absent rows are soft-deleted (§4.4).
type TagsRepo struct {
	db *sql.DB
}

// NewTagsRepo wraps the dimensions database connection.
func NewTagsRepo(db *Databases) *TagsRepo {
	return &TagsRepo{db: db.Dimensions.Conn()}
}

// ListAll returns every stored (category, tag) pair, soft-deleted ones
// included (see Deleted).
func (r *TagsRepo) ListAll(ctx context.Context) ([]domain.TagsCategory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, tag, last_update, deleted FROM tags_categories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TagsCategory
	for rows.Next() {
		var t domain.TagsCategory
		var lastUpdate int64
		var deleted int
		if err := rows.Scan(&t.Category, &t.Tag, &lastUpdate, &deleted); err != nil {
			return nil, err
		}
		t.LastUpdate = time.Unix(lastUpdate, 0).UTC()
		t.Deleted = deleted != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert restores or inserts a (category, tag) pair with a bumped timestamp.
func (r *TagsRepo) Upsert(ctx context.Context, category, tag string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tags_categories (category, tag, last_update, deleted)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(category, tag) DO UPDATE SET
			last_update = excluded.last_update,
			deleted = 0
	`, category, tag, at.Unix())
	return err
}

// SoftDelete marks a (category, tag) pair deleted because it no longer
// appears in the upstream tags-by-category response.
func (r *TagsRepo) SoftDelete(ctx context.Context, category, tag string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tags_categories SET deleted = 1, last_update = ? WHERE category = ? AND tag = ?
	`, at.Unix(), category, tag)
	return err
}

// Sync diffs the upstream tags-by-category map against stored rows: present
// pairs are upserted (reappearing pairs are restored), stored pairs absent
// from the response are soft-deleted. One pass, no pagination (§4.4).
func (r *TagsRepo) Sync(ctx context.Context, upstream map[string][]string, at time.Time) error {
	present := make(map[string]struct{})
	for category, tags := range upstream {
		for _, tag := range tags {
			present[category+"\x00"+tag] = struct{}{}
			if err := r.Upsert(ctx, category, tag, at); err != nil {
				return err
			}
		}
	}

	stored, err := r.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if s.Deleted {
			continue
		}
		if _, ok := present[s.Category+"\x00"+s.Tag]; !ok {
			if err := r.SoftDelete(ctx, s.Category, s.Tag, at); err != nil {
				return err
			}
		}
	}
	return nil
}
