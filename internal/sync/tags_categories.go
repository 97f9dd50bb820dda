package sync

import (
	"context"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamTags is the subset of the kalshi client the tags/categories
// consumer depends on.
type UpstreamTags interface {
	TagsForSeriesCategories(ctx context.Context) (kalshi.CategoryTags, error)
}

// TagsCategoriesConsumer handles bus.KindSyncMarketCategories messages.
type TagsCategoriesConsumer struct {
	upstream UpstreamTags
	tags     *store.TagsRepo
	now      func() time.Time
}

// NewTagsCategoriesConsumer builds a TagsCategoriesConsumer.
func NewTagsCategoriesConsumer(upstream UpstreamTags, tags *store.TagsRepo) *TagsCategoriesConsumer {
	return &TagsCategoriesConsumer{upstream: upstream, tags: tags, now: time.Now}
}

// Handle fetches the tags-by-category map and diffs it against the stored
// dimension in one pass (§4.4): present rows upserted, absent rows
// soft-deleted, previously-deleted rows restored.
func (c *TagsCategoriesConsumer) Handle(ctx context.Context) error {
	fetched, err := c.upstream.TagsForSeriesCategories(ctx)
	if err != nil {
		return err
	}
	return c.tags.Sync(ctx, fetched, c.now())
}
