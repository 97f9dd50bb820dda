package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

type mockUpstreamTags struct{ mock.Mock }

func (m *mockUpstreamTags) TagsForSeriesCategories(ctx context.Context) (kalshi.CategoryTags, error) {
	args := m.Called(ctx)
	return args.Get(0).(kalshi.CategoryTags), args.Error(1)
}

func newTestTagsConsumer(t *testing.T, upstream UpstreamTags) (*TagsCategoriesConsumer, *store.TagsRepo) {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	tags := store.NewTagsRepo(dbs)
	return NewTagsCategoriesConsumer(upstream, tags), tags
}

func TestTagsCategoriesConsumer_Handle_RestoresReappearingPairAndDeletesMissingOne(t *testing.T) {
	ctx := context.Background()
	upstream := new(mockUpstreamTags)
	consumer, tags := newTestTagsConsumer(t, upstream)

	// seed a previously-deleted pair and a pair that will go missing
	require.NoError(t, tags.Upsert(ctx, "politics", "election", time.Now()))
	require.NoError(t, tags.SoftDelete(ctx, "politics", "election", time.Now()))
	require.NoError(t, tags.Upsert(ctx, "sports", "playoffs", time.Now()))

	upstream.On("TagsForSeriesCategories", mock.Anything).Return(kalshi.CategoryTags{
		"politics": {"election"}, // reappears, should be restored
	}, nil)

	require.NoError(t, consumer.Handle(ctx))

	rows, err := tags.ListAll(ctx)
	require.NoError(t, err)

	byKey := map[string]bool{}
	for _, r := range rows {
		byKey[r.Category+"/"+r.Tag] = r.Deleted
	}
	require.Contains(t, byKey, "politics/election")
	require.False(t, byKey["politics/election"], "reappearing pair should be restored")
	require.Contains(t, byKey, "sports/playoffs")
	require.True(t, byKey["sports/playoffs"], "missing pair should be soft-deleted")

	upstream.AssertExpectations(t)
}

func TestTagsCategoriesConsumer_Handle_PropagatesUpstreamError(t *testing.T) {
	ctx := context.Background()
	upstream := new(mockUpstreamTags)
	consumer, _ := newTestTagsConsumer(t, upstream)

	boom := errors.New("upstream unavailable")
	upstream.On("TagsForSeriesCategories", mock.Anything).Return(kalshi.CategoryTags(nil), boom)

	err := consumer.Handle(ctx)
	require.ErrorIs(t, err, boom)
}
