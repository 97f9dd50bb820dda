package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/config"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
	appsync "github.com/aristath/kalshi-sentinel/internal/sync"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func newTestBus(t *testing.T) *bus.Manager {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	return bus.NewManager(dbs.Ops.Conn(), testLogger())
}

func publish(t *testing.T, b *bus.Manager, kind bus.Kind, payload interface{}) string {
	t.Helper()
	id, err := b.Publish(context.Background(), kind, payload, bus.QueueOptions{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	return id
}

func countMessages(t *testing.T, b *bus.Manager, kind bus.Kind) int {
	t.Helper()
	return b.Stats(context.Background(), kind).Messages
}

func TestPool_Finish_AcksOnSuccess(t *testing.T) {
	b := newTestBus(t)
	id := publish(t, b, bus.KindSyncOrderbook, struct{}{})
	msgs, err := b.Claim(context.Background(), bus.KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	p := &Pool{bus: b, log: testLogger()}
	p.finish(context.Background(), msgs[0], config.QueueConfig{}, nil, testLogger())

	assert.Equal(t, 0, countMessages(t, b, bus.KindSyncOrderbook))
	_ = id
}

func TestPool_Finish_DropsRateLimitWithoutRetry(t *testing.T) {
	b := newTestBus(t)
	publish(t, b, bus.KindSyncOrderbook, struct{}{})
	msgs, err := b.Claim(context.Background(), bus.KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	p := &Pool{bus: b, log: testLogger()}
	rateLimited := domain.New(domain.KindRateLimitExceeded, "test", nil)
	p.finish(context.Background(), msgs[0], config.QueueConfig{MaxRetries: 5}, rateLimited, testLogger())

	assert.Equal(t, 0, countMessages(t, b, bus.KindSyncOrderbook), "rate-limited message must be acked, not retried")
}

func TestPool_Finish_RetriesTransientErrorWithinBudget(t *testing.T) {
	b := newTestBus(t)
	publish(t, b, bus.KindSyncOrderbook, struct{}{})
	msgs, err := b.Claim(context.Background(), bus.KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	p := &Pool{bus: b, log: testLogger()}
	transient := domain.New(domain.KindTransientUpstream, "test", nil)
	p.finish(context.Background(), msgs[0], config.QueueConfig{MaxRetries: 5, BaseBackoff: time.Millisecond}, transient, testLogger())

	// still present, rescheduled rather than dead-lettered
	assert.Equal(t, 1, countMessages(t, b, bus.KindSyncOrderbook))
}

func TestPool_Finish_DeadLettersAfterAttemptsExhausted(t *testing.T) {
	b := newTestBus(t)
	publish(t, b, bus.KindSyncOrderbook, struct{}{})
	msgs, err := b.Claim(context.Background(), bus.KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msgs[0].MaxAttempts = 1 // already at its attempt budget

	p := &Pool{bus: b, log: testLogger()}
	transient := domain.New(domain.KindTransientUpstream, "test", nil)
	p.finish(context.Background(), msgs[0], config.QueueConfig{MaxRetries: 1}, transient, testLogger())

	assert.Equal(t, 0, countMessages(t, b, bus.KindSyncOrderbook), "exhausted message should leave the active queue")
}

type mockUpstreamTags struct{ mock.Mock }

func (m *mockUpstreamTags) TagsForSeriesCategories(ctx context.Context) (kalshi.CategoryTags, error) {
	args := m.Called(ctx)
	return args.Get(0).(kalshi.CategoryTags), args.Error(1)
}

func TestPool_StartAndWait_DrainsQueueThenStopsOnCancel(t *testing.T) {
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	b := bus.NewManager(dbs.Ops.Conn(), testLogger())
	tagsRepo := store.NewTagsRepo(dbs)

	upstream := new(mockUpstreamTags)
	upstream.On("TagsForSeriesCategories", mock.Anything).Return(kalshi.CategoryTags{"politics": {"election"}}, nil)

	consumer := appsync.NewTagsCategoriesConsumer(upstream, tagsRepo)
	publish(t, b, bus.KindSyncMarketCategories, struct{}{})

	pool := NewPool(b, map[string]config.QueueConfig{
		string(bus.KindSyncMarketCategories): {Prefetch: 1, Concurrency: 1, MaxRetries: 3, BaseBackoff: time.Millisecond},
	}, Consumers{TagsCategories: consumer}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return countMessages(t, b, bus.KindSyncMarketCategories) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
	upstream.AssertExpectations(t)
}
