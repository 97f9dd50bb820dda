package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/store"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	return NewManager(dbs.Ops.Conn(), testLogger())
}

type envelope struct{ Value string }

func TestPublishClaim_RoundTripsPayload(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{Value: "hello"}, QueueOptions{})
	require.NoError(t, err)

	msgs, err := m.Claim(ctx, KindSyncOrderbook, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got envelope
	require.NoError(t, msgs[0].Decode(&got))
	require.Equal(t, "hello", got.Value)
	require.Equal(t, 1, msgs[0].Attempts)
}

func TestClaim_RespectsPrefetchLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for i := 0; i < 5; i++ {
		_, err := m.Publish(ctx, KindSyncOrderbook, envelope{Value: "x"}, QueueOptions{})
		require.NoError(t, err)
	}

	msgs, err := m.Claim(ctx, KindSyncOrderbook, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	remaining := m.Stats(ctx, KindSyncOrderbook)
	require.Equal(t, 5, remaining.Messages)
	require.Equal(t, 2, remaining.MessagesUnacknowledged)
	require.Equal(t, 3, remaining.MessagesReady)
}

func TestClaim_LeaseExpiryAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{Value: "x"}, QueueOptions{})
	require.NoError(t, err)

	first, err := m.Claim(ctx, KindSyncOrderbook, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// lease still held: a second claim should see nothing available yet
	second, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, second)

	time.Sleep(20 * time.Millisecond)
	third, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, third, 1, "expired lease should allow reclaim")
}

func TestAck_RemovesMessageFromActiveQueue(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Publish(ctx, KindSyncOrderbook, envelope{}, QueueOptions{})
	require.NoError(t, err)
	msgs, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, m.Ack(ctx, id))
	require.Equal(t, 0, m.Stats(ctx, KindSyncOrderbook).Messages)
}

func TestNack_RetriesWithBackoffWhenAttemptsRemain(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{}, QueueOptions{MaxAttempts: 3})
	require.NoError(t, err)
	msgs, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Nack(ctx, msgs[0], true, errors.New("transient"), QueueOptions{BaseBackoff: time.Millisecond}))

	stats := m.Stats(ctx, KindSyncOrderbook)
	require.Equal(t, 1, stats.Messages, "message should still be active, not dead-lettered")
	require.Equal(t, 0, stats.MessagesUnacknowledged, "retried message returns to ready state")
}

func TestNack_DeadLettersWhenAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{}, QueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	msgs, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Nack(ctx, msgs[0], true, errors.New("fatal"), QueueOptions{}))
	require.Equal(t, 0, m.Stats(ctx, KindSyncOrderbook).Messages, "exhausted message leaves the active queue")
}

func TestNack_NonRetryableErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{}, QueueOptions{MaxAttempts: 5})
	require.NoError(t, err)
	msgs, err := m.Claim(ctx, KindSyncOrderbook, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Nack(ctx, msgs[0], false, errors.New("non-retryable"), QueueOptions{}))
	require.Equal(t, 0, m.Stats(ctx, KindSyncOrderbook).Messages)
}

func TestPurgeAll_DeletesOnlyRequestedKinds(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Publish(ctx, KindSyncOrderbook, envelope{}, QueueOptions{})
	require.NoError(t, err)
	_, err = m.Publish(ctx, KindSyncCandlesticks, envelope{}, QueueOptions{})
	require.NoError(t, err)

	purged, errs := m.PurgeAll(ctx, []Kind{KindSyncOrderbook})
	require.Empty(t, errs)
	require.Equal(t, []Kind{KindSyncOrderbook}, purged)

	require.Equal(t, 0, m.Stats(ctx, KindSyncOrderbook).Messages)
	require.Equal(t, 1, m.Stats(ctx, KindSyncCandlesticks).Messages, "untouched kind should remain")
}

func TestAllKinds_ListsAllNineQueues(t *testing.T) {
	kinds := AllKinds()
	require.Len(t, kinds, 9)
	require.Contains(t, kinds, KindSyncEventDetail)
	require.Contains(t, kinds, KindCleanupMarket)
}
