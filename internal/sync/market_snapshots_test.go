package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

type mockUpstreamMarkets struct{ mock.Mock }

func (m *mockUpstreamMarkets) ListMarkets(ctx context.Context, p kalshi.ListMarketsParams) (kalshi.Page[kalshi.Market], error) {
	args := m.Called(ctx, p)
	return args.Get(0).(kalshi.Page[kalshi.Market]), args.Error(1)
}

func yesBid(v int) *int { return &v }

func TestMarketSnapshotConsumer_Handle_AppendsRowsAndPublishesContinuation(t *testing.T) {
	ctx := context.Background()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	d, b := newTestDispatcher(t)
	snapshots := store.NewSnapshotRepo(dbs, testLogger())

	upstream := new(mockUpstreamMarkets)
	upstream.On("ListMarkets", mock.Anything, mock.Anything).Return(kalshi.Page[kalshi.Market]{
		Items:  []kalshi.Market{{Ticker: "TICK-A", Status: "open", YesBid: yesBid(40), YesAsk: yesBid(45)}},
		Cursor: "next-page",
	}, nil)

	consumer := NewMarketSnapshotConsumer(upstream, snapshots, d)
	require.NoError(t, consumer.Handle(ctx, dispatch.MarketSnapshotFilters{Status: "open"}))

	latest, err := snapshots.LatestForTicker(ctx, "TICK-A")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, 40, latest.YesBidCents)

	assert1Message(t, b, bus.KindSyncMarketSnapshots)
	upstream.AssertExpectations(t)
}

func TestMarketSnapshotConsumer_Handle_RateLimitIsAckedAndDropped(t *testing.T) {
	ctx := context.Background()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	d, _ := newTestDispatcher(t)
	snapshots := store.NewSnapshotRepo(dbs, testLogger())

	upstream := new(mockUpstreamMarkets)
	upstream.On("ListMarkets", mock.Anything, mock.Anything).Return(
		kalshi.Page[kalshi.Market]{}, domain.New(domain.KindRateLimitExceeded, "kalshi.ListMarkets", nil),
	)

	consumer := NewMarketSnapshotConsumer(upstream, snapshots, d)
	require.NoError(t, consumer.Handle(ctx, dispatch.MarketSnapshotFilters{}))
}

func TestMarketSnapshotConsumer_Handle_NoCursorMeansNoContinuation(t *testing.T) {
	ctx := context.Background()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	d, b := newTestDispatcher(t)
	snapshots := store.NewSnapshotRepo(dbs, testLogger())

	upstream := new(mockUpstreamMarkets)
	upstream.On("ListMarkets", mock.Anything, mock.Anything).Return(kalshi.Page[kalshi.Market]{
		Items: []kalshi.Market{{Ticker: "TICK-B", Status: "open", YesBid: yesBid(10), YesAsk: yesBid(12)}},
	}, nil)

	consumer := NewMarketSnapshotConsumer(upstream, snapshots, d)
	require.NoError(t, consumer.Handle(ctx, dispatch.MarketSnapshotFilters{}))

	assert0Messages(t, b, bus.KindSyncMarketSnapshots)
}
