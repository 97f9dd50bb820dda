package charts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

type mockUpstreamCandles struct{ mock.Mock }

func (m *mockUpstreamCandles) GetCandlesticks(ctx context.Context, p kalshi.GetCandlesticksParams) ([]kalshi.Candlestick, error) {
	args := m.Called(ctx, p)
	return args.Get(0).([]kalshi.Candlestick), args.Error(1)
}

func newTestService(t *testing.T, upstream UpstreamCandles) *Service {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	return NewService(upstream, store.NewCandleRepo(dbs), store.NewMarketsRepo(dbs), store.NewEventsRepo(dbs), testLogger())
}

func closePtr(v int) *int { return &v }

func TestSync_NoStoredCandlesBackfillsFromThirtyDayWindow(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	upstream := new(mockUpstreamCandles)
	upstream.On("GetCandlesticks", mock.Anything, mock.MatchedBy(func(p kalshi.GetCandlesticksParams) bool {
		return p.Ticker == "TICK" && p.StartTs == now.Add(-defaultLookback).Unix() && p.EndTs == now.Unix()
	})).Return([]kalshi.Candlestick{
		{EndPeriodTs: now.Add(-time.Hour).Unix(), YesBidOpen: 40, YesBidLow: 38, YesBidHigh: 50, YesBidClose: closePtr(45)},
	}, nil)

	svc := newTestService(t, upstream)
	inserted, err := svc.Sync(context.Background(), "TICK", domain.PeriodOneDay, now)

	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	upstream.AssertExpectations(t)
}

func TestSync_ResolvesSeriesTickerFromMarketAndEvent(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	ctx := context.Background()

	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	require.NoError(t, store.NewMarketsRepo(dbs).Upsert(ctx, domain.Market{Ticker: "KXHIGHNY-25JUL21-B69.5", EventTicker: "KXHIGHNY-25JUL21"}))
	require.NoError(t, store.NewEventsRepo(dbs).Upsert(ctx, domain.Event{
		EventTicker: "KXHIGHNY-25JUL21", SeriesTicker: "KXHIGHNY", LastUpdate: now,
	}))

	upstream := new(mockUpstreamCandles)
	upstream.On("GetCandlesticks", mock.Anything, mock.MatchedBy(func(p kalshi.GetCandlesticksParams) bool {
		return p.SeriesTicker == "KXHIGHNY" && p.Ticker == "KXHIGHNY-25JUL21-B69.5"
	})).Return([]kalshi.Candlestick{}, nil)

	svc := NewService(upstream, store.NewCandleRepo(dbs), store.NewMarketsRepo(dbs), store.NewEventsRepo(dbs), testLogger())
	_, err = svc.Sync(ctx, "KXHIGHNY-25JUL21-B69.5", domain.PeriodOneDay, now)

	require.NoError(t, err)
	upstream.AssertExpectations(t)
}

func TestSync_UnknownMarketFallsBackToTickerAsSeriesTicker(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	upstream := new(mockUpstreamCandles)
	upstream.On("GetCandlesticks", mock.Anything, mock.MatchedBy(func(p kalshi.GetCandlesticksParams) bool {
		return p.SeriesTicker == "TICK" && p.Ticker == "TICK"
	})).Return([]kalshi.Candlestick{}, nil)

	svc := newTestService(t, upstream)
	_, err := svc.Sync(context.Background(), "TICK", domain.PeriodOneDay, now)

	require.NoError(t, err)
	upstream.AssertExpectations(t)
}

func TestSync_FreshStoredSeriesSkipsUpstreamFetch(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	upstream := new(mockUpstreamCandles) // no .On(...) calls expected at all

	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	candles := store.NewCandleRepo(dbs)
	require.NoError(t, candles.Insert(context.Background(), domain.Candlestick{
		Ticker: "TICK", PeriodInterval: domain.PeriodOneDay,
		EndPeriodTs: now.Add(-time.Hour), // within freshnessWindow
	}))

	svc := NewService(upstream, candles, store.NewMarketsRepo(dbs), store.NewEventsRepo(dbs), testLogger())
	inserted, err := svc.Sync(context.Background(), "TICK", domain.PeriodOneDay, now)

	require.NoError(t, err)
	require.Equal(t, 0, inserted)
	upstream.AssertExpectations(t)
}

func TestSync_DuplicateFetchedBucketsAreSkipped(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	existingEnd := now.Add(-48 * time.Hour)

	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	candles := store.NewCandleRepo(dbs)
	require.NoError(t, candles.Insert(context.Background(), domain.Candlestick{
		Ticker: "TICK", PeriodInterval: domain.PeriodOneDay, EndPeriodTs: existingEnd,
	}))

	upstream := new(mockUpstreamCandles)
	upstream.On("GetCandlesticks", mock.Anything, mock.Anything).Return([]kalshi.Candlestick{
		{EndPeriodTs: existingEnd.Unix(), YesBidOpen: 5, YesBidLow: 5, YesBidHigh: 15, YesBidClose: closePtr(10)}, // already stored
		{EndPeriodTs: now.Add(-time.Hour).Unix(), YesBidOpen: 15, YesBidLow: 15, YesBidHigh: 25, YesBidClose: closePtr(20)},
	}, nil)

	svc := NewService(upstream, candles, store.NewMarketsRepo(dbs), store.NewEventsRepo(dbs), testLogger())
	inserted, err := svc.Sync(context.Background(), "TICK", domain.PeriodOneDay, now)

	require.NoError(t, err)
	require.Equal(t, 1, inserted, "only the genuinely new bucket should be inserted")
}

func TestListChart_PrefersLastTradeCloseOverYesBid(t *testing.T) {
	ctx := context.Background()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	candles := store.NewCandleRepo(dbs)

	end := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, candles.Insert(ctx, domain.Candlestick{
		Ticker: "TICK", PeriodInterval: domain.PeriodOneDay, EndPeriodTs: end,
		YesBid:    domain.OHLC{Open: 40, Low: 38, High: 50, Close: closePtr(44)},
		LastTrade: domain.OHLC{Open: 41, Low: 39, High: 49, Close: closePtr(47)},
	}))

	svc := NewService(new(mockUpstreamCandles), candles, store.NewMarketsRepo(dbs), store.NewEventsRepo(dbs), testLogger())
	points, err := svc.ListChart(ctx, "TICK", domain.PeriodOneDay, end.Add(-time.Hour), end.Add(time.Hour))

	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 47, points[0].Value)
}
