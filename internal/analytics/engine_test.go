package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

type testEngineRig struct {
	engine     *Engine
	snapshots  *store.SnapshotRepo
	candles    *store.CandleRepo
	orderbooks *store.OrderbookRepo
	markets    *store.MarketsRepo
	events     *store.EventsRepo
	series     *store.SeriesRepo
}

func newTestEngineRig(t *testing.T) *testEngineRig {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	r := &testEngineRig{
		snapshots:  store.NewSnapshotRepo(dbs, testLogger()),
		candles:    store.NewCandleRepo(dbs),
		orderbooks: store.NewOrderbookRepo(dbs),
		markets:    store.NewMarketsRepo(dbs),
		events:     store.NewEventsRepo(dbs),
		series:     store.NewSeriesRepo(dbs),
	}
	r.engine = NewEngine(r.snapshots, r.candles, r.orderbooks, r.markets, r.events, r.series, testLogger())
	return r
}

func TestEngine_Compute_ReturnsNilWhenNoSnapshotExists(t *testing.T) {
	rig := newTestEngineRig(t)
	feature, err := rig.engine.Compute(context.Background(), "NEVER-SEEN")
	require.NoError(t, err)
	require.Nil(t, feature)
}

func TestEngine_Compute_L1FieldsDerivedFromLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	rig := newTestEngineRig(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, rig.markets.Upsert(ctx, domain.Market{Ticker: "TICK-A", MarketType: "binary"}))
	_, err := rig.snapshots.BulkAppend(ctx, []domain.MarketSnapshot{{
		ID: "snap-1", Ticker: "TICK-A", GenerateDate: now,
		YesBidCents: 40, YesAskCents: 50, NoBidCents: 50, NoAskCents: 60,
		Volume24h: 1000, Status: "open",
	}})
	require.NoError(t, err)

	feature, err := rig.engine.Compute(ctx, "TICK-A")
	require.NoError(t, err)
	require.NotNil(t, feature)

	require.Equal(t, 0.40, feature.YesBidProb)
	require.Equal(t, 0.50, feature.YesAskProb)
	require.Equal(t, 0.45, feature.MidProb)
	require.InDelta(t, 0.10, feature.BidAskSpread, 1e-9)
	require.Equal(t, "binary", feature.MarketType)
	require.Equal(t, "open", feature.Status)
	require.Equal(t, 1000.0, feature.Volume24h)
}

func TestEngine_Compute_L2ReturnUsesPastSnapshot(t *testing.T) {
	ctx := context.Background()
	rig := newTestEngineRig(t)

	now := time.Now().UTC().Truncate(time.Second)
	within1h := now.Add(-2 * time.Hour)   // qualifies for the 1h-ago lookup (<= now-1h)
	within24h := now.Add(-30 * time.Hour) // qualifies for the 24h-ago lookup (<= now-24h)

	_, err := rig.snapshots.BulkAppend(ctx, []domain.MarketSnapshot{
		{ID: "snap-24h", Ticker: "TICK-A", GenerateDate: within24h, YesBidCents: 10, YesAskCents: 35}, // mid=0.225
		{ID: "snap-1h", Ticker: "TICK-A", GenerateDate: within1h, YesBidCents: 20, YesAskCents: 30},   // mid=0.25
		{ID: "snap-now", Ticker: "TICK-A", GenerateDate: now, YesBidCents: 40, YesAskCents: 50},       // mid=0.45
	})
	require.NoError(t, err)

	feature, err := rig.engine.Compute(ctx, "TICK-A")
	require.NoError(t, err)
	require.NotNil(t, feature)

	require.InDelta(t, 0.8, feature.Return1h, 1e-9)  // (0.45-0.25)/0.25
	require.InDelta(t, 1.0, feature.Return24h, 1e-9) // (0.45-0.225)/0.225
}

func TestEngine_Compute_L3OrderbookImbalanceAndCategoryFallback(t *testing.T) {
	ctx := context.Background()
	rig := newTestEngineRig(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, rig.markets.Upsert(ctx, domain.Market{Ticker: "TICK-A", EventTicker: "EVT-A"}))
	require.NoError(t, rig.events.Upsert(ctx, domain.Event{EventTicker: "EVT-A", SeriesTicker: "SER-A", Category: ""}))
	require.NoError(t, rig.series.Upsert(ctx, domain.Series{Ticker: "SER-A", Category: "politics"}))

	_, err := rig.snapshots.BulkAppend(ctx, []domain.MarketSnapshot{{
		ID: "snap-1", Ticker: "TICK-A", GenerateDate: now, YesBidCents: 40, YesAskCents: 50,
	}})
	require.NoError(t, err)

	require.NoError(t, rig.orderbooks.InsertSnapshot(ctx, domain.OrderbookSnapshot{
		MarketID: "TICK-A", CapturedAt: now,
		YesLevels:    []domain.PriceLevel{{PriceCents: 40, Size: 30}},
		NoLevels:     []domain.PriceLevel{{PriceCents: 50, Size: 10}},
		LiquidityYes: 30,
		LiquidityNo:  10,
	}))

	feature, err := rig.engine.Compute(ctx, "TICK-A")
	require.NoError(t, err)
	require.NotNil(t, feature)

	require.Equal(t, 30.0, feature.TotalLiquidityYes)
	require.Equal(t, 10.0, feature.TotalLiquidityNo)
	require.InDelta(t, 0.5, feature.OrderbookImbalance, 1e-9) // (30-10)/(30+10)
	require.Equal(t, "politics", feature.Category, "event has no category, falls back to series")
}
