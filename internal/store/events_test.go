package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

func TestEventsRepo_UpsertAndGet_RoundTrips(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewEventsRepo(dbs)

	strike := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	require.NoError(t, r.Upsert(ctx, domain.Event{
		EventTicker: "EVT-A", SeriesTicker: "SER-A", Category: "politics",
		StrikeDate: strike, MutuallyExcl: true, LastUpdate: time.Now().UTC(),
	}))

	got, err := r.Get(ctx, "EVT-A")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "SER-A", got.SeriesTicker)
	require.True(t, got.MutuallyExcl)
	require.Equal(t, strike.Unix(), got.StrikeDate.Unix())
}

func TestEventsRepo_Upsert_ZeroStrikeDateStoresAsNull(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewEventsRepo(dbs)

	require.NoError(t, r.Upsert(ctx, domain.Event{EventTicker: "EVT-A", LastUpdate: time.Now().UTC()}))

	got, err := r.Get(ctx, "EVT-A")
	require.NoError(t, err)
	require.True(t, got.StrikeDate.IsZero())
}

func TestEventsRepo_SoftDelete_MarksRowDeleted(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewEventsRepo(dbs)

	now := time.Now().UTC()
	require.NoError(t, r.Upsert(ctx, domain.Event{EventTicker: "EVT-A", LastUpdate: now}))
	require.NoError(t, r.SoftDelete(ctx, "EVT-A", now.Add(time.Minute)))

	got, err := r.Get(ctx, "EVT-A")
	require.NoError(t, err)
	require.True(t, got.Deleted)
}

func TestSeriesKeyFor_PrefersEventTickerOverMarketTicker(t *testing.T) {
	require.Equal(t, "EVT-A", SeriesKeyFor("EVT-A", "TICK-A"))
	require.Equal(t, "TICK-A", SeriesKeyFor("", "TICK-A"))
}
