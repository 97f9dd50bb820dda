package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

func TestMarketsRepo_UpsertAndGet_RoundTrips(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewMarketsRepo(dbs)

	require.NoError(t, r.Upsert(ctx, domain.Market{Ticker: "TICK-A", EventTicker: "EVT-A", Title: "Will X happen?", MarketType: "binary"}))

	got, err := r.Get(ctx, "TICK-A")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "EVT-A", got.EventTicker)
	require.Equal(t, "binary", got.MarketType)
}

func TestMarketsRepo_Upsert_ReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewMarketsRepo(dbs)

	require.NoError(t, r.Upsert(ctx, domain.Market{Ticker: "TICK-A", Title: "Old title"}))
	require.NoError(t, r.Upsert(ctx, domain.Market{Ticker: "TICK-A", Title: "New title"}))

	got, err := r.Get(ctx, "TICK-A")
	require.NoError(t, err)
	require.Equal(t, "New title", got.Title)
}

func TestMarketsRepo_Get_ReturnsNilForUnknownTicker(t *testing.T) {
	ctx := context.Background()
	dbs, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dbs.Close()
	r := NewMarketsRepo(dbs)

	got, err := r.Get(ctx, "NEVER-SEEN")
	require.NoError(t, err)
	require.Nil(t, got)
}
