package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

func TestDiff_NoPriorSnapshotYieldsAddForEveryLevel(t *testing.T) {
	at := time.Now()
	next := domain.OrderbookSnapshot{
		YesLevels: []domain.PriceLevel{{PriceCents: 45, Size: 100}, {PriceCents: 50, Size: 200}},
		NoLevels:  []domain.PriceLevel{{PriceCents: 55, Size: 50}},
	}

	events := Diff("TICK", domain.OrderbookSnapshot{}, next, at)

	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, domain.EventAdd, e.Type)
		assert.Equal(t, "TICK", e.MarketID)
		assert.Equal(t, at, e.EventTime)
	}
}

func TestDiff_RemovedLevelYieldsRemoveWithZeroSize(t *testing.T) {
	prev := domain.OrderbookSnapshot{YesLevels: []domain.PriceLevel{{PriceCents: 45, Size: 100}}}
	next := domain.OrderbookSnapshot{}

	events := Diff("TICK", prev, next, time.Now())

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRemove, events[0].Type)
	assert.Equal(t, int64(0), events[0].Size)
	assert.Equal(t, domain.SideYes, events[0].Side)
}

func TestDiff_ChangedSizeYieldsUpdate(t *testing.T) {
	prev := domain.OrderbookSnapshot{NoLevels: []domain.PriceLevel{{PriceCents: 30, Size: 10}}}
	next := domain.OrderbookSnapshot{NoLevels: []domain.PriceLevel{{PriceCents: 30, Size: 25}}}

	events := Diff("TICK", prev, next, time.Now())

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventUpdate, events[0].Type)
	assert.Equal(t, int64(25), events[0].Size)
	assert.Equal(t, domain.SideNo, events[0].Side)
}

func TestDiff_UnchangedLevelYieldsNoEvent(t *testing.T) {
	level := domain.PriceLevel{PriceCents: 40, Size: 5}
	prev := domain.OrderbookSnapshot{YesLevels: []domain.PriceLevel{level}}
	next := domain.OrderbookSnapshot{YesLevels: []domain.PriceLevel{level}}

	events := Diff("TICK", prev, next, time.Now())

	assert.Empty(t, events)
}

func TestDiff_BothSidesChangeIndependently(t *testing.T) {
	prev := domain.OrderbookSnapshot{
		YesLevels: []domain.PriceLevel{{PriceCents: 45, Size: 100}},
		NoLevels:  []domain.PriceLevel{{PriceCents: 55, Size: 50}},
	}
	next := domain.OrderbookSnapshot{
		YesLevels: []domain.PriceLevel{{PriceCents: 46, Size: 100}},
		NoLevels:  []domain.PriceLevel{{PriceCents: 55, Size: 75}},
	}

	events := Diff("TICK", prev, next, time.Now())

	require.Len(t, events, 3) // YES 45 removed, YES 46 added, NO 55 updated
}
