package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
)

func TestToOrderbookSnapshot_ComputesBestBidAskAndSpread(t *testing.T) {
	at := time.Now()
	ob := kalshi.Orderbook{
		Ticker: "TICK",
		Yes:    []kalshi.OrderbookLevel{{Price: 40, Size: 10}, {Price: 45, Size: 20}},
		No:     []kalshi.OrderbookLevel{{Price: 52, Size: 5}, {Price: 58, Size: 15}}, // best NO ask -> complement 100-58=42
	}

	snap := toOrderbookSnapshot("TICK", ob, at)

	assert.Equal(t, "TICK", snap.MarketID)
	assert.Equal(t, at, snap.CapturedAt)
	assert.Equal(t, 45, snap.BestYesBid)          // highest YES price
	assert.Equal(t, 42, snap.BestYesAsk)          // min(100-52, 100-58) = min(48, 42)
	assert.Equal(t, -3, snap.Spread)              // 42 - 45
	assert.Equal(t, int64(30), snap.LiquidityYes) // 10 + 20
	assert.Equal(t, int64(20), snap.LiquidityNo)  // 5 + 15
}

func TestToOrderbookSnapshot_EmptySidesYieldZeroValues(t *testing.T) {
	snap := toOrderbookSnapshot("TICK", kalshi.Orderbook{}, time.Now())

	assert.Equal(t, 0, snap.BestYesBid)
	assert.Equal(t, 0, snap.BestYesAsk)
	assert.Equal(t, int64(0), snap.LiquidityYes)
	assert.Equal(t, int64(0), snap.LiquidityNo)
	assert.Empty(t, snap.YesLevels)
	assert.Empty(t, snap.NoLevels)
}

func TestToPriceLevels_MapsPriceAndSize(t *testing.T) {
	levels := toPriceLevels([]kalshi.OrderbookLevel{{Price: 10, Size: 100}, {Price: 20, Size: 200}})

	assert.Len(t, levels, 2)
	assert.Equal(t, 10, levels[0].PriceCents)
	assert.Equal(t, int64(100), levels[0].Size)
	assert.Equal(t, 20, levels[1].PriceCents)
	assert.Equal(t, int64(200), levels[1].Size)
}
