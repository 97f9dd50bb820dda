// Package orderbook implements the pure snapshot-to-event differ (§4.7):
// build a map keyed by identity from each side, union the keys present in
// either side, and walk the union to classify each key as added/changed/
// removed, applied here to price levels. Diff has no I/O; callers own
// fetching prev/next and persisting the resulting events.
package orderbook

import (
	"sort"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// Diff compares two orderbook snapshots for the same market and returns the
// ADD/UPDATE/REMOVE events needed to transform prev into next, one event
// per side per price level that changed. A nil/zero-value prev (no prior
// snapshot) yields an ADD event for every level in next.
func Diff(marketID string, prev, next domain.OrderbookSnapshot, at time.Time) []domain.OrderbookEvent {
	var events []domain.OrderbookEvent
	events = append(events, diffSide(marketID, domain.SideYes, prev.YesLevels, next.YesLevels, at)...)
	events = append(events, diffSide(marketID, domain.SideNo, prev.NoLevels, next.NoLevels, at)...)
	return events
}

func diffSide(marketID string, side domain.Side, prev, next []domain.PriceLevel, at time.Time) []domain.OrderbookEvent {
	prevByPrice := indexLevels(prev)
	nextByPrice := indexLevels(next)

	prices := make(map[int]struct{}, len(prevByPrice)+len(nextByPrice))
	for p := range prevByPrice {
		prices[p] = struct{}{}
	}
	for p := range nextByPrice {
		prices[p] = struct{}{}
	}

	var sortedPrices []int
	for p := range prices {
		sortedPrices = append(sortedPrices, p)
	}
	sort.Ints(sortedPrices)

	var events []domain.OrderbookEvent
	for _, price := range sortedPrices {
		before, hadBefore := prevByPrice[price]
		after, hasAfter := nextByPrice[price]

		switch {
		case !hadBefore && hasAfter:
			events = append(events, domain.OrderbookEvent{
				MarketID: marketID, EventTime: at, Side: side, PriceCents: price, Size: after.Size, Type: domain.EventAdd,
			})
		case hadBefore && !hasAfter:
			events = append(events, domain.OrderbookEvent{
				MarketID: marketID, EventTime: at, Side: side, PriceCents: price, Size: 0, Type: domain.EventRemove,
			})
		case hadBefore && hasAfter && before.Size != after.Size:
			events = append(events, domain.OrderbookEvent{
				MarketID: marketID, EventTime: at, Side: side, PriceCents: price, Size: after.Size, Type: domain.EventUpdate,
			})
		}
	}
	return events
}

func indexLevels(levels []domain.PriceLevel) map[int]domain.PriceLevel {
	out := make(map[int]domain.PriceLevel, len(levels))
	for _, l := range levels {
		out[l.PriceCents] = l
	}
	return out
}
