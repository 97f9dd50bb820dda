package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/charts"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// CandlesticksConsumer handles bus.KindSyncCandlesticks messages: a sweep
// of every watchlisted ticker with FetchCandlesticks set, each run through
// the differential candlestick fetch service at the daily bucket width
// (§4.6 "periodInterval = 1440").
type CandlesticksConsumer struct {
	charts    *charts.Service
	watchlist *store.WatchlistRepo
	now       func() time.Time
	log       zerolog.Logger
}

// NewCandlesticksConsumer builds a CandlesticksConsumer.
func NewCandlesticksConsumer(chartsSvc *charts.Service, watchlist *store.WatchlistRepo, log zerolog.Logger) *CandlesticksConsumer {
	return &CandlesticksConsumer{
		charts: chartsSvc, watchlist: watchlist, now: time.Now,
		log: log.With().Str("component", "sync.candlesticks").Logger(),
	}
}

// Handle sweeps the watchlist, syncing each eligible ticker's candlestick
// series. A rate-limited ticker is skipped without aborting the sweep.
func (c *CandlesticksConsumer) Handle(ctx context.Context) error {
	entries, err := c.watchlist.ListAll(ctx)
	if err != nil {
		return domain.New(domain.KindStoreError, "sync.candlesticks.Handle", err)
	}

	now := c.now()
	for _, e := range store.FilterFetchCandlesticks(entries) {
		inserted, err := c.charts.Sync(ctx, e.TickerID, domain.PeriodOneDay, now)
		if err != nil {
			if domain.KindOf(err) == domain.KindRateLimitExceeded {
				c.log.Warn().Str("ticker", e.TickerID).Msg("candlestick fetch rate limited, skipping this sweep")
				continue
			}
			return err
		}
		c.log.Debug().Str("ticker", e.TickerID).Int("inserted", inserted).Msg("candlesticks synced")
	}
	return nil
}
