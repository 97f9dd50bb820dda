// Package cleanup reclaims storage for closed markets (§4.8): an
// enumerator finds stale closed/finalized tickers and publishes one
// cleanup-market job per ticker; a consumer cascades the delete across
// every table keyed by that ticker.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// terminalStatuses are the snapshot statuses eligible for cleanup once
// stale (§4.8).
var terminalStatuses = []string{"finalized", "closed"}

// Service enumerates and cascades the cleanup of closed markets.
type Service struct {
	snapshots  *store.SnapshotRepo
	candles    *store.CandleRepo
	orderbooks *store.OrderbookRepo
	features   *store.FeatureRepo
	watchlist  *store.WatchlistRepo
	counter    *store.CleanupCounterRepo
	log        zerolog.Logger
}

// NewService builds a cleanup Service.
func NewService(
	snapshots *store.SnapshotRepo,
	candles *store.CandleRepo,
	orderbooks *store.OrderbookRepo,
	features *store.FeatureRepo,
	watchlist *store.WatchlistRepo,
	counter *store.CleanupCounterRepo,
	log zerolog.Logger,
) *Service {
	return &Service{
		snapshots: snapshots, candles: candles, orderbooks: orderbooks,
		features: features, watchlist: watchlist, counter: counter,
		log: log.With().Str("component", "cleanup").Logger(),
	}
}

// Enumerate returns tickers whose latest snapshot status is terminal and
// older than retention, ready to be published as cleanup-market jobs.
func (s *Service) Enumerate(ctx context.Context, retention time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-retention)
	tickers, err := s.snapshots.TickersByStatusOlderThan(ctx, terminalStatuses, cutoff)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "cleanup.Enumerate", err)
	}
	return tickers, nil
}

// Clean cascades the delete for one ticker across every table that keys on
// it, and is idempotent: redelivering a cleanup-market message for an
// already-cleaned ticker is a no-op (invariant 8).
func (s *Service) Clean(ctx context.Context, ticker string, at time.Time) error {
	already, err := s.counter.IsCleaned(ctx, ticker)
	if err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}
	if already {
		s.log.Debug().Str("ticker", ticker).Msg("cleanup already applied, skipping")
		return nil
	}

	if err := s.snapshots.DeleteByTicker(ctx, ticker); err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}
	if err := s.candles.DeleteByTicker(ctx, ticker); err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}
	if err := s.orderbooks.DeleteByTicker(ctx, ticker); err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}
	if err := s.features.DeleteByTicker(ctx, ticker); err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}
	if err := s.watchlist.Remove(ctx, ticker); err != nil {
		return domain.New(domain.KindStoreError, "cleanup.Clean", err)
	}

	return s.counter.MarkCleaned(ctx, ticker, at)
}
