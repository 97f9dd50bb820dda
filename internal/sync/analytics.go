package sync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/analytics"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// AnalyticsConsumer handles bus.KindProcessAnalytics messages: a sweep of
// the watchlist computing and appending one feature row per ticker (§4.5).
type AnalyticsConsumer struct {
	engine    *analytics.Engine
	watchlist *store.WatchlistRepo
	features  *store.FeatureRepo
	log       zerolog.Logger
}

// NewAnalyticsConsumer builds an AnalyticsConsumer.
func NewAnalyticsConsumer(engine *analytics.Engine, watchlist *store.WatchlistRepo, features *store.FeatureRepo, log zerolog.Logger) *AnalyticsConsumer {
	return &AnalyticsConsumer{engine: engine, watchlist: watchlist, features: features, log: log.With().Str("component", "sync.analytics").Logger()}
}

// Handle sweeps the watchlist, computing and appending a feature row for
// every ticker that has at least one snapshot to anchor to.
func (c *AnalyticsConsumer) Handle(ctx context.Context) error {
	entries, err := c.watchlist.ListAll(ctx)
	if err != nil {
		return domain.New(domain.KindStoreError, "sync.analytics.Handle", err)
	}

	for _, e := range entries {
		feature, err := c.engine.Compute(ctx, e.TickerID)
		if err != nil {
			return err
		}
		if feature == nil {
			continue
		}
		if err := c.features.Append(ctx, *feature); err != nil {
			return domain.New(domain.KindStoreError, "sync.analytics.Handle", err)
		}
	}
	return nil
}
