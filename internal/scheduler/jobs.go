package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/cleanup"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// Config carries one cron schedule per periodic family. Zero-value fields
// fall back to the defaults in DefaultConfig.
type Config struct {
	MarketSnapshots  string
	Categories       string
	Series           string
	Events           string
	Orderbook        string
	Candlesticks     string
	Analytics        string
	CleanupEnumerate string
	CleanupRetention time.Duration
}

// DefaultConfig applies tiered cadences (fast ticking markets, slow
// ticking dimension tables) across the seven periodic sync families and the
// cleanup enumerator.
func DefaultConfig() Config {
	return Config{
		MarketSnapshots:  "0 */5 * * * *",  // every 5 minutes
		Categories:       "0 0 3 * * *",    // daily at 03:00
		Series:           "0 0 * * * *",    // hourly
		Events:           "0 0 * * * *",    // hourly
		Orderbook:        "0 * * * * *",    // every minute
		Candlesticks:     "0 */15 * * * *", // every 15 minutes
		Analytics:        "0 */5 * * * *",  // every 5 minutes
		CleanupEnumerate: "0 30 0 * * *",   // daily at 00:30
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// RegisterSyncJobs wires every periodic family from cfg onto s, publishing
// through d. The cleanup enumerator additionally needs the cleanup service
// to find stale tickers.
func RegisterSyncJobs(s *Scheduler, d *dispatch.Dispatcher, cleaner *cleanup.Service, cfg Config) error {
	def := DefaultConfig()
	defaults := []string{def.MarketSnapshots, def.Categories, def.Series, def.Events,
		def.Orderbook, def.Candlesticks, def.Analytics, def.CleanupEnumerate}
	if cfg.CleanupRetention == 0 {
		cfg.CleanupRetention = def.CleanupRetention
	}

	jobs := []struct {
		schedule string
		name     string
		run      func(ctx context.Context) error
	}{
		{cfg.MarketSnapshots, "sync-market-snapshots", func(ctx context.Context) error {
			_, err := d.EnqueueMarketSnapshotSync(ctx, dispatch.MarketSnapshotFilters{Status: "open"})
			if err != nil && !errors.Is(err, domain.ErrAlreadyInProgress) {
				return err
			}
			return nil
		}},
		{cfg.Categories, "sync-market-categories", func(ctx context.Context) error {
			_, err := d.EnqueueTagsCategoriesSync(ctx)
			return err
		}},
		{cfg.Series, "sync-series", func(ctx context.Context) error {
			_, err := d.EnqueueSeriesSync(ctx, "")
			return err
		}},
		{cfg.Events, "sync-events", func(ctx context.Context) error {
			_, err := d.EnqueueEventsSync(ctx, "")
			return err
		}},
		{cfg.Orderbook, "sync-orderbook", func(ctx context.Context) error {
			_, err := d.EnqueueOrderbookSync(ctx)
			return err
		}},
		{cfg.Candlesticks, "sync-candlesticks", func(ctx context.Context) error {
			_, err := d.EnqueueCandlesticksSync(ctx)
			return err
		}},
		{cfg.Analytics, "process-analytics", func(ctx context.Context) error {
			_, err := d.EnqueueAnalyticsSweep(ctx)
			return err
		}},
		{cfg.CleanupEnumerate, "cleanup-market-enumerate", func(ctx context.Context) error {
			tickers, err := cleaner.Enumerate(ctx, cfg.CleanupRetention, time.Now())
			if err != nil {
				return err
			}
			if len(tickers) == 0 {
				return nil
			}
			_, err = d.EnqueueCleanup(ctx, tickers)
			return err
		}},
	}

	for i, j := range jobs {
		schedule := j.schedule
		if schedule == "" {
			schedule = defaults[i]
		}
		run := j.run
		if err := s.AddJob(schedule, NewJobFunc(j.name, func() error {
			return run(context.Background())
		})); err != nil {
			return err
		}
	}
	return nil
}

// RegisterArchivalJob wires the dead-letter-to-S3 sweep (§4.1) onto s.
// Intended to be called only when a destination bucket is configured; the
// archiver itself also no-ops without one, so calling this unconditionally
// is harmless.
func RegisterArchivalJob(s *Scheduler, archiver *bus.Archiver, schedule string, olderThan time.Duration) error {
	return s.AddJob(schedule, NewJobFunc("archive-dead-letters", func() error {
		_, err := archiver.ArchiveDeadLetters(context.Background(), olderThan)
		return err
	}))
}
