package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/analytics"
	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/cachelock"
	"github.com/aristath/kalshi-sentinel/internal/charts"
	"github.com/aristath/kalshi-sentinel/internal/cleanup"
	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/config"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/scheduler"
	"github.com/aristath/kalshi-sentinel/internal/server"
	"github.com/aristath/kalshi-sentinel/internal/store"
	"github.com/aristath/kalshi-sentinel/internal/sync"
	"github.com/aristath/kalshi-sentinel/internal/worker"
	"github.com/aristath/kalshi-sentinel/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Pretty: os.Getenv("DEV_MODE") == "true"})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting kalshi-sentinel")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	dbs, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize databases")
	}
	defer dbs.Close()

	repos := buildRepos(dbs, log)
	client := kalshi.New(kalshi.Config{
		BaseURL: cfg.KalshiBaseURL, APIKeyID: cfg.KalshiAPIKeyID,
		PrivateKey: cfg.KalshiPrivateKeyPEM, Timeout: cfg.KalshiTimeout,
	}, log)

	locker := cachelock.NewLocker(dbs.Ops.Conn())
	counter := cachelock.NewCounter(dbs.Ops.Conn())
	busManager := bus.NewManager(dbs.Ops.Conn(), log)
	dispatcher := dispatch.New(busManager, locker, counter, repos.syncLog, cfg.SingleFlightLockTTL, log)

	chartsSvc := charts.NewService(client, repos.candles, repos.markets, repos.events, log)
	analyticsEngine := analytics.NewEngine(repos.snapshots, repos.candles, repos.orderbooks, repos.markets, repos.events, repos.series, log)
	cleanupSvc := cleanup.NewService(repos.snapshots, repos.candles, repos.orderbooks, repos.features, repos.watchlist, repos.cleanupCounter, log)

	consumers := buildConsumers(client, repos, dispatcher, chartsSvc, analyticsEngine, cleanupSvc, log)
	pool := worker.NewPool(busManager, cfg.Queues, consumers, log)
	poolCtx, cancelPool := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	sched := scheduler.New(log)
	if err := scheduler.RegisterSyncJobs(sched, dispatcher, cleanupSvc, scheduler.DefaultConfig()); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}
	if cfg.DeadLetterBucket != "" {
		if archiver, err := buildArchiver(context.Background(), cfg, dbs, log); err != nil {
			log.Error().Err(err).Msg("dead-letter archival disabled: failed to build S3 client")
		} else if err := scheduler.RegisterArchivalJob(sched, archiver, "0 0 4 * * *", 24*time.Hour); err != nil {
			log.Fatal().Err(err).Msg("failed to register archival job")
		}
	}
	sched.Start()

	httpServer := server.New(server.Config{
		Log: log, Port: cfg.Port, DevMode: cfg.DevMode,
		Bus: busManager, Dispatcher: dispatcher, Cleanup: cleanupSvc,
		Retention: cfg.CleanupRetention, StartedAt: time.Now(),
	})
	go func() {
		if err := httpServer.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("kalshi-sentinel started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	sched.Stop()
	cancelPool()
	pool.Wait()
	log.Info().Msg("kalshi-sentinel stopped")
}

// repos bundles every repository the pipeline's services depend on.
type repos struct {
	snapshots      *store.SnapshotRepo
	candles        *store.CandleRepo
	orderbooks     *store.OrderbookRepo
	markets        *store.MarketsRepo
	events         *store.EventsRepo
	series         *store.SeriesRepo
	features       *store.FeatureRepo
	watchlist      *store.WatchlistRepo
	tags           *store.TagsRepo
	syncLog        *store.SyncLogRepo
	cleanupCounter *store.CleanupCounterRepo
}

func buildRepos(dbs *store.Databases, log zerolog.Logger) repos {
	return repos{
		snapshots:      store.NewSnapshotRepo(dbs, log),
		candles:        store.NewCandleRepo(dbs),
		orderbooks:     store.NewOrderbookRepo(dbs),
		markets:        store.NewMarketsRepo(dbs),
		events:         store.NewEventsRepo(dbs),
		series:         store.NewSeriesRepo(dbs),
		features:       store.NewFeatureRepo(dbs),
		watchlist:      store.NewWatchlistRepo(dbs),
		tags:           store.NewTagsRepo(dbs),
		syncLog:        store.NewSyncLogRepo(dbs),
		cleanupCounter: store.NewCleanupCounterRepo(dbs),
	}
}

// buildArchiver resolves AWS credentials the standard SDK way (env vars,
// shared config, or instance role) and wires an S3 client onto the
// dead-letter table. Only called when DeadLetterBucket is configured.
func buildArchiver(ctx context.Context, cfg *config.Config, dbs *store.Databases, log zerolog.Logger) (*bus.Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	return bus.NewArchiver(dbs.Ops.Conn(), client, cfg.DeadLetterBucket, log), nil
}

func buildConsumers(
	client *kalshi.Client,
	r repos,
	d *dispatch.Dispatcher,
	chartsSvc *charts.Service,
	engine *analytics.Engine,
	cleanupSvc *cleanup.Service,
	log zerolog.Logger,
) worker.Consumers {
	return worker.Consumers{
		MarketSnapshots: sync.NewMarketSnapshotConsumer(client, r.snapshots, d),
		TagsCategories:  sync.NewTagsCategoriesConsumer(client, r.tags),
		Series:          sync.NewSeriesConsumer(client, r.series, d),
		Events:          sync.NewEventsConsumer(client, r.events, d),
		EventDetail:     sync.NewEventDetailConsumer(client, r.events, r.markets, 4),
		Orderbook:       sync.NewOrderbookConsumer(client, r.orderbooks, r.watchlist, log),
		Candlesticks:    sync.NewCandlesticksConsumer(chartsSvc, r.watchlist, log),
		Analytics:       sync.NewAnalyticsConsumer(engine, r.watchlist, r.features, log),
		CleanupMarket:   sync.NewCleanupMarketConsumer(cleanupSvc),
	}
}
