// Package dispatch is the enqueue side of the pipeline (§4.2): one
// Enqueue* operation per job kind, publishing a single message onto the
// durable bus. Market-snapshot sync additionally runs behind a single-flight
// guard so overlapping operator-triggered syncs collapse into one in-flight
// run, coordinated through internal/cachelock so the guard holds across
// replicas rather than relying on in-process state (§4.2, §5).
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/cachelock"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

const marketSnapshotLockKey = "sync:market-snapshots:lock"
const marketSnapshotCounterKey = "sync:market-snapshots:pending"

// MarketSnapshotFilters carries the market-snapshot sync's optional filters
// and/or resume cursor (§4.1).
type MarketSnapshotFilters struct {
	MinCreatedTs int64
	MaxCreatedTs int64
	Status       string
	Cursor       string
}

// Dispatcher publishes jobs and guards single-flight families.
type Dispatcher struct {
	bus     *bus.Manager
	locker  *cachelock.Locker
	counter *cachelock.Counter
	syncLog *store.SyncLogRepo
	lockTTL time.Duration
	log     zerolog.Logger
}

// New builds a Dispatcher.
func New(b *bus.Manager, locker *cachelock.Locker, counter *cachelock.Counter, syncLog *store.SyncLogRepo, lockTTL time.Duration, log zerolog.Logger) *Dispatcher {
	if lockTTL == 0 {
		lockTTL = 30 * time.Minute
	}
	return &Dispatcher{bus: b, locker: locker, counter: counter, syncLog: syncLog, lockTTL: lockTTL, log: log.With().Str("component", "dispatch").Logger()}
}

// EnqueueMarketSnapshotSync acquires the single-flight lock and publishes
// the initial market-snapshot sync message. Returns domain.ErrAlreadyInProgress
// if another run is in flight, domain.ErrBusUnavailable if the publish fails.
func (d *Dispatcher) EnqueueMarketSnapshotSync(ctx context.Context, f MarketSnapshotFilters) (string, error) {
	acquired, err := d.locker.TryAcquire(ctx, marketSnapshotLockKey, "dispatcher", d.lockTTL)
	if err != nil {
		return "", domain.New(domain.KindStoreError, "dispatch.EnqueueMarketSnapshotSync", err)
	}
	if !acquired {
		return "", domain.ErrAlreadyInProgress
	}

	if _, err := d.counter.Incr(ctx, marketSnapshotCounterKey, 1); err != nil {
		_ = d.locker.Release(ctx, marketSnapshotLockKey)
		return "", domain.New(domain.KindStoreError, "dispatch.EnqueueMarketSnapshotSync", err)
	}

	id, err := d.bus.Publish(ctx, bus.KindSyncMarketSnapshots, f, bus.QueueOptions{})
	if err != nil {
		_, _ = d.counter.Incr(ctx, marketSnapshotCounterKey, -1)
		return "", err
	}

	if d.syncLog != nil {
		_ = d.syncLog.Record(ctx, id, string(bus.KindSyncMarketSnapshots), f.Cursor, time.Now())
	}
	return id, nil
}

// ContinueMarketSnapshotSync re-enqueues a continuation page. Called by the
// consumer, not the operator-facing control surface; does not re-acquire
// the lock (already held by the in-flight run) but does increment the
// pending counter (Running -> Running transition, §4.2).
func (d *Dispatcher) ContinueMarketSnapshotSync(ctx context.Context, f MarketSnapshotFilters) (string, error) {
	if _, err := d.counter.Incr(ctx, marketSnapshotCounterKey, 1); err != nil {
		return "", domain.New(domain.KindStoreError, "dispatch.ContinueMarketSnapshotSync", err)
	}
	id, err := d.bus.Publish(ctx, bus.KindSyncMarketSnapshots, f, bus.QueueOptions{})
	if err != nil {
		_, _ = d.counter.Incr(ctx, marketSnapshotCounterKey, -1)
		return "", err
	}
	return id, nil
}

// CompleteMarketSnapshotMessage decrements the pending counter at the end
// of one consumed message (successful or dropped) and releases the lock
// once the counter reaches zero with no new enqueue pending (Running ->
// Draining -> Idle, §4.2/§4.10).
func (d *Dispatcher) CompleteMarketSnapshotMessage(ctx context.Context) error {
	remaining, err := d.counter.Incr(ctx, marketSnapshotCounterKey, -1)
	if err != nil {
		return domain.New(domain.KindStoreError, "dispatch.CompleteMarketSnapshotMessage", err)
	}
	if remaining <= 0 {
		if err := d.counter.Reset(ctx, marketSnapshotCounterKey); err != nil {
			return domain.New(domain.KindStoreError, "dispatch.CompleteMarketSnapshotMessage", err)
		}
		if err := d.locker.Release(ctx, marketSnapshotLockKey); err != nil {
			return domain.New(domain.KindStoreError, "dispatch.CompleteMarketSnapshotMessage", err)
		}
	}
	return nil
}

// MarketSnapshotStatus reports the single-flight state machine's current
// phase for the control surface's status endpoint (§6, §4.10).
type MarketSnapshotStatus struct {
	IsRunning   bool
	PendingJobs int
}

// Status returns the current market-snapshot sync state.
func (d *Dispatcher) Status(ctx context.Context) (MarketSnapshotStatus, error) {
	running, err := d.locker.Held(ctx, marketSnapshotLockKey)
	if err != nil {
		return MarketSnapshotStatus{}, domain.New(domain.KindStoreError, "dispatch.Status", err)
	}
	pending, err := d.counter.Get(ctx, marketSnapshotCounterKey)
	if err != nil {
		return MarketSnapshotStatus{}, domain.New(domain.KindStoreError, "dispatch.Status", err)
	}
	return MarketSnapshotStatus{IsRunning: running, PendingJobs: pending}, nil
}

// TagsSyncPayload carries no fields; tags/categories sync is a single pass
// with no pagination (§4.4).
type TagsSyncPayload struct{}

// EnqueueTagsCategoriesSync publishes a single tags/categories sync message.
func (d *Dispatcher) EnqueueTagsCategoriesSync(ctx context.Context) (string, error) {
	return d.bus.Publish(ctx, bus.KindSyncMarketCategories, TagsSyncPayload{}, bus.QueueOptions{})
}

// CursorPayload carries an optional resume cursor, shared by the series and
// events sync families (§4.4).
type CursorPayload struct {
	Cursor string
}

// EnqueueSeriesSync publishes the initial (or resumed) series sync message.
func (d *Dispatcher) EnqueueSeriesSync(ctx context.Context, cursor string) (string, error) {
	return d.bus.Publish(ctx, bus.KindSyncSeries, CursorPayload{Cursor: cursor}, bus.QueueOptions{})
}

// EnqueueEventsSync publishes the initial (or resumed) events sync message.
func (d *Dispatcher) EnqueueEventsSync(ctx context.Context, cursor string) (string, error) {
	return d.bus.Publish(ctx, bus.KindSyncEvents, CursorPayload{Cursor: cursor}, bus.QueueOptions{})
}

// EventDetailPayload carries one event ticker for the batched event-detail
// consumer (§4.4).
type EventDetailPayload struct {
	EventTicker string
}

// EnqueueEventDetailSync publishes one event-detail job per ticker.
func (d *Dispatcher) EnqueueEventDetailSync(ctx context.Context, eventTickers []string) ([]string, error) {
	ids := make([]string, 0, len(eventTickers))
	for _, t := range eventTickers {
		id, err := d.bus.Publish(ctx, bus.KindSyncEventDetail, EventDetailPayload{EventTicker: t}, bus.QueueOptions{})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WatchlistSyncPayload is the empty trigger payload shared by orderbook,
// candlesticks, and analytics sweeps over the whole watchlist.
type WatchlistSyncPayload struct{}

// EnqueueOrderbookSync publishes a sweep of every watchlisted ticker with
// fetchOrderbook set.
func (d *Dispatcher) EnqueueOrderbookSync(ctx context.Context) (string, error) {
	return d.bus.Publish(ctx, bus.KindSyncOrderbook, WatchlistSyncPayload{}, bus.QueueOptions{})
}

// EnqueueCandlesticksSync publishes a sweep of every watchlisted ticker
// with fetchCandlesticks set.
func (d *Dispatcher) EnqueueCandlesticksSync(ctx context.Context) (string, error) {
	return d.bus.Publish(ctx, bus.KindSyncCandlesticks, WatchlistSyncPayload{}, bus.QueueOptions{})
}

// EnqueueAnalyticsSweep publishes a feature computation sweep over the
// watchlist (§4.5).
func (d *Dispatcher) EnqueueAnalyticsSweep(ctx context.Context) (string, error) {
	return d.bus.Publish(ctx, bus.KindProcessAnalytics, WatchlistSyncPayload{}, bus.QueueOptions{})
}

// CleanupPayload carries the ticker to cascade-delete (§4.8).
type CleanupPayload struct {
	Ticker string
}

// EnqueueCleanup publishes one cleanup-market job per closed ticker found
// stale by the cleanup enumerator.
func (d *Dispatcher) EnqueueCleanup(ctx context.Context, tickers []string) ([]string, error) {
	ids := make([]string, 0, len(tickers))
	for _, t := range tickers {
		id, err := d.bus.Publish(ctx, bus.KindCleanupMarket, CleanupPayload{Ticker: t}, bus.QueueOptions{})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
