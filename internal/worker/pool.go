// Package worker runs the consumer side of the bus: one polling loop per
// job kind, each with its own prefetch and concurrency budget (§4.1, §5),
// claiming messages, dispatching them to the matching sync consumer, and
// acking/nacking per the retry/drop policy in domain.ErrKind.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/config"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	appsync "github.com/aristath/kalshi-sentinel/internal/sync"
)

// Consumers bundles one sync consumer per job kind, matching the nine
// queues defined in internal/bus.
type Consumers struct {
	MarketSnapshots *appsync.MarketSnapshotConsumer
	TagsCategories  *appsync.TagsCategoriesConsumer
	Series          *appsync.SeriesConsumer
	Events          *appsync.EventsConsumer
	EventDetail     *appsync.EventDetailConsumer
	Orderbook       *appsync.OrderbookConsumer
	Candlesticks    *appsync.CandlesticksConsumer
	Analytics       *appsync.AnalyticsConsumer
	CleanupMarket   *appsync.CleanupMarketConsumer
}

// handlerFunc processes one claimed message's raw payload.
type handlerFunc func(ctx context.Context, msg bus.Message) error

// handlers adapts each consumer's typed Handle method to the bus's
// decode-then-dispatch shape, keyed by the kind it serves.
func (c Consumers) handlers() map[bus.Kind]handlerFunc {
	h := make(map[bus.Kind]handlerFunc, 9)

	if c.MarketSnapshots != nil {
		h[bus.KindSyncMarketSnapshots] = func(ctx context.Context, msg bus.Message) error {
			var f dispatch.MarketSnapshotFilters
			if err := msg.Decode(&f); err != nil {
				return domain.New(domain.KindInternal, "worker.decode.market-snapshots", err)
			}
			return c.MarketSnapshots.Handle(ctx, f)
		}
	}
	if c.TagsCategories != nil {
		h[bus.KindSyncMarketCategories] = func(ctx context.Context, msg bus.Message) error {
			return c.TagsCategories.Handle(ctx)
		}
	}
	if c.Series != nil {
		h[bus.KindSyncSeries] = func(ctx context.Context, msg bus.Message) error {
			var p dispatch.CursorPayload
			if err := msg.Decode(&p); err != nil {
				return domain.New(domain.KindInternal, "worker.decode.series", err)
			}
			return c.Series.Handle(ctx, p.Cursor)
		}
	}
	if c.Events != nil {
		h[bus.KindSyncEvents] = func(ctx context.Context, msg bus.Message) error {
			var p dispatch.CursorPayload
			if err := msg.Decode(&p); err != nil {
				return domain.New(domain.KindInternal, "worker.decode.events", err)
			}
			return c.Events.Handle(ctx, p.Cursor)
		}
	}
	if c.EventDetail != nil {
		h[bus.KindSyncEventDetail] = func(ctx context.Context, msg bus.Message) error {
			var p dispatch.EventDetailPayload
			if err := msg.Decode(&p); err != nil {
				return domain.New(domain.KindInternal, "worker.decode.event-detail", err)
			}
			return c.EventDetail.Handle(ctx, p.EventTicker)
		}
	}
	if c.Orderbook != nil {
		h[bus.KindSyncOrderbook] = func(ctx context.Context, msg bus.Message) error {
			return c.Orderbook.Handle(ctx)
		}
	}
	if c.Candlesticks != nil {
		h[bus.KindSyncCandlesticks] = func(ctx context.Context, msg bus.Message) error {
			return c.Candlesticks.Handle(ctx)
		}
	}
	if c.Analytics != nil {
		h[bus.KindProcessAnalytics] = func(ctx context.Context, msg bus.Message) error {
			return c.Analytics.Handle(ctx)
		}
	}
	if c.CleanupMarket != nil {
		h[bus.KindCleanupMarket] = func(ctx context.Context, msg bus.Message) error {
			var p dispatch.CleanupPayload
			if err := msg.Decode(&p); err != nil {
				return domain.New(domain.KindInternal, "worker.decode.cleanup-market", err)
			}
			return c.CleanupMarket.Handle(ctx, p.Ticker)
		}
	}
	return h
}

// Pool runs one polling loop per job kind that has both a queue config and
// a registered consumer.
type Pool struct {
	bus        *bus.Manager
	queues     map[string]config.QueueConfig
	handlers   map[bus.Kind]handlerFunc
	eventBatch *appsync.EventDetailConsumer
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewPool builds a Pool.
func NewPool(b *bus.Manager, queues map[string]config.QueueConfig, consumers Consumers, log zerolog.Logger) *Pool {
	return &Pool{
		bus:        b,
		queues:     queues,
		handlers:   consumers.handlers(),
		eventBatch: consumers.EventDetail,
		log:        log.With().Str("component", "worker").Logger(),
	}
}

// pollInterval is how often an idle loop re-checks for new messages.
const pollInterval = 2 * time.Second

// defaultLease bounds how long a claimed message stays in_flight before it
// is eligible to be reclaimed by another poll.
const defaultLease = 2 * time.Minute

// Start launches one goroutine per configured concurrency slot for every
// job kind that has both a queue config and a registered handler. Returns
// immediately; call Wait after cancelling ctx to block for drain.
func (p *Pool) Start(ctx context.Context) {
	for kind, handler := range p.handlers {
		qcfg, ok := p.queues[string(kind)]
		if !ok {
			p.log.Warn().Str("kind", string(kind)).Msg("no queue config for registered consumer, skipping")
			continue
		}
		concurrency := qcfg.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}

		// sync-event-detail claims whole batches and fans them out through
		// EventDetailConsumer.HandleBatch's own bounded-concurrency errgroup,
		// rather than one Handle call per poller goroutine (§4.4).
		if kind == bus.KindSyncEventDetail && qcfg.BatchSize > 1 && p.eventBatch != nil {
			p.wg.Add(1)
			go p.loopBatch(ctx, kind, qcfg)
			continue
		}

		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.loop(ctx, kind, qcfg, handler)
		}
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, kind bus.Kind, qcfg config.QueueConfig, handler handlerFunc) {
	defer p.wg.Done()
	log := p.log.With().Str("kind", string(kind)).Logger()

	prefetch := qcfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := p.bus.Claim(ctx, kind, prefetch, defaultLease)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			p.sleep(ctx, pollInterval)
			continue
		}
		if len(messages) == 0 {
			p.sleep(ctx, pollInterval)
			continue
		}

		for _, msg := range messages {
			p.process(ctx, msg, qcfg, handler, log)
		}
	}
}

func (p *Pool) loopBatch(ctx context.Context, kind bus.Kind, qcfg config.QueueConfig) {
	defer p.wg.Done()
	log := p.log.With().Str("kind", string(kind)).Logger()

	batchSize := qcfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := p.bus.Claim(ctx, kind, batchSize, defaultLease)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			p.sleep(ctx, pollInterval)
			continue
		}
		if len(messages) == 0 {
			p.sleep(ctx, pollInterval)
			continue
		}

		type claim struct {
			msg    bus.Message
			ticker string
		}
		claims := make([]claim, 0, len(messages))
		tickers := make([]string, 0, len(messages))
		for _, msg := range messages {
			var payload dispatch.EventDetailPayload
			if err := msg.Decode(&payload); err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("decode failed")
				p.finish(ctx, msg, qcfg, err, log)
				continue
			}
			claims = append(claims, claim{msg: msg, ticker: payload.EventTicker})
			tickers = append(tickers, payload.EventTicker)
		}

		results := p.eventBatch.HandleBatch(ctx, tickers)
		for _, c := range claims {
			p.finish(ctx, c.msg, qcfg, results[c.ticker], log)
		}
	}
}

func (p *Pool) process(ctx context.Context, msg bus.Message, qcfg config.QueueConfig, handler handlerFunc, log zerolog.Logger) {
	p.finish(ctx, msg, qcfg, handler(ctx, msg), log)
}

// finish acks, drops, or nacks-with-backoff one message based on the
// outcome of processing it (domain.ErrKind's Retryable/Drop policy, §7).
func (p *Pool) finish(ctx context.Context, msg bus.Message, qcfg config.QueueConfig, err error, log zerolog.Logger) {
	if err == nil {
		if ackErr := p.bus.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("message_id", msg.ID).Msg("ack failed")
		}
		return
	}

	kind := domain.KindOf(err)
	if kind.Drop() {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping message per rate-limit discipline")
		if ackErr := p.bus.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("message_id", msg.ID).Msg("ack failed after drop")
		}
		return
	}

	retry := kind.Retryable()
	opts := bus.QueueOptions{MaxAttempts: qcfg.MaxRetries, BaseBackoff: qcfg.BaseBackoff}
	if nackErr := p.bus.Nack(ctx, msg, retry, err, opts); nackErr != nil {
		log.Error().Err(nackErr).Str("message_id", msg.ID).Msg("nack failed")
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
