package sync

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamEventDetail is the subset of the kalshi client the event-detail
// consumer depends on.
type UpstreamEventDetail interface {
	GetEvent(ctx context.Context, eventTicker string) (kalshi.EventDetail, error)
}

// EventDetailConsumer handles bus.KindSyncEventDetail messages. Event-detail
// jobs are published one per ticker, but the queue hands the worker a batch
// to drain per poll (§4.4); concurrency is bounded so one rate-limited
// ticker in a batch doesn't stall the rest.
type EventDetailConsumer struct {
	upstream    UpstreamEventDetail
	events      *store.EventsRepo
	markets     *store.MarketsRepo
	concurrency int
}

// NewEventDetailConsumer builds an EventDetailConsumer. concurrency bounds
// how many event-detail fetches run at once within one batch; 0 defaults to 4.
func NewEventDetailConsumer(upstream UpstreamEventDetail, events *store.EventsRepo, markets *store.MarketsRepo, concurrency int) *EventDetailConsumer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &EventDetailConsumer{upstream: upstream, events: events, markets: markets, concurrency: concurrency}
}

// Handle fetches and upserts one event's nested markets. Rate-limited
// fetches are acked and dropped without failing the caller (§4.1
// rate-limit discipline applied per-message).
func (c *EventDetailConsumer) Handle(ctx context.Context, eventTicker string) error {
	detail, err := c.upstream.GetEvent(ctx, eventTicker)
	if err != nil {
		if domain.KindOf(err) == domain.KindRateLimitExceeded {
			return nil
		}
		return err
	}

	for _, m := range detail.Markets {
		if err := c.markets.Upsert(ctx, domain.Market{
			Ticker: m.Ticker, EventTicker: eventTicker, Title: m.Title, MarketType: m.MarketType,
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleBatch drains a batch of event tickers with bounded concurrency,
// returning each ticker's own outcome so one bad ticker never nacks its
// batch-mates (§4.3 per-message isolation applied at the batch level). Uses
// a plain errgroup.Group rather than errgroup.WithContext so one ticker's
// failure never cancels the context of tickers still in flight.
func (c *EventDetailConsumer) HandleBatch(ctx context.Context, eventTickers []string) map[string]error {
	results := make(map[string]error, len(eventTickers))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, t := range eventTickers {
		ticker := t
		g.Go(func() error {
			err := c.Handle(ctx, ticker)
			mu.Lock()
			results[ticker] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
