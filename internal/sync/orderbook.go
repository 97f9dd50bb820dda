package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/orderbook"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamOrderbook is the subset of the kalshi client the orderbook
// consumer depends on.
type UpstreamOrderbook interface {
	GetOrderbook(ctx context.Context, ticker string) (kalshi.Orderbook, error)
}

// OrderbookConsumer handles bus.KindSyncOrderbook messages: a sweep of
// every watchlisted ticker with FetchOrderbook set (§4.7).
type OrderbookConsumer struct {
	upstream   UpstreamOrderbook
	orderbooks *store.OrderbookRepo
	watchlist  *store.WatchlistRepo
	now        func() time.Time
	log        zerolog.Logger
}

// NewOrderbookConsumer builds an OrderbookConsumer.
func NewOrderbookConsumer(upstream UpstreamOrderbook, orderbooks *store.OrderbookRepo, watchlist *store.WatchlistRepo, log zerolog.Logger) *OrderbookConsumer {
	return &OrderbookConsumer{
		upstream: upstream, orderbooks: orderbooks, watchlist: watchlist, now: time.Now,
		log: log.With().Str("component", "sync.orderbook").Logger(),
	}
}

// Handle sweeps the watchlist, fetching and persisting one orderbook
// snapshot per eligible ticker and diffing it against the prior snapshot.
// A rate-limited ticker is skipped without aborting the sweep.
func (c *OrderbookConsumer) Handle(ctx context.Context) error {
	entries, err := c.watchlist.ListAll(ctx)
	if err != nil {
		return domain.New(domain.KindStoreError, "sync.orderbook.Handle", err)
	}

	for _, e := range store.FilterFetchOrderbook(entries) {
		if err := c.syncOne(ctx, e.TickerID); err != nil {
			if domain.KindOf(err) == domain.KindRateLimitExceeded {
				c.log.Warn().Str("ticker", e.TickerID).Msg("orderbook fetch rate limited, skipping this sweep")
				continue
			}
			return err
		}
	}
	return nil
}

func (c *OrderbookConsumer) syncOne(ctx context.Context, ticker string) error {
	ob, err := c.upstream.GetOrderbook(ctx, ticker)
	if err != nil {
		return err
	}

	at := c.now()
	next := toOrderbookSnapshot(ticker, ob, at)

	prev, err := c.orderbooks.Previous(ctx, ticker, at)
	if err != nil {
		return domain.New(domain.KindStoreError, "sync.orderbook.syncOne", err)
	}
	if prev == nil {
		prev = &domain.OrderbookSnapshot{MarketID: ticker}
	}

	if err := c.orderbooks.InsertSnapshot(ctx, next); err != nil {
		return domain.New(domain.KindStoreError, "sync.orderbook.syncOne", err)
	}

	events := orderbook.Diff(ticker, *prev, next, at)
	for i := range events {
		events[i].ID = uuid.NewString()
	}
	if err := c.orderbooks.InsertEvents(ctx, events); err != nil {
		return domain.New(domain.KindStoreError, "sync.orderbook.syncOne", err)
	}
	return nil
}

func toOrderbookSnapshot(ticker string, ob kalshi.Orderbook, at time.Time) domain.OrderbookSnapshot {
	yes := toPriceLevels(ob.Yes)
	no := toPriceLevels(ob.No)

	s := domain.OrderbookSnapshot{
		MarketID: ticker, CapturedAt: at, YesLevels: yes, NoLevels: no,
	}
	for _, l := range yes {
		s.LiquidityYes += l.Size
		if l.PriceCents > s.BestYesBid {
			s.BestYesBid = l.PriceCents
		}
	}
	for _, l := range no {
		s.LiquidityNo += l.Size
		noAsAsk := 100 - l.PriceCents
		if s.BestYesAsk == 0 || noAsAsk < s.BestYesAsk {
			s.BestYesAsk = noAsAsk
		}
	}
	s.Spread = s.BestYesAsk - s.BestYesBid
	return s
}

func toPriceLevels(levels []kalshi.OrderbookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.PriceLevel{PriceCents: l.Price, Size: l.Size})
	}
	return out
}
