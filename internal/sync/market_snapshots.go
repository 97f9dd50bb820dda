// Package sync holds one consumer per job kind (§4.4), each idempotent
// with respect to its payload so duplicate deliveries never corrupt state.
package sync

import (
	"context"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamMarkets is the subset of the kalshi client the market-snapshot
// consumer depends on.
type UpstreamMarkets interface {
	ListMarkets(ctx context.Context, p kalshi.ListMarketsParams) (kalshi.Page[kalshi.Market], error)
}

// MarketSnapshotConsumer handles bus.KindSyncMarketSnapshots messages.
type MarketSnapshotConsumer struct {
	upstream   UpstreamMarkets
	snapshots  *store.SnapshotRepo
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
}

// NewMarketSnapshotConsumer builds a MarketSnapshotConsumer.
func NewMarketSnapshotConsumer(upstream UpstreamMarkets, snapshots *store.SnapshotRepo, d *dispatch.Dispatcher) *MarketSnapshotConsumer {
	return &MarketSnapshotConsumer{upstream: upstream, snapshots: snapshots, dispatcher: d, now: time.Now}
}

// Handle processes one market-snapshot sync message: fetches a page,
// bulk-appends rows, republishes a continuation if a cursor was returned,
// and always decrements the dispatcher's pending counter before returning
// (§4.1 "Decrement the pending counter at end of each message").
func (c *MarketSnapshotConsumer) Handle(ctx context.Context, f dispatch.MarketSnapshotFilters) error {
	defer func() { _ = c.dispatcher.CompleteMarketSnapshotMessage(ctx) }()

	page, err := c.upstream.ListMarkets(ctx, kalshi.ListMarketsParams{
		Limit:             250,
		Cursor:            f.Cursor,
		Status:            f.Status,
		MinCreatedTs:      f.MinCreatedTs,
		MaxCreatedTs:      f.MaxCreatedTs,
		WithNestedMarkets: true,
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindRateLimitExceeded {
			return nil // ack-and-drop per rate-limit discipline (§4.1)
		}
		return err
	}

	fetchedAt := c.now()
	rows := make([]domain.MarketSnapshot, 0, len(page.Items))
	for _, m := range page.Items {
		rows = append(rows, toSnapshot(m, fetchedAt))
	}

	if _, err := c.snapshots.BulkAppend(ctx, rows); err != nil {
		return err
	}

	if page.Cursor != "" {
		if _, err := c.dispatcher.ContinueMarketSnapshotSync(ctx, dispatch.MarketSnapshotFilters{
			Cursor: page.Cursor, Status: f.Status, MinCreatedTs: f.MinCreatedTs, MaxCreatedTs: f.MaxCreatedTs,
		}); err != nil {
			return err
		}
	}
	return nil
}

func toSnapshot(m kalshi.Market, fetchedAt time.Time) domain.MarketSnapshot {
	s := domain.MarketSnapshot{
		ID:                  domainSnapshotID(m.Ticker, fetchedAt),
		Ticker:              m.Ticker,
		SeriesKey:           store.SeriesKeyFor(m.EventTicker, m.Ticker),
		GenerateDate:        fetchedAt,
		Volume24h:           m.Volume24h,
		OpenInterest:        m.OpenInterest,
		Liquidity:           m.Liquidity,
		Notional:            m.Notional,
		Status:              m.Status,
		Result:              m.Result,
		Rules:               m.RulesPrimary,
		PreviousYesBidCents: deref(m.PreviousYesBid),
		PreviousYesAskCents: deref(m.PreviousYesAsk),
		YesLastCents:        m.LastPrice,
		SettlementValue:     m.SettlementValue,
	}
	if m.YesBid != nil {
		s.YesBidCents = *m.YesBid
	}
	if m.YesAsk != nil {
		s.YesAskCents = *m.YesAsk
	}
	if m.NoBid != nil {
		s.NoBidCents = *m.NoBid
	}
	if m.NoAsk != nil {
		s.NoAskCents = *m.NoAsk
	}
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		s.CloseTime = &t
	}
	if t, err := time.Parse(time.RFC3339, m.ExpirationTime); err == nil {
		s.ExpirationTime = &t
	}
	return s
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// domainSnapshotID builds a deterministic identifier so retried inserts of
// the same (ticker, fetch instant) land on the same logical row; the table
// itself still tolerates duplicates as a fact table (§3).
func domainSnapshotID(ticker string, at time.Time) string {
	return ticker + "@" + at.Format(time.RFC3339Nano)
}
