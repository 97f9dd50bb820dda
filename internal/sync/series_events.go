package sync

import (
	"context"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamSeries is the subset of the kalshi client the series consumer
// depends on.
type UpstreamSeries interface {
	ListSeries(ctx context.Context, cursor string, limit int) (kalshi.Page[kalshi.Series], error)
}

// SeriesConsumer handles bus.KindSyncSeries messages.
type SeriesConsumer struct {
	upstream   UpstreamSeries
	series     *store.SeriesRepo
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
}

// NewSeriesConsumer builds a SeriesConsumer.
func NewSeriesConsumer(upstream UpstreamSeries, series *store.SeriesRepo, d *dispatch.Dispatcher) *SeriesConsumer {
	return &SeriesConsumer{upstream: upstream, series: series, dispatcher: d, now: time.Now}
}

// Handle upserts one page of series records, publishing a continuation if
// the page carried a cursor (§4.4).
func (c *SeriesConsumer) Handle(ctx context.Context, cursor string) error {
	page, err := c.upstream.ListSeries(ctx, cursor, 200)
	if err != nil {
		if domain.KindOf(err) == domain.KindRateLimitExceeded {
			return nil
		}
		return err
	}

	now := c.now()
	for _, s := range page.Items {
		if err := c.series.Upsert(ctx, domain.Series{
			Ticker: s.Ticker, Title: s.Title, Category: s.Category, Tags: s.Tags, Frequency: s.Frequency, LastUpdate: now,
		}); err != nil {
			return err
		}
	}

	if page.Cursor != "" {
		if _, err := c.dispatcher.EnqueueSeriesSync(ctx, page.Cursor); err != nil {
			return err
		}
	}
	return nil
}

// UpstreamEvents is the subset of the kalshi client the events consumer
// depends on.
type UpstreamEvents interface {
	ListEvents(ctx context.Context, cursor string, limit int) (kalshi.Page[kalshi.Event], error)
}

// EventsConsumer handles bus.KindSyncEvents messages.
type EventsConsumer struct {
	upstream   UpstreamEvents
	events     *store.EventsRepo
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
}

// NewEventsConsumer builds an EventsConsumer.
func NewEventsConsumer(upstream UpstreamEvents, events *store.EventsRepo, d *dispatch.Dispatcher) *EventsConsumer {
	return &EventsConsumer{upstream: upstream, events: events, dispatcher: d, now: time.Now}
}

// Handle upserts one page of event records, publishing a continuation if
// the page carried a cursor (§4.4).
func (c *EventsConsumer) Handle(ctx context.Context, cursor string) error {
	page, err := c.upstream.ListEvents(ctx, cursor, 200)
	if err != nil {
		if domain.KindOf(err) == domain.KindRateLimitExceeded {
			return nil
		}
		return err
	}

	now := c.now()
	for _, e := range page.Items {
		var strikeDate time.Time
		if t, err := time.Parse(time.RFC3339, e.StrikeDate); err == nil {
			strikeDate = t
		}
		if err := c.events.Upsert(ctx, domain.Event{
			EventTicker: e.EventTicker, SeriesTicker: e.SeriesTicker, Category: e.Category,
			StrikeDate: strikeDate, MutuallyExcl: e.MutuallyExclusive, LastUpdate: now,
		}); err != nil {
			return err
		}
	}

	if page.Cursor != "" {
		if _, err := c.dispatcher.EnqueueEventsSync(ctx, page.Cursor); err != nil {
			return err
		}
	}
	return nil
}
