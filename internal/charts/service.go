// Package charts implements the differential candlestick fetch service
// (§4.6): look up what's stored, fetch only what's missing, merge and sort
// in memory, generalized from daily-price aggregation (week/month bucketing
// over a history DB) to Kalshi-style fixed-interval OHLC candlesticks
// fetched from the upstream API and deduplicated against the candlesticks
// table rather than aggregated.
package charts

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/clients/kalshi"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// UpstreamCandles is the subset of the kalshi client the service depends on.
type UpstreamCandles interface {
	GetCandlesticks(ctx context.Context, p kalshi.GetCandlesticksParams) ([]kalshi.Candlestick, error)
}

// Service fetches and merges candlestick series for watchlisted tickers.
type Service struct {
	upstream UpstreamCandles
	candles  *store.CandleRepo
	markets  *store.MarketsRepo
	events   *store.EventsRepo
	log      zerolog.Logger
}

// NewService builds a Service. markets and events resolve each market
// ticker's owning series ticker before every upstream candlestick fetch
// (§4.6 "resolve its event's series ticker").
func NewService(upstream UpstreamCandles, candles *store.CandleRepo, markets *store.MarketsRepo, events *store.EventsRepo, log zerolog.Logger) *Service {
	return &Service{
		upstream: upstream, candles: candles, markets: markets, events: events,
		log: log.With().Str("service", "charts").Logger(),
	}
}

// seriesTickerFor resolves ticker's owning series ticker by looking up its
// market record for an event ticker, then that event's series ticker.
// Markets or events not yet synced into the dimension tables fall back to
// the market ticker itself, same as store.SeriesKeyFor's derivation.
func (s *Service) seriesTickerFor(ctx context.Context, ticker string) (string, error) {
	m, err := s.markets.Get(ctx, ticker)
	if err != nil {
		return "", domain.New(domain.KindStoreError, "charts.seriesTickerFor", err)
	}
	if m == nil || m.EventTicker == "" {
		return ticker, nil
	}
	e, err := s.events.Get(ctx, m.EventTicker)
	if err != nil {
		return "", domain.New(domain.KindStoreError, "charts.seriesTickerFor", err)
	}
	if e == nil || e.SeriesTicker == "" {
		return ticker, nil
	}
	return e.SeriesTicker, nil
}

// defaultLookback is the fetch window when no candles are stored yet (§4.6).
const defaultLookback = 30 * 24 * time.Hour

// freshnessWindow: if the latest stored candle is within this long of now,
// the stored series is considered fresh and no upstream fetch is made.
const freshnessWindow = 24 * time.Hour

// Sync fetches the window of candlesticks not yet stored for ticker at
// interval and persists any new buckets, following §4.6's differential
// fetch rule: no stored candles means a 30-day backfill; otherwise fetch
// from just past the latest stored bucket; a stored series already fresh
// within the last 24h skips the upstream call entirely. Returns the count
// of newly inserted rows.
func (s *Service) Sync(ctx context.Context, ticker string, interval domain.PeriodInterval, now time.Time) (int, error) {
	latest, err := s.candles.MaxEndPeriodTs(ctx, ticker, interval)
	if err != nil {
		return 0, domain.New(domain.KindStoreError, "charts.Sync", err)
	}

	var start time.Time
	if latest.IsZero() {
		start = now.Add(-defaultLookback)
	} else {
		if now.Sub(latest) < freshnessWindow {
			return 0, nil
		}
		start = latest.Add(time.Second)
	}

	seriesTicker, err := s.seriesTickerFor(ctx, ticker)
	if err != nil {
		return 0, err
	}

	fetched, err := s.upstream.GetCandlesticks(ctx, kalshi.GetCandlesticksParams{
		SeriesTicker:   seriesTicker,
		Ticker:         ticker,
		StartTs:        start.Unix(),
		EndTs:          now.Unix(),
		PeriodInterval: int(interval),
	})
	if err != nil {
		return 0, err
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].EndPeriodTs < fetched[j].EndPeriodTs })

	existing, err := s.candles.ExistingEndTimes(ctx, ticker, interval)
	if err != nil {
		return 0, domain.New(domain.KindStoreError, "charts.Sync", err)
	}

	inserted := 0
	for _, c := range fetched {
		if _, ok := existing[c.EndPeriodTs]; ok {
			continue
		}
		candle := toDomainCandle(ticker, interval, c)
		if err := store.ValidateCandle(candle); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Int64("end_period_ts", c.EndPeriodTs).Msg("skipping invalid candle")
			continue
		}
		if err := s.candles.Insert(ctx, candle); err != nil {
			return inserted, domain.New(domain.KindStoreError, "charts.Sync", err)
		}
		inserted++
	}
	return inserted, nil
}

// ChartPoint is one plotted point: time plus a single projected close price.
type ChartPoint struct {
	Time  time.Time
	Value int
}

// ListChart returns the stored series for (ticker, interval) in [start, end]
// as chart points, projecting close as the last-trade close when present,
// falling back to the YES-bid close (§4.6).
func (s *Service) ListChart(ctx context.Context, ticker string, interval domain.PeriodInterval, start, end time.Time) ([]ChartPoint, error) {
	candles, err := s.candles.ListInWindow(ctx, ticker, interval, start, end)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "charts.ListChart", err)
	}

	points := make([]ChartPoint, 0, len(candles))
	for _, c := range candles {
		var close int
		switch {
		case c.LastTrade.Close != nil:
			close = *c.LastTrade.Close
		case c.YesBid.Close != nil:
			close = *c.YesBid.Close
		default:
			close = c.YesBid.High
		}
		points = append(points, ChartPoint{Time: c.EndPeriodTs, Value: close})
	}
	return points, nil
}

func toDomainCandle(ticker string, interval domain.PeriodInterval, c kalshi.Candlestick) domain.Candlestick {
	return domain.Candlestick{
		Ticker:         ticker,
		PeriodInterval: interval,
		EndPeriodTs:    time.Unix(c.EndPeriodTs, 0).UTC(),
		YesBid:         domain.OHLC{Open: c.YesBidOpen, Low: c.YesBidLow, High: c.YesBidHigh, Close: c.YesBidClose},
		YesAsk:         domain.OHLC{Open: c.YesAskOpen, Low: c.YesAskLow, High: c.YesAskHigh, Close: c.YesAskClose},
		LastTrade:      domain.OHLC{Open: c.LastOpen, Low: c.LastLow, High: c.LastHigh, Close: c.LastClose},
		Volume:         c.Volume,
		OpenInterest:   c.OpenInterest,
	}
}
