package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

// Engine computes the tiered L1/L2/L3 feature set for one ticker at a time,
// always anchored to the ticker's latest snapshot (§4.5).
type Engine struct {
	snapshots  *store.SnapshotRepo
	candles    *store.CandleRepo
	orderbooks *store.OrderbookRepo
	markets    *store.MarketsRepo
	events     *store.EventsRepo
	series     *store.SeriesRepo
	log        zerolog.Logger
}

// NewEngine builds an Engine from the repositories it reads.
func NewEngine(
	snapshots *store.SnapshotRepo,
	candles *store.CandleRepo,
	orderbooks *store.OrderbookRepo,
	markets *store.MarketsRepo,
	events *store.EventsRepo,
	series *store.SeriesRepo,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		snapshots: snapshots, candles: candles, orderbooks: orderbooks,
		markets: markets, events: events, series: series,
		log: log.With().Str("component", "analytics").Logger(),
	}
}

// Compute builds one MarketFeature row for ticker. featureTime is the
// latest snapshot's generateDate (§4.5); returns (nil, nil) if the ticker
// has no snapshot yet, since there is nothing to anchor a feature to.
func (e *Engine) Compute(ctx context.Context, ticker string) (*domain.MarketFeature, error) {
	latest, err := e.snapshots.LatestForTicker(ctx, ticker)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "analytics.Compute", err)
	}
	if latest == nil {
		return nil, nil
	}

	f := &domain.MarketFeature{Ticker: ticker, FeatureTime: latest.GenerateDate}
	e.computeL1(ctx, f, latest)
	if err := e.computeL2(ctx, f, latest); err != nil {
		return nil, err
	}
	if err := e.computeL3(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Engine) computeL1(ctx context.Context, f *domain.MarketFeature, s *domain.MarketSnapshot) {
	if s.CloseTime != nil {
		f.TimeToCloseSeconds = int64(s.CloseTime.Sub(f.FeatureTime).Seconds())
	}
	if s.ExpirationTime != nil {
		f.TimeToExpirationSeconds = int64(s.ExpirationTime.Sub(f.FeatureTime).Seconds())
	}

	f.YesBidProb = float64(s.YesBidCents) / 100
	f.YesAskProb = float64(s.YesAskCents) / 100
	f.NoBidProb = float64(s.NoBidCents) / 100
	f.NoAskProb = float64(s.NoAskCents) / 100
	f.MidProb = (f.YesBidProb + f.YesAskProb) / 2
	f.BidAskSpread = f.YesAskProb - f.YesBidProb

	f.Volume24h = float64(s.Volume24h)
	f.Status = s.Status

	if m, err := e.markets.Get(ctx, s.Ticker); err == nil && m != nil {
		f.MarketType = m.MarketType
	}
}

func (e *Engine) computeL2(ctx context.Context, f *domain.MarketFeature, latest *domain.MarketSnapshot) error {
	past1h, err := e.snapshots.AtOrBefore(ctx, f.Ticker, f.FeatureTime.Add(-time.Hour))
	if err != nil {
		return domain.New(domain.KindStoreError, "analytics.computeL2", err)
	}
	past24h, err := e.snapshots.AtOrBefore(ctx, f.Ticker, f.FeatureTime.Add(-24*time.Hour))
	if err != nil {
		return domain.New(domain.KindStoreError, "analytics.computeL2", err)
	}

	f.Return1h = windowedReturn(f.MidProb, past1h)
	f.Return24h = windowedReturn(f.MidProb, past24h)

	closes1h, vol1h, notional1h, err := e.candleWindowStats(ctx, f.Ticker, f.FeatureTime.Add(-time.Hour), f.FeatureTime)
	if err != nil {
		return err
	}
	closes24h, _, notional24h, err := e.candleWindowStats(ctx, f.Ticker, f.FeatureTime.Add(-24*time.Hour), f.FeatureTime)
	if err != nil {
		return err
	}

	f.RealizedVol1h = realizedVolatility(closes1h)
	f.RealizedVol24h = realizedVolatility(closes24h)
	f.Volume1h, f.Notional1h = vol1h, notional1h
	f.Notional24h = notional24h

	return nil
}

func windowedReturn(midNow float64, past *domain.MarketSnapshot) float64 {
	if past == nil {
		return 0
	}
	midPast := (float64(past.YesBidCents)/100 + float64(past.YesAskCents)/100) / 2
	if midPast <= 0 {
		return 0
	}
	return (midNow - midPast) / midPast
}

// candleWindowStats returns the YES-bid close series (for volatility) and
// the summed volume/notional over a window, per §4.5's L2 aggregation.
func (e *Engine) candleWindowStats(ctx context.Context, ticker string, start, end time.Time) ([]float64, float64, float64, error) {
	candles, err := e.candles.ListInWindow(ctx, ticker, domain.PeriodOneDay, start, end)
	if err != nil {
		return nil, 0, 0, domain.New(domain.KindStoreError, "analytics.candleWindowStats", err)
	}

	var closes []float64
	var volume, notional float64
	for _, c := range candles {
		closePrice := c.YesBid.High
		if c.YesBid.Close != nil {
			closePrice = *c.YesBid.Close
		}
		closes = append(closes, float64(closePrice))
		volume += float64(c.Volume)
		notional += float64(c.Volume) * float64(closePrice) / 100
	}
	return closes, volume, notional, nil
}

func (e *Engine) computeL3(ctx context.Context, f *domain.MarketFeature) error {
	ob, err := e.orderbooks.Latest(ctx, f.Ticker)
	if err != nil {
		return domain.New(domain.KindStoreError, "analytics.computeL3", err)
	}
	if ob == nil {
		f.Category = e.lookupCategory(ctx, f.Ticker)
		return nil
	}

	f.TotalLiquidityYes = float64(ob.LiquidityYes)
	f.TotalLiquidityNo = float64(ob.LiquidityNo)
	if ob.LiquidityYes+ob.LiquidityNo > 0 {
		f.OrderbookImbalance = float64(ob.LiquidityYes-ob.LiquidityNo) / float64(ob.LiquidityYes+ob.LiquidityNo)
	}
	f.TopOfBookLiquidityYes = topOfBookSize(ob.YesLevels)
	f.TopOfBookLiquidityNo = topOfBookSize(ob.NoLevels)
	f.Category = e.lookupCategory(ctx, f.Ticker)
	return nil
}

func topOfBookSize(levels []domain.PriceLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	best := levels[0]
	for _, l := range levels[1:] {
		if l.PriceCents > best.PriceCents {
			best = l
		}
	}
	return float64(best.Size)
}

// lookupCategory resolves a ticker's category from its event, falling back
// to the event's series (§4.5 L3).
func (e *Engine) lookupCategory(ctx context.Context, ticker string) string {
	market, err := e.markets.Get(ctx, ticker)
	if err != nil || market == nil || market.EventTicker == "" {
		return ""
	}
	event, err := e.events.Get(ctx, market.EventTicker)
	if err != nil || event == nil {
		return ""
	}
	if event.Category != "" {
		return event.Category
	}
	series, err := e.series.Get(ctx, event.SeriesTicker)
	if err != nil || series == nil {
		return ""
	}
	return series.Category
}
