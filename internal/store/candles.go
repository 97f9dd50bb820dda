package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// CandleRepo owns the append-only candlesticks fact table, unique on
// (ticker, period_interval, end_period_ts).
type CandleRepo struct {
	db *sql.DB
}

// NewCandleRepo wraps the candles database connection.
func NewCandleRepo(db *Databases) *CandleRepo {
	return &CandleRepo{db: db.Candles.Conn()}
}

// ValidateCandle enforces invariant 2 (§8): low <= open,close <= high per OHLC family.
func ValidateCandle(c domain.Candlestick) error {
	families := map[string]domain.OHLC{"yesBid": c.YesBid, "yesAsk": c.YesAsk, "last": c.LastTrade}
	for name, f := range families {
		if name == "last" && f.Close == nil && f.Open == 0 && f.Low == 0 && f.High == 0 {
			continue // no trades in this period; last-trade family entirely absent
		}
		if f.Low > f.Open || f.Open > f.High {
			return domain.New(domain.KindInvalidRequest, "store.ValidateCandle",
				fmt.Errorf("ticker %s %s: low=%d open=%d high=%d", c.Ticker, name, f.Low, f.Open, f.High))
		}
		if f.Close != nil && (f.Low > *f.Close || *f.Close > f.High) {
			return domain.New(domain.KindInvalidRequest, "store.ValidateCandle",
				fmt.Errorf("ticker %s %s: low=%d close=%d high=%d", c.Ticker, name, f.Low, *f.Close, f.High))
		}
	}
	return nil
}

// ExistingEndTimes returns the set of end_period_ts already stored for a
// ticker/interval, used to dedupe inbound candles before insert (§4.6).
func (r *CandleRepo) ExistingEndTimes(ctx context.Context, ticker string, interval domain.PeriodInterval) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT end_period_ts FROM candlesticks WHERE ticker = ? AND period_interval = ?`, ticker, int(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out[ts] = struct{}{}
	}
	return out, rows.Err()
}

// MaxEndPeriodTs returns the latest stored end_period_ts for a ticker/interval,
// or zero time if none exist.
func (r *CandleRepo) MaxEndPeriodTs(ctx context.Context, ticker string, interval domain.PeriodInterval) (time.Time, error) {
	var ts sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(end_period_ts) FROM candlesticks WHERE ticker = ? AND period_interval = ?`, ticker, int(interval)).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Insert appends one candle row; a row for an already-stored
// (ticker, interval, end_period_ts) is ignored without error. Insert does not
// run ValidateCandle; the caller validates, skips and logs invalid candles.
func (r *CandleRepo) Insert(ctx context.Context, c domain.Candlestick) error {
	var lastOpenVal, lastLowVal, lastHighVal interface{}
	if c.LastTrade.Close != nil || c.LastTrade.Open != 0 || c.LastTrade.Low != 0 || c.LastTrade.High != 0 {
		lastOpenVal, lastLowVal, lastHighVal = c.LastTrade.Open, c.LastTrade.Low, c.LastTrade.High
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candlesticks (
			ticker, period_interval, end_period_ts,
			yes_bid_open, yes_bid_low, yes_bid_high, yes_bid_close,
			yes_ask_open, yes_ask_low, yes_ask_high, yes_ask_close,
			last_open, last_low, last_high, last_close,
			volume, open_interest
		) VALUES (?,?,?, ?,?,?,?, ?,?,?,?, ?,?,?,?, ?,?)
	`,
		c.Ticker, int(c.PeriodInterval), c.EndPeriodTs.Unix(),
		c.YesBid.Open, c.YesBid.Low, c.YesBid.High, nullableInt(c.YesBid.Close),
		c.YesAsk.Open, c.YesAsk.Low, c.YesAsk.High, nullableInt(c.YesAsk.Close),
		lastOpenVal, lastLowVal, lastHighVal, nullableInt(c.LastTrade.Close),
		c.Volume, c.OpenInterest,
	)
	return err
}

// ListInWindow returns candles for a ticker/interval with end_period_ts in
// [start, end], ordered ascending by time.
func (r *CandleRepo) ListInWindow(ctx context.Context, ticker string, interval domain.PeriodInterval, start, end time.Time) ([]domain.Candlestick, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT end_period_ts,
			yes_bid_open, yes_bid_low, yes_bid_high, yes_bid_close,
			yes_ask_open, yes_ask_low, yes_ask_high, yes_ask_close,
			last_open, last_low, last_high, last_close,
			volume, open_interest
		FROM candlesticks
		WHERE ticker = ? AND period_interval = ? AND end_period_ts BETWEEN ? AND ?
		ORDER BY end_period_ts ASC
	`, ticker, int(interval), start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candlestick
	for rows.Next() {
		c := domain.Candlestick{Ticker: ticker, PeriodInterval: interval}
		var endTs int64
		var yesBidClose, yesAskClose, lastOpen, lastLow, lastHigh, lastClose sql.NullInt64
		if err := rows.Scan(&endTs,
			&c.YesBid.Open, &c.YesBid.Low, &c.YesBid.High, &yesBidClose,
			&c.YesAsk.Open, &c.YesAsk.Low, &c.YesAsk.High, &yesAskClose,
			&lastOpen, &lastLow, &lastHigh, &lastClose,
			&c.Volume, &c.OpenInterest,
		); err != nil {
			return nil, err
		}
		c.EndPeriodTs = time.Unix(endTs, 0).UTC()
		if yesBidClose.Valid {
			v := int(yesBidClose.Int64)
			c.YesBid.Close = &v
		}
		if yesAskClose.Valid {
			v := int(yesAskClose.Int64)
			c.YesAsk.Close = &v
		}
		if lastOpen.Valid {
			c.LastTrade.Open = int(lastOpen.Int64)
		}
		if lastLow.Valid {
			c.LastTrade.Low = int(lastLow.Int64)
		}
		if lastHigh.Valid {
			c.LastTrade.High = int(lastHigh.Int64)
		}
		if lastClose.Valid {
			v := int(lastClose.Int64)
			c.LastTrade.Close = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteByTicker removes every candle row for a ticker (cleanup cascade, §4.8).
func (r *CandleRepo) DeleteByTicker(ctx context.Context, ticker string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM candlesticks WHERE ticker = ?`, ticker)
	return err
}
