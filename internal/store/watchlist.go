package store

import (
	"context"
	"database/sql"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// WatchlistRepo owns the market_high_priority table. Admin-only writes;
// readers take a snapshot at job start (§5).
type WatchlistRepo struct {
	db *sql.DB
}

// NewWatchlistRepo wraps the watchlist database connection.
func NewWatchlistRepo(db *Databases) *WatchlistRepo {
	return &WatchlistRepo{db: db.Watchlist.Conn()}
}

// Upsert adds or updates a watchlist entry.
func (r *WatchlistRepo) Upsert(ctx context.Context, w domain.MarketHighPriority) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_high_priority (ticker_id, priority, enable_l1, enable_l2, enable_l3, fetch_candlesticks, fetch_orderbook)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(ticker_id) DO UPDATE SET
			priority = excluded.priority,
			enable_l1 = excluded.enable_l1,
			enable_l2 = excluded.enable_l2,
			enable_l3 = excluded.enable_l3,
			fetch_candlesticks = excluded.fetch_candlesticks,
			fetch_orderbook = excluded.fetch_orderbook
	`, w.TickerID, w.Priority, boolToInt(w.EnableL1), boolToInt(w.EnableL2), boolToInt(w.EnableL3),
		boolToInt(w.FetchCandlesticks), boolToInt(w.FetchOrderbook))
	return err
}

// Remove deletes a watchlist entry (cleanup cascade, §4.8).
func (r *WatchlistRepo) Remove(ctx context.Context, tickerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM market_high_priority WHERE ticker_id = ?`, tickerID)
	return err
}

// ListAll returns a point-in-time snapshot of the whole watchlist.
func (r *WatchlistRepo) ListAll(ctx context.Context) ([]domain.MarketHighPriority, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker_id, priority, enable_l1, enable_l2, enable_l3, fetch_candlesticks, fetch_orderbook
		FROM market_high_priority ORDER BY priority DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MarketHighPriority
	for rows.Next() {
		var w domain.MarketHighPriority
		var l1, l2, l3, candles, orderbook int
		if err := rows.Scan(&w.TickerID, &w.Priority, &l1, &l2, &l3, &candles, &orderbook); err != nil {
			return nil, err
		}
		w.EnableL1, w.EnableL2, w.EnableL3 = l1 != 0, l2 != 0, l3 != 0
		w.FetchCandlesticks, w.FetchOrderbook = candles != 0, orderbook != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

// FilterFetchOrderbook returns only watchlist entries with FetchOrderbook set.
func FilterFetchOrderbook(entries []domain.MarketHighPriority) []domain.MarketHighPriority {
	return filterWatchlist(entries, func(w domain.MarketHighPriority) bool { return w.FetchOrderbook })
}

// FilterFetchCandlesticks returns only watchlist entries with FetchCandlesticks set.
func FilterFetchCandlesticks(entries []domain.MarketHighPriority) []domain.MarketHighPriority {
	return filterWatchlist(entries, func(w domain.MarketHighPriority) bool { return w.FetchCandlesticks })
}

func filterWatchlist(entries []domain.MarketHighPriority, keep func(domain.MarketHighPriority) bool) []domain.MarketHighPriority {
	var out []domain.MarketHighPriority
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
