package store

import (
	"context"
	"database/sql"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// MarketsRepo owns the markets dimension table (metadata only; prices live
// in MarketSnapshot rows, per §3).
type MarketsRepo struct {
	db *sql.DB
}

// NewMarketsRepo wraps the dimensions database connection.
func NewMarketsRepo(db *Databases) *MarketsRepo {
	return &MarketsRepo{db: db.Dimensions.Conn()}
}

// Upsert replacement-writes market metadata.
func (r *MarketsRepo) Upsert(ctx context.Context, m domain.Market) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO markets (ticker, event_ticker, title, market_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			event_ticker = excluded.event_ticker,
			title = excluded.title,
			market_type = excluded.market_type
	`, m.Ticker, m.EventTicker, m.Title, m.MarketType)
	return err
}

// Get returns one market's metadata, or nil if unknown.
func (r *MarketsRepo) Get(ctx context.Context, ticker string) (*domain.Market, error) {
	row := r.db.QueryRowContext(ctx, `SELECT ticker, event_ticker, title, market_type FROM markets WHERE ticker = ?`, ticker)
	var m domain.Market
	if err := row.Scan(&m.Ticker, &m.EventTicker, &m.Title, &m.MarketType); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
