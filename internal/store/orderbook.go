package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// OrderbookRepo owns the orderbook_snapshots and orderbook_events tables.
type OrderbookRepo struct {
	db *sql.DB
}

// NewOrderbookRepo wraps the orderbook database connection.
func NewOrderbookRepo(db *Databases) *OrderbookRepo {
	return &OrderbookRepo{db: db.Orderbook.Conn()}
}

// InsertSnapshot appends one orderbook snapshot row.
func (r *OrderbookRepo) InsertSnapshot(ctx context.Context, s domain.OrderbookSnapshot) error {
	yesJSON, err := json.Marshal(s.YesLevels)
	if err != nil {
		return err
	}
	noJSON, err := json.Marshal(s.NoLevels)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orderbook_snapshots (
			market_id, captured_at, yes_levels, no_levels,
			liquidity_yes, liquidity_no, best_yes_bid, best_yes_ask, spread
		) VALUES (?,?,?,?, ?,?,?,?,?)
	`, s.MarketID, s.CapturedAt.Unix(), string(yesJSON), string(noJSON),
		s.LiquidityYes, s.LiquidityNo, s.BestYesBid, s.BestYesAsk, s.Spread)
	return err
}

// Latest returns the most recent orderbook snapshot for a market, or nil if none.
func (r *OrderbookRepo) Latest(ctx context.Context, marketID string) (*domain.OrderbookSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT market_id, captured_at, yes_levels, no_levels, liquidity_yes, liquidity_no, best_yes_bid, best_yes_ask, spread
		FROM orderbook_snapshots WHERE market_id = ? ORDER BY captured_at DESC LIMIT 1
	`, marketID)
	return scanOrderbookSnapshot(row)
}

// Previous returns the orderbook snapshot immediately before a given
// capture time for a market, used to build the diff pair (§4.7). Returns
// nil if there is no earlier snapshot.
func (r *OrderbookRepo) Previous(ctx context.Context, marketID string, before time.Time) (*domain.OrderbookSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT market_id, captured_at, yes_levels, no_levels, liquidity_yes, liquidity_no, best_yes_bid, best_yes_ask, spread
		FROM orderbook_snapshots WHERE market_id = ? AND captured_at < ? ORDER BY captured_at DESC LIMIT 1
	`, marketID, before.Unix())
	return scanOrderbookSnapshot(row)
}

func scanOrderbookSnapshot(row *sql.Row) (*domain.OrderbookSnapshot, error) {
	var s domain.OrderbookSnapshot
	var capturedAt int64
	var yesJSON, noJSON string
	if err := row.Scan(&s.MarketID, &capturedAt, &yesJSON, &noJSON, &s.LiquidityYes, &s.LiquidityNo, &s.BestYesBid, &s.BestYesAsk, &s.Spread); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.CapturedAt = time.Unix(capturedAt, 0).UTC()
	_ = json.Unmarshal([]byte(yesJSON), &s.YesLevels)
	_ = json.Unmarshal([]byte(noJSON), &s.NoLevels)
	return &s, nil
}

// InsertEvents appends orderbook diff events.
func (r *OrderbookRepo) InsertEvents(ctx context.Context, events []domain.OrderbookEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orderbook_events (id, market_id, event_time, side, price_cents, size, type)
		VALUES (?,?,?,?,?,?,?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.MarketID, e.EventTime.Unix(), string(e.Side), e.PriceCents, e.Size, string(e.Type)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByTicker removes every orderbook snapshot/event row for a market
// (cleanup cascade, §4.8). Market id and ticker are the same identifier space.
func (r *OrderbookRepo) DeleteByTicker(ctx context.Context, ticker string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM orderbook_snapshots WHERE market_id = ?`, ticker); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM orderbook_events WHERE market_id = ?`, ticker)
	return err
}
