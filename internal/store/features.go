package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// FeatureRepo owns the append-only market_features table. Features are
// appended even when some inputs are missing (§4.5); duplicate deliveries
// simply append another row (§3).
type FeatureRepo struct {
	db *sql.DB
}

// NewFeatureRepo wraps the features database connection.
func NewFeatureRepo(db *Databases) *FeatureRepo {
	return &FeatureRepo{db: db.Features.Conn()}
}

// Append inserts one computed feature row.
func (r *FeatureRepo) Append(ctx context.Context, f domain.MarketFeature) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_features (
			ticker, feature_time,
			time_to_close_seconds, time_to_expiration_seconds,
			yes_bid_prob, yes_ask_prob, no_bid_prob, no_ask_prob, mid_prob, bid_ask_spread,
			return_1h, return_24h, realized_vol_1h, realized_vol_24h,
			top_liquidity_yes, top_liquidity_no, total_liquidity_yes, total_liquidity_no, orderbook_imbalance,
			volume_1h, volume_24h, notional_1h, notional_24h,
			category, market_type, status, external_probability, misprice_score
		) VALUES (?,?, ?,?, ?,?,?,?,?,?, ?,?,?,?, ?,?,?,?,?, ?,?,?,?, ?,?,?,?,?)
	`,
		f.Ticker, f.FeatureTime.Unix(),
		f.TimeToCloseSeconds, f.TimeToExpirationSeconds,
		f.YesBidProb, f.YesAskProb, f.NoBidProb, f.NoAskProb, f.MidProb, f.BidAskSpread,
		f.Return1h, f.Return24h, f.RealizedVol1h, f.RealizedVol24h,
		f.TopOfBookLiquidityYes, f.TopOfBookLiquidityNo, f.TotalLiquidityYes, f.TotalLiquidityNo, f.OrderbookImbalance,
		f.Volume1h, f.Volume24h, f.Notional1h, f.Notional24h,
		f.Category, f.MarketType, f.Status, nullableFloat(f.ExternalProbability), nullableFloat(f.MispriceScore),
	)
	return err
}

// Latest returns the most recent feature row for a ticker, or nil if none.
func (r *FeatureRepo) Latest(ctx context.Context, ticker string) (*domain.MarketFeature, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT ticker, feature_time,
			time_to_close_seconds, time_to_expiration_seconds,
			yes_bid_prob, yes_ask_prob, no_bid_prob, no_ask_prob, mid_prob, bid_ask_spread,
			return_1h, return_24h, realized_vol_1h, realized_vol_24h,
			top_liquidity_yes, top_liquidity_no, total_liquidity_yes, total_liquidity_no, orderbook_imbalance,
			volume_1h, volume_24h, notional_1h, notional_24h,
			category, market_type, status, external_probability, misprice_score
		FROM market_features WHERE ticker = ? ORDER BY feature_time DESC LIMIT 1
	`, ticker)

	var f domain.MarketFeature
	var featureTime int64
	var externalProb, mispriceScore sql.NullFloat64
	err := row.Scan(&f.Ticker, &featureTime,
		&f.TimeToCloseSeconds, &f.TimeToExpirationSeconds,
		&f.YesBidProb, &f.YesAskProb, &f.NoBidProb, &f.NoAskProb, &f.MidProb, &f.BidAskSpread,
		&f.Return1h, &f.Return24h, &f.RealizedVol1h, &f.RealizedVol24h,
		&f.TopOfBookLiquidityYes, &f.TopOfBookLiquidityNo, &f.TotalLiquidityYes, &f.TotalLiquidityNo, &f.OrderbookImbalance,
		&f.Volume1h, &f.Volume24h, &f.Notional1h, &f.Notional24h,
		&f.Category, &f.MarketType, &f.Status, &externalProb, &mispriceScore,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.FeatureTime = time.Unix(featureTime, 0).UTC()
	if externalProb.Valid {
		v := externalProb.Float64
		f.ExternalProbability = &v
	}
	if mispriceScore.Valid {
		v := mispriceScore.Float64
		f.MispriceScore = &v
	}
	return &f, nil
}

// DeleteByTicker removes every feature row for a ticker (cleanup cascade, §4.8).
func (r *FeatureRepo) DeleteByTicker(ctx context.Context, ticker string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM market_features WHERE ticker = ?`, ticker)
	return err
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
