package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRepo owns the append-only market_snapshots fact table. No
// exclusive owner: multiple sync workers may insert concurrently (§3).
type SnapshotRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepo wraps the snapshots database connection.
func NewSnapshotRepo(db *Databases, log zerolog.Logger) *SnapshotRepo {
	return &SnapshotRepo{db: db.Snapshots.Conn(), log: log.With().Str("repo", "snapshots").Logger()}
}

// ValidateSnapshot enforces invariant 1 (§8): yesBid <= yesAsk and every
// cents field lies in [0, 100].
func ValidateSnapshot(s domain.MarketSnapshot) error {
	if s.YesBidCents > s.YesAskCents {
		return domain.New(domain.KindInvalidRequest, "store.ValidateSnapshot",
			fmt.Errorf("ticker %s: yesBid %d > yesAsk %d", s.Ticker, s.YesBidCents, s.YesAskCents))
	}
	for name, cents := range map[string]int{
		"yesBid": s.YesBidCents, "yesAsk": s.YesAskCents,
		"noBid": s.NoBidCents, "noAsk": s.NoAskCents,
	} {
		if cents < 0 || cents > 100 {
			return domain.New(domain.KindInvalidRequest, "store.ValidateSnapshot",
				fmt.Errorf("ticker %s: %s=%d out of [0,100]", s.Ticker, name, cents))
		}
	}
	return nil
}

// DeriveDollars fills in the *Dollars fields from the integer cent fields.
// Per §9's resolved open question, the formatted string is always re-derived
// from the integer rather than trusted verbatim from upstream; if an
// upstream-supplied string is provided and disagrees, it is logged at warn
// and overwritten, never rejected.
func (r *SnapshotRepo) DeriveDollars(s *domain.MarketSnapshot) {
	derive := func(cents int) string {
		return strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
	}
	checkAndSet := func(field *string, cents int, name string) {
		derived := derive(cents)
		if *field != "" && *field != derived {
			r.log.Warn().Str("ticker", s.Ticker).Str("field", name).
				Str("upstream", *field).Str("derived", derived).
				Msg("dollar string mismatch with derived value, overwriting")
		}
		*field = derived
	}
	checkAndSet(&s.YesBidDollars, s.YesBidCents, "yesBidDollars")
	checkAndSet(&s.YesAskDollars, s.YesAskCents, "yesAskDollars")
	checkAndSet(&s.NoBidDollars, s.NoBidCents, "noBidDollars")
	checkAndSet(&s.NoAskDollars, s.NoAskCents, "noAskDollars")
}

// BulkAppend inserts each snapshot in its own row within one transaction.
// Invalid snapshots (invariant 1) are skipped and logged rather than
// aborting the whole batch, matching the fact table's tolerant, no-exclusive-
// owner posture (§3); the returned count is the number actually inserted.
func (r *SnapshotRepo) BulkAppend(ctx context.Context, snapshots []domain.MarketSnapshot) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.New(domain.KindStoreError, "store.BulkAppend", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_snapshots (
			id, ticker, series_key, generate_date,
			yes_bid_cents, yes_ask_cents, yes_last_cents, no_bid_cents, no_ask_cents, no_last_cents,
			yes_bid_dollars, yes_ask_dollars, no_bid_dollars, no_ask_dollars,
			previous_yes_bid_cents, previous_yes_ask_cents,
			volume_24h, open_interest, liquidity, notional,
			close_time, expiration_time, status, settlement_value, result, rules
		) VALUES (?,?,?,?, ?,?,?,?,?,?, ?,?,?,?, ?,?, ?,?,?,?, ?,?,?,?,?,?)
	`)
	if err != nil {
		return 0, domain.New(domain.KindStoreError, "store.BulkAppend", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range snapshots {
		s := snapshots[i]
		if err := ValidateSnapshot(s); err != nil {
			r.log.Warn().Err(err).Str("ticker", s.Ticker).Msg("dropping invalid snapshot")
			continue
		}
		r.DeriveDollars(&s)

		var closeTime, expirationTime interface{}
		if s.CloseTime != nil {
			closeTime = s.CloseTime.Unix()
		}
		if s.ExpirationTime != nil {
			expirationTime = s.ExpirationTime.Unix()
		}

		if _, err := stmt.ExecContext(ctx,
			s.ID, s.Ticker, s.SeriesKey, s.GenerateDate.Unix(),
			s.YesBidCents, s.YesAskCents, nullableInt(s.YesLastCents), s.NoBidCents, s.NoAskCents, nullableInt(s.NoLastCents),
			s.YesBidDollars, s.YesAskDollars, s.NoBidDollars, s.NoAskDollars,
			s.PreviousYesBidCents, s.PreviousYesAskCents,
			s.Volume24h, s.OpenInterest, s.Liquidity, s.Notional,
			closeTime, expirationTime, s.Status, nullableInt(s.SettlementValue), s.Result, s.Rules,
		); err != nil {
			return inserted, domain.New(domain.KindStoreError, "store.BulkAppend", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.New(domain.KindStoreError, "store.BulkAppend", err)
	}
	return inserted, nil
}

// LatestForTicker returns the most recent snapshot for a ticker (by
// generate_date descending), or nil if none exist.
func (r *SnapshotRepo) LatestForTicker(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, ticker, series_key, generate_date,
			yes_bid_cents, yes_ask_cents, yes_last_cents, no_bid_cents, no_ask_cents, no_last_cents,
			yes_bid_dollars, yes_ask_dollars, no_bid_dollars, no_ask_dollars,
			previous_yes_bid_cents, previous_yes_ask_cents,
			volume_24h, open_interest, liquidity, notional,
			close_time, expiration_time, status, settlement_value, result, rules
		FROM market_snapshots WHERE ticker = ? ORDER BY generate_date DESC LIMIT 1
	`, ticker)
	return scanSnapshot(row)
}

// AtOrBefore returns the latest snapshot for a ticker with generate_date <=
// asOf, used by the L2 historical-window lookups (§4.5). Returns nil if none.
func (r *SnapshotRepo) AtOrBefore(ctx context.Context, ticker string, asOf time.Time) (*domain.MarketSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, ticker, series_key, generate_date,
			yes_bid_cents, yes_ask_cents, yes_last_cents, no_bid_cents, no_ask_cents, no_last_cents,
			yes_bid_dollars, yes_ask_dollars, no_bid_dollars, no_ask_dollars,
			previous_yes_bid_cents, previous_yes_ask_cents,
			volume_24h, open_interest, liquidity, notional,
			close_time, expiration_time, status, settlement_value, result, rules
		FROM market_snapshots WHERE ticker = ? AND generate_date <= ? ORDER BY generate_date DESC LIMIT 1
	`, ticker, asOf.Unix())
	return scanSnapshot(row)
}

// TickersByStatusOlderThan returns tickers whose latest snapshot is in one
// of the given statuses and older than the cutoff, for the cleanup service (§4.8).
func (r *SnapshotRepo) TickersByStatusOlderThan(ctx context.Context, statuses []string, cutoff time.Time) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(statuses)+1)
	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, st)
	}
	args = append(args, cutoff.Unix())

	query := fmt.Sprintf(`
		SELECT ticker FROM (
			SELECT ticker, status, MAX(generate_date) AS latest
			FROM market_snapshots GROUP BY ticker
		) WHERE status IN (%s) AND latest < ?
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "store.TickersByStatusOlderThan", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// DeleteByTicker removes every snapshot row for a ticker (cleanup cascade, §4.8).
func (r *SnapshotRepo) DeleteByTicker(ctx context.Context, ticker string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM market_snapshots WHERE ticker = ?`, ticker)
	return err
}

func scanSnapshot(row *sql.Row) (*domain.MarketSnapshot, error) {
	var s domain.MarketSnapshot
	var generateDate int64
	var yesLast, noLast, settlementValue sql.NullInt64
	var closeTime, expirationTime sql.NullInt64

	err := row.Scan(
		&s.ID, &s.Ticker, &s.SeriesKey, &generateDate,
		&s.YesBidCents, &s.YesAskCents, &yesLast, &s.NoBidCents, &s.NoAskCents, &noLast,
		&s.YesBidDollars, &s.YesAskDollars, &s.NoBidDollars, &s.NoAskDollars,
		&s.PreviousYesBidCents, &s.PreviousYesAskCents,
		&s.Volume24h, &s.OpenInterest, &s.Liquidity, &s.Notional,
		&closeTime, &expirationTime, &s.Status, &settlementValue, &s.Result, &s.Rules,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	s.GenerateDate = time.Unix(generateDate, 0).UTC()
	if yesLast.Valid {
		v := int(yesLast.Int64)
		s.YesLastCents = &v
	}
	if noLast.Valid {
		v := int(noLast.Int64)
		s.NoLastCents = &v
	}
	if settlementValue.Valid {
		v := int(settlementValue.Int64)
		s.SettlementValue = &v
	}
	if closeTime.Valid {
		t := time.Unix(closeTime.Int64, 0).UTC()
		s.CloseTime = &t
	}
	if expirationTime.Valid {
		t := time.Unix(expirationTime.Int64, 0).UTC()
		s.ExpirationTime = &t
	}
	return &s, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
