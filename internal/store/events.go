package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// EventsRepo owns the events dimension table.
type EventsRepo struct {
	db *sql.DB
}

// NewEventsRepo wraps the dimensions database connection.
func NewEventsRepo(db *Databases) *EventsRepo {
	return &EventsRepo{db: db.Dimensions.Conn()}
}

// Upsert replacement-writes an Event row keyed by EventTicker.
func (r *EventsRepo) Upsert(ctx context.Context, e domain.Event) error {
	var strikeDate interface{}
	if !e.StrikeDate.IsZero() {
		strikeDate = e.StrikeDate.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (event_ticker, series_ticker, category, strike_date, mutually_excl, last_update, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_ticker) DO UPDATE SET
			series_ticker = excluded.series_ticker,
			category = excluded.category,
			strike_date = excluded.strike_date,
			mutually_excl = excluded.mutually_excl,
			last_update = excluded.last_update,
			deleted = excluded.deleted
	`, e.EventTicker, e.SeriesTicker, e.Category, strikeDate, boolToInt(e.MutuallyExcl), e.LastUpdate.Unix(), boolToInt(e.Deleted))
	return err
}

// SoftDelete marks an event deleted without removing the row.
func (r *EventsRepo) SoftDelete(ctx context.Context, eventTicker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET deleted = 1, last_update = ? WHERE event_ticker = ?`, at.Unix(), eventTicker)
	return err
}

// Get returns one event, used by the analytics engine's category fallback (§4.5 L3).
func (r *EventsRepo) Get(ctx context.Context, eventTicker string) (*domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT event_ticker, series_ticker, category, strike_date, mutually_excl, last_update, deleted
		FROM events WHERE event_ticker = ?`, eventTicker)

	var e domain.Event
	var strikeDate sql.NullInt64
	var mutuallyExcl, deleted, lastUpdate int64
	if err := row.Scan(&e.EventTicker, &e.SeriesTicker, &e.Category, &strikeDate, &mutuallyExcl, &lastUpdate, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if strikeDate.Valid {
		e.StrikeDate = time.Unix(strikeDate.Int64, 0).UTC()
	}
	e.MutuallyExcl = mutuallyExcl != 0
	e.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	e.Deleted = deleted != 0
	return &e, nil
}

// SeriesKeyFor derives a market snapshot's series key: eventTicker if the
// market belongs to one, else the market's own ticker.
func SeriesKeyFor(eventTicker, marketTicker string) string {
	if eventTicker != "" {
		return eventTicker
	}
	return marketTicker
}
