// Package store is the columnar-store DAO layer: append-only fact tables,
// replacement dimension tables, and the indexed reads the analytics engine
// and control surface need.
package store

import (
	"fmt"

	"github.com/aristath/kalshi-sentinel/internal/database"
	"github.com/aristath/kalshi-sentinel/internal/database/schemas"
)

// Databases bundles the seven SQLite handles the pipeline writes to, split
// by access pattern and retention policy.
type Databases struct {
	Dimensions *database.DB // series, events, tags_categories, markets
	Snapshots  *database.DB // market_snapshots (append-only, ledger profile)
	Candles    *database.DB // candlesticks (append-only, ledger profile)
	Orderbook  *database.DB // orderbook_snapshots, orderbook_events
	Features   *database.DB // market_features (append-only)
	Watchlist  *database.DB // market_high_priority
	Ops        *database.DB // sync_log, locks, counters, cache, bus tables
}

// Open opens and migrates all seven databases under dataDir. On any failure
// it closes whatever was already opened before returning.
func Open(dataDir string) (*Databases, error) {
	d := &Databases{}

	type step struct {
		target  **database.DB
		name    string
		path    string
		profile database.Profile
		schema  string
	}
	steps := []step{
		{&d.Dimensions, "dimensions", dataDir + "/dimensions.db", database.ProfileStandard, schemas.Dimensions},
		{&d.Snapshots, "snapshots", dataDir + "/snapshots.db", database.ProfileLedger, schemas.Snapshots},
		{&d.Candles, "candles", dataDir + "/candles.db", database.ProfileLedger, schemas.Candles},
		{&d.Orderbook, "orderbook", dataDir + "/orderbook.db", database.ProfileStandard, schemas.Orderbook},
		{&d.Features, "features", dataDir + "/features.db", database.ProfileLedger, schemas.Features},
		{&d.Watchlist, "watchlist", dataDir + "/watchlist.db", database.ProfileStandard, schemas.Watchlist},
		{&d.Ops, "ops", dataDir + "/ops.db", database.ProfileCache, schemas.Ops},
	}

	for _, s := range steps {
		db, err := database.Open(database.Config{Path: s.path, Profile: s.profile, Name: s.name})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", s.name, err)
		}
		if err := db.Migrate(s.schema); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", s.name, err)
		}
		*s.target = db
	}

	return d, nil
}

// Close closes every non-nil database handle, swallowing individual close
// errors for a best-effort shutdown.
func (d *Databases) Close() {
	for _, db := range []*database.DB{d.Dimensions, d.Snapshots, d.Candles, d.Orderbook, d.Features, d.Watchlist, d.Ops} {
		if db != nil {
			_ = db.Close()
		}
	}
}
