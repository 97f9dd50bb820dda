package kalshi

import "encoding/json"

// Page wraps an upstream list response with its pagination cursor. Some
// upstream endpoints carry the cursor outside the typed schema entirely;
// Page.Cursor is always resolved by rawCursor as a fallback (§4.1 open
// question) so callers never need to know which shape a given endpoint used.
type Page[T any] struct {
	Items  []T
	Cursor string
}

// rawCursor extracts a top-level "cursor" field from a raw JSON body,
// tolerating its absence. An absent or empty cursor means the list
// terminates.
func rawCursor(body []byte) string {
	var env struct {
		Cursor string `json:"cursor"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Cursor
}

// MarketStatus mirrors the upstream market lifecycle status vocabulary.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
	MarketStatusInitial MarketStatus = "initialized"
	MarketStatusActive  MarketStatus = "active"
)

// Market is the upstream wire shape for a single market record, returned by
// both list-markets and get-market.
type Market struct {
	Ticker          string `json:"ticker"`
	EventTicker     string `json:"event_ticker"`
	MarketType      string `json:"market_type"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	YesBid          *int   `json:"yes_bid"`
	YesAsk          *int   `json:"yes_ask"`
	NoBid           *int   `json:"no_bid"`
	NoAsk           *int   `json:"no_ask"`
	LastPrice       *int   `json:"last_price"`
	PreviousYesBid  *int   `json:"previous_yes_bid"`
	PreviousYesAsk  *int   `json:"previous_yes_ask"`
	PreviousPrice   *int   `json:"previous_price"`
	Volume          int64  `json:"volume"`
	Volume24h       int64  `json:"volume_24h"`
	OpenInterest    int64  `json:"open_interest"`
	Liquidity       int64  `json:"liquidity"`
	Notional        int64  `json:"notional_value"`
	CloseTime       string `json:"close_time"`
	ExpirationTime  string `json:"expiration_time"`
	SettlementValue *int   `json:"settlement_value"`
	Result          string `json:"result"`
	RulesPrimary    string `json:"rules_primary"`
}

// ListMarketsParams are the supported list-markets query filters (§4.1).
type ListMarketsParams struct {
	Limit             int
	Cursor            string
	Status            string
	MinCreatedTs      int64
	MaxCreatedTs      int64
	WithNestedMarkets bool
}

// Series is the upstream wire shape for a series record.
type Series struct {
	Ticker    string   `json:"ticker"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Frequency string   `json:"frequency"`
}

// Event is the upstream wire shape for an event record (list-events shape).
type Event struct {
	EventTicker       string `json:"event_ticker"`
	SeriesTicker      string `json:"series_ticker"`
	Title             string `json:"title"`
	Category          string `json:"category"`
	StrikeDate        string `json:"strike_date"`
	MutuallyExclusive bool   `json:"mutually_exclusive"`
}

// EventDetail is the richer get-event / get-event-metadata shape, nesting
// its child markets for batched ingestion (§4.4 event-detail fan-out).
type EventDetail struct {
	Event   Event    `json:"event"`
	Markets []Market `json:"markets"`
}

// MultivariateEvent models a list-multivariate-events record.
type MultivariateEvent struct {
	EventTicker string   `json:"event_ticker"`
	Collection  string   `json:"collection_ticker"`
	Legs        []string `json:"legs"`
}

// CategoryTags is the tags-for-series-categories response shape: a map of
// category name to its tag vocabulary.
type CategoryTags map[string][]string

// Candlestick is the upstream wire shape for one OHLC bucket.
type Candlestick struct {
	EndPeriodTs  int64 `json:"end_period_ts"`
	YesBidOpen   int   `json:"yes_bid_open"`
	YesBidLow    int   `json:"yes_bid_low"`
	YesBidHigh   int   `json:"yes_bid_high"`
	YesBidClose  *int  `json:"yes_bid_close"`
	YesAskOpen   int   `json:"yes_ask_open"`
	YesAskLow    int   `json:"yes_ask_low"`
	YesAskHigh   int   `json:"yes_ask_high"`
	YesAskClose  *int  `json:"yes_ask_close"`
	LastOpen     int   `json:"open"`
	LastLow      int   `json:"low"`
	LastHigh     int   `json:"high"`
	LastClose    *int  `json:"close"`
	Volume       int64 `json:"volume"`
	OpenInterest int64 `json:"open_interest"`
}

// GetCandlesticksParams are the required windowing parameters (§3).
// SeriesTicker and Ticker are distinct namespaces (e.g. series "KXHIGHNY"
// vs market "KXHIGHNY-25JUL21-B69.5") and must both be supplied.
type GetCandlesticksParams struct {
	SeriesTicker   string
	Ticker         string
	StartTs        int64
	EndTs          int64
	PeriodInterval int
}

// OrderbookLevel is one price/size rung.
type OrderbookLevel struct {
	Price int   `json:"price"`
	Size  int64 `json:"size"`
}

// Orderbook is the upstream get-orderbook response shape.
type Orderbook struct {
	Ticker string           `json:"ticker"`
	Yes    []OrderbookLevel `json:"yes"`
	No     []OrderbookLevel `json:"no"`
}
