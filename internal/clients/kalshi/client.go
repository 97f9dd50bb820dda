// Package kalshi implements the upstream prediction-market REST client
// (§3, §4.1). It wraps github.com/go-resty/resty/v2 the way an exchange
// CLOB client wraps it for order management — a single resty.Client with
// base URL, timeout, and retry-on-5xx baked in — generalized from order
// management to the read-only list/get surface this service consumes, and
// carrying a zerolog-based client logging convention throughout.
package kalshi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/kalshi-sentinel/internal/domain"
)

// Client is the Kalshi-shaped upstream REST client.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKeyID   string
	PrivateKey string
	Timeout    time.Duration
}

// New builds a Client with retry-on-5xx and the operator's timeout budget.
func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	if cfg.APIKeyID != "" {
		h.SetHeader("KALSHI-ACCESS-KEY", cfg.APIKeyID)
	}

	return &Client{http: h, log: log.With().Str("client", "kalshi").Logger()}
}

// classify maps a transport/status outcome to a domain.Error per the §7
// table: 429 -> RateLimitExceeded, 404 -> NotFound, 401/403 -> Unauthorized,
// 5xx or network failure -> TransientUpstream, other 4xx -> ApiError.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.New(domain.KindTransientUpstream, op, err)
	}
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}
	body := resp.String()
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewAPIError(domain.KindRateLimitExceeded, op, status, body, fmt.Errorf("rate limited"))
	case status == http.StatusNotFound:
		return domain.NewAPIError(domain.KindNotFound, op, status, body, fmt.Errorf("not found"))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAPIError(domain.KindUnauthorized, op, status, body, fmt.Errorf("unauthorized"))
	case status >= 500:
		return domain.NewAPIError(domain.KindTransientUpstream, op, status, body, fmt.Errorf("upstream error"))
	default:
		return domain.NewAPIError(domain.KindAPIError, op, status, body, fmt.Errorf("api error"))
	}
}

// ListMarkets lists markets filtered by status and creation window,
// paginated by opaque cursor (§4.1). The continuation call is the caller's
// responsibility (the synchronizer, not the client).
func (c *Client) ListMarkets(ctx context.Context, p ListMarketsParams) (Page[Market], error) {
	limit := p.Limit
	if limit == 0 {
		limit = 250
	}
	status := p.Status
	if status == "" {
		status = "open"
	}

	req := c.http.R().SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParam("status", status).
		SetQueryParam("with_nested_markets", fmt.Sprintf("%t", p.WithNestedMarkets))
	if p.Cursor != "" {
		req.SetQueryParam("cursor", p.Cursor)
	}
	if p.MinCreatedTs > 0 {
		req.SetQueryParam("min_created_ts", fmt.Sprintf("%d", p.MinCreatedTs))
	}
	if p.MaxCreatedTs > 0 {
		req.SetQueryParam("max_created_ts", fmt.Sprintf("%d", p.MaxCreatedTs))
	}

	var body struct {
		Markets []Market `json:"markets"`
		Cursor  string   `json:"cursor"`
	}
	resp, err := req.SetResult(&body).Get("/markets")
	if cerr := classify("kalshi.ListMarkets", resp, err); cerr != nil {
		return Page[Market]{}, cerr
	}

	cursor := body.Cursor
	if cursor == "" {
		cursor = rawCursor(resp.Body())
	}
	return Page[Market]{Items: body.Markets, Cursor: cursor}, nil
}

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	var body struct {
		Market Market `json:"market"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/markets/" + ticker)
	if cerr := classify("kalshi.GetMarket", resp, err); cerr != nil {
		return Market{}, cerr
	}
	return body.Market, nil
}

// ListEvents lists events, paginated by opaque cursor.
func (c *Client) ListEvents(ctx context.Context, cursor string, limit int) (Page[Event], error) {
	if limit == 0 {
		limit = 200
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	var body struct {
		Events []Event `json:"events"`
		Cursor string  `json:"cursor"`
	}
	resp, err := req.SetResult(&body).Get("/events")
	if cerr := classify("kalshi.ListEvents", resp, err); cerr != nil {
		return Page[Event]{}, cerr
	}

	cursor = body.Cursor
	if cursor == "" {
		cursor = rawCursor(resp.Body())
	}
	return Page[Event]{Items: body.Events, Cursor: cursor}, nil
}

// GetEvent fetches event detail with nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (EventDetail, error) {
	var body EventDetail
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).
		SetQueryParam("with_nested_markets", "true").
		Get("/events/" + eventTicker)
	if cerr := classify("kalshi.GetEvent", resp, err); cerr != nil {
		return EventDetail{}, cerr
	}
	return body, nil
}

// GetEventMetadata fetches supplementary event metadata (used by the
// event-detail batch sync to enrich records list-events does not carry).
func (c *Client) GetEventMetadata(ctx context.Context, eventTicker string) (EventDetail, error) {
	var body EventDetail
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).
		Get("/events/" + eventTicker + "/metadata")
	if cerr := classify("kalshi.GetEventMetadata", resp, err); cerr != nil {
		return EventDetail{}, cerr
	}
	return body, nil
}

// ListMultivariateEvents lists collection/leg groupings, paginated.
func (c *Client) ListMultivariateEvents(ctx context.Context, cursor string, limit int) (Page[MultivariateEvent], error) {
	if limit == 0 {
		limit = 200
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	var body struct {
		Events []MultivariateEvent `json:"multivariate_events"`
		Cursor string              `json:"cursor"`
	}
	resp, err := req.SetResult(&body).Get("/multivariate_events")
	if cerr := classify("kalshi.ListMultivariateEvents", resp, err); cerr != nil {
		return Page[MultivariateEvent]{}, cerr
	}

	cursor = body.Cursor
	if cursor == "" {
		cursor = rawCursor(resp.Body())
	}
	return Page[MultivariateEvent]{Items: body.Events, Cursor: cursor}, nil
}

// ListSeries lists series records, paginated.
func (c *Client) ListSeries(ctx context.Context, cursor string, limit int) (Page[Series], error) {
	if limit == 0 {
		limit = 200
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	var body struct {
		Series []Series `json:"series"`
		Cursor string   `json:"cursor"`
	}
	resp, err := req.SetResult(&body).Get("/series")
	if cerr := classify("kalshi.ListSeries", resp, err); cerr != nil {
		return Page[Series]{}, cerr
	}

	cursor = body.Cursor
	if cursor == "" {
		cursor = rawCursor(resp.Body())
	}
	return Page[Series]{Items: body.Series, Cursor: cursor}, nil
}

// TagsForSeriesCategories returns the tag vocabulary for every series
// category, used by the tags/categories diffing sync (§4.4).
func (c *Client) TagsForSeriesCategories(ctx context.Context) (CategoryTags, error) {
	var body CategoryTags
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/series/tags")
	if cerr := classify("kalshi.TagsForSeriesCategories", resp, err); cerr != nil {
		return nil, cerr
	}
	return body, nil
}

// GetOrderbook fetches the current order book for a ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (Orderbook, error) {
	var body struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/markets/" + ticker + "/orderbook")
	if cerr := classify("kalshi.GetOrderbook", resp, err); cerr != nil {
		return Orderbook{}, cerr
	}
	return body.Orderbook, nil
}

// GetCandlesticks fetches OHLC buckets over a window at a given period
// interval (§4.6 differential fetch window).
func (c *Client) GetCandlesticks(ctx context.Context, p GetCandlesticksParams) ([]Candlestick, error) {
	var body struct {
		Candlesticks []Candlestick `json:"candlesticks"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).
		SetQueryParam("start_ts", fmt.Sprintf("%d", p.StartTs)).
		SetQueryParam("end_ts", fmt.Sprintf("%d", p.EndTs)).
		SetQueryParam("period_interval", fmt.Sprintf("%d", p.PeriodInterval)).
		Get("/series/" + p.SeriesTicker + "/markets/" + p.Ticker + "/candlesticks")
	if cerr := classify("kalshi.GetCandlesticks", resp, err); cerr != nil {
		return nil, cerr
	}
	return body.Candlesticks, nil
}
