package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// centiCentsPerDollar converts the broker's integer monetary unit.
var centiCentsPerDollar = decimal.NewFromInt(10000)

// CentiCentsToDollars converts a broker centi-cent amount to dollars.
func CentiCentsToDollars(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(centiCentsPerDollar)
}

// CentsToPrice converts a cent quote (0–100) to decimal probability units.
func CentsToPrice(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100))
}

// EventResponse is the wire shape of GET /events/{ticker}.
type EventResponse struct {
	Event   EventWire    `json:"event"`
	Markets []MarketWire `json:"markets"`
}

// EventWire is the event header.
type EventWire struct {
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	StrikeDate  string `json:"strike_date"` // RFC3339, UTC expiry
}

// MarketWire is one strike market as returned by the broker.
type MarketWire struct {
	Ticker       string  `json:"ticker"`
	Status       string  `json:"status"`
	FloorStrike  float64 `json:"floor_strike"`
	YesBid       int     `json:"yes_bid"`
	YesAsk       int     `json:"yes_ask"`
	NoBid        int     `json:"no_bid"`
	NoAsk        int     `json:"no_ask"`
	LastPrice    int     `json:"last_price"`
	Volume       int64   `json:"volume"`
	Volume24h    int64   `json:"volume_24h"`
	OpenInterest int64   `json:"open_interest"`
}

// BalanceResponse is the wire shape of GET /portfolio/balance.
// Balance is centi-cents.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// PositionWire is one market position; monetary fields are centi-cents.
type PositionWire struct {
	Ticker         string `json:"ticker"`
	TotalTraded    int64  `json:"total_traded"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	RealizedPnL    int64  `json:"realized_pnl"`
	FeesPaid       int64  `json:"fees_paid"`
	LastUpdatedTS  string `json:"last_updated_ts"`
}

// PositionsResponse is the wire shape of GET /portfolio/positions.
type PositionsResponse struct {
	MarketPositions []PositionWire `json:"market_positions"`
	Cursor          string         `json:"cursor"`
}

// FillWire is one execution; prices are cents.
type FillWire struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	OrderID     string `json:"order_id"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time"`
}

// FillsResponse is the wire shape of GET /portfolio/fills.
type FillsResponse struct {
	Fills  []FillWire `json:"fills"`
	Cursor string     `json:"cursor"`
}

// OrderWire is one resting or historical order; prices are cents.
type OrderWire struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	Count       int    `json:"count"`
	CreatedTime string `json:"created_time"`
}

// OrdersResponse is the wire shape of GET /portfolio/orders.
type OrdersResponse struct {
	Orders []OrderWire `json:"orders"`
	Cursor string      `json:"cursor"`
}

// SettlementWire is one market settlement; revenue is centi-cents.
type SettlementWire struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"`
	Revenue      int64  `json:"revenue"`
	YesCount     int    `json:"yes_count"`
	NoCount      int    `json:"no_count"`
	SettledTime  string `json:"settled_time"`
}

// SettlementsResponse is the wire shape of GET /portfolio/settlements.
type SettlementsResponse struct {
	Settlements []SettlementWire `json:"settlements"`
	Cursor      string           `json:"cursor"`
}

// OrderRequest is a market-order submission.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`   // "yes" | "no"
	Action        string `json:"action"` // "buy" | "sell"
	Count         int    `json:"count"`
	Type          string `json:"type"` // "market"
}

// OrderAck is the broker's acceptance of an order.
type OrderAck struct {
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}

// Client is the broker REST API client. It wraps a resty HTTP client
// with rate limiting, retry on 5xx, and signed headers on every call.
type Client struct {
	http       *resty.Client
	auth       *Auth
	rl         *RateLimiter
	pathPrefix string // "/trade-api/v2", part of the signing input
}

// NewClient creates a REST client against baseURL (mode-selected by the
// caller). pathPrefix is the API prefix included in signatures.
func NewClient(baseURL, pathPrefix string, auth *Auth) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		auth:       auth,
		rl:         NewRateLimiter(),
		pathPrefix: pathPrefix,
	}
}

// get performs one signed GET. path excludes the API prefix; query
// parameters are not part of the signature.
func (c *Client) get(ctx context.Context, bucket *TokenBucket, path string, query map[string]string, result any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	headers, err := c.auth.Headers(http.MethodGet, c.pathPrefix+path)
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(query).
		SetResult(result).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetEvent fetches one event with its nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (*EventResponse, error) {
	var result EventResponse
	err := c.get(ctx, c.rl.Market, "/events/"+eventTicker,
		map[string]string{"with_nested_markets": "true"}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	var result BalanceResponse
	if err := c.get(ctx, c.rl.Portfolio, "/portfolio/balance", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPositions fetches all market positions, following the cursor.
func (c *Client) GetPositions(ctx context.Context) ([]PositionWire, error) {
	var all []PositionWire
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page PositionsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/positions", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.MarketPositions...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetFills fetches recent fills, following the cursor.
func (c *Client) GetFills(ctx context.Context) ([]FillWire, error) {
	var all []FillWire
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page FillsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/fills", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Fills...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetOrders fetches orders, following the cursor.
func (c *Client) GetOrders(ctx context.Context) ([]OrderWire, error) {
	var all []OrderWire
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page OrdersResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/orders", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Orders...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetSettlements fetches settlements, following the cursor.
func (c *Client) GetSettlements(ctx context.Context) ([]SettlementWire, error) {
	var all []SettlementWire
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page SettlementsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/settlements", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Settlements...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// CreateOrder submits one market order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/portfolio/orders"
	headers, err := c.auth.Headers(http.MethodPost, c.pathPrefix+path)
	if err != nil {
		return nil, err
	}

	var ack OrderAck
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(req).
		SetResult(&ack).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &ack, nil
}
