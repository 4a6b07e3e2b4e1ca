// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine: trade tickets and
// ledger rows, market snapshots, strike-table rows, mirrored account data,
// and WebSocket payloads. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the contract side of a binary-option trade.
type Side string

const (
	SideYes Side = "Y"
	SideNo  Side = "N"
)

// Opposite returns the inverted side (used when closing a position).
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// TradeStatus is the lifecycle state of a ledger trade.
// Transitions are one-way: pending → open → closing → closed, with
// expired (hour boundary) and error (executor failure) branches.
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusOpen    TradeStatus = "open"
	StatusClosing TradeStatus = "closing"
	StatusClosed  TradeStatus = "closed"
	StatusExpired TradeStatus = "expired"
	StatusError   TradeStatus = "error"
)

// Terminal reports whether the status is an end state of the machine.
// expired is transient: it resolves to closed once a settlement matches.
func (s TradeStatus) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// EntryMethod records how a trade was opened.
type EntryMethod string

const (
	EntryManual EntryMethod = "manual"
	EntryAuto   EntryMethod = "auto"
)

// WinLoss classifies a closed trade by the sign of its PnL.
type WinLoss string

const (
	Win  WinLoss = "W"
	Loss WinLoss = "L"
	Draw WinLoss = "D"
)

// WinLossFromPnL maps a realized PnL to its W/L/D class.
func WinLossFromPnL(pnl decimal.Decimal) WinLoss {
	switch pnl.Sign() {
	case 1:
		return Win
	case -1:
		return Loss
	default:
		return Draw
	}
}

// TicketIntent distinguishes open tickets from close tickets.
type TicketIntent string

const (
	IntentOpen  TicketIntent = "open"
	IntentClose TicketIntent = "close"
)

// Tick is one retained price observation, at most one per wall-clock
// second per symbol. Delta fields are percentage moves against the nearest
// prior tick at the given horizon, nil when no such tick exists yet.
// Momentum is the weighted multi-horizon delta score, scaled x100 and
// stored as an integer (the momentum-bucket key into the probability table).
type Tick struct {
	Timestamp    time.Time `json:"timestamp"`
	Price        float64   `json:"price"`
	OneMinuteAvg float64   `json:"one_minute_avg"`
	Momentum     *int      `json:"momentum"`
	Delta1m      *float64  `json:"delta_1m"`
	Delta2m      *float64  `json:"delta_2m"`
	Delta3m      *float64  `json:"delta_3m"`
	Delta4m      *float64  `json:"delta_4m"`
	Delta15m     *float64  `json:"delta_15m"`
	Delta30m     *float64  `json:"delta_30m"`
}

// Market is one strike contract inside an hourly event. Prices are quoted
// in cents (0–100). FloorStrike follows the broker convention of quoting
// one cent below the round strike (118999.99 for the 119000 strike).
type Market struct {
	Ticker       string  `json:"ticker"`
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

// Strike returns the round strike level for the market (floor strike
// rounded to the nearest integer).
func (m Market) Strike() int {
	return int(m.FloorStrike + 0.5)
}

// Snapshot is the latest view of one hourly event and its strike markets.
// StrikeTier is the observed common spacing between adjacent strikes.
type Snapshot struct {
	EventTicker  string    `json:"event_ticker"`
	EventTitle   string    `json:"event_title"`
	StrikeDate   time.Time `json:"strike_date"`
	MarketStatus string    `json:"market_status"`
	StrikeTier   int       `json:"strike_tier"`
	Markets      []Market  `json:"markets"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// MarketByStrike returns the market whose round strike equals strike.
func (s *Snapshot) MarketByStrike(strike int) (Market, bool) {
	for _, m := range s.Markets {
		if m.Strike() == strike {
			return m, true
		}
	}
	return Market{}, false
}

// MarketByTicker returns the market with the given contract ticker.
func (s *Snapshot) MarketByTicker(ticker string) (Market, bool) {
	for _, m := range s.Markets {
		if m.Ticker == ticker {
			return m, true
		}
	}
	return Market{}, false
}

// TTCSeconds returns whole seconds until the event's expiry, never negative.
func (s *Snapshot) TTCSeconds(now time.Time) int {
	ttc := int(s.StrikeDate.Sub(now).Seconds())
	if ttc < 0 {
		return 0
	}
	return ttc
}

// StrikeRow is one candidate strike in the per-second decision table.
// Probability is the model probability (percent) that the strike's active
// side settles in the money. YesDiff/NoDiff are the signed gaps between
// model probability and quoted ask; positive is favorable.
type StrikeRow struct {
	Strike      int     `json:"strike"`
	Ticker      string  `json:"ticker"`
	Buffer      float64 `json:"buffer"`
	BufferPct   float64 `json:"buffer_pct"`
	Probability float64 `json:"probability"`
	YesAsk      int     `json:"yes_ask"`
	NoAsk       int     `json:"no_ask"`
	YesDiff     float64 `json:"yes_diff"`
	NoDiff      float64 `json:"no_diff"`
	Volume      int64   `json:"volume"`
	AboveMoney  bool    `json:"above_money_line"`
}

// ActiveSide returns the side whose ask prices the favorable entry:
// NO for strikes above the money line, YES for strikes below it.
func (r StrikeRow) ActiveSide() Side {
	if r.AboveMoney {
		return SideNo
	}
	return SideYes
}

// ActiveAsk returns the quoted ask in cents on the active side.
func (r StrikeRow) ActiveAsk() int {
	if r.AboveMoney {
		return r.NoAsk
	}
	return r.YesAsk
}

// ActiveDiff returns the differential on the active side.
func (r StrikeRow) ActiveDiff() float64 {
	if r.AboveMoney {
		return r.NoDiff
	}
	return r.YesDiff
}

// StrikeTable is the full per-second artifact consumed by UIs and the
// auto-entry supervisor. Rows in a watchlist artifact are pre-filtered
// and sorted by probability descending.
type StrikeTable struct {
	Symbol       string      `json:"symbol"`
	CurrentPrice float64     `json:"current_price"`
	TTC          int         `json:"ttc"`
	Broker       string      `json:"broker"`
	EventTicker  string      `json:"event_ticker"`
	MarketTitle  string      `json:"market_title"`
	StrikeTier   int         `json:"strike_tier"`
	MarketStatus string      `json:"market_status"`
	LastUpdated  time.Time   `json:"last_updated"`
	Strikes      []StrikeRow `json:"strikes"`
}

// LiveProbability is one strike's model probability in the
// live-probabilities artifact.
type LiveProbability struct {
	Strike     int     `json:"strike"`
	ProbWithin float64 `json:"prob_within"`
	Direction  string  `json:"direction"`
}

// LiveProbabilities is the per-second probability artifact.
type LiveProbabilities struct {
	Timestamp     time.Time         `json:"timestamp"`
	CurrentPrice  float64           `json:"current_price"`
	TTCSeconds    int               `json:"ttc_seconds"`
	Probabilities []LiveProbability `json:"probabilities"`
}

// Ticket is the canonical trade intent minted by the initiator. An open
// ticket carries entry fields; a close ticket carries the ledger TradeID
// of the position being closed and the inverted side.
type Ticket struct {
	TicketID    string       `json:"ticket_id"`
	Intent      TicketIntent `json:"intent"`
	TradeID     int64        `json:"trade_id,omitempty"`
	Date        string       `json:"date"`
	Time        string       `json:"time"`
	Symbol      string       `json:"symbol"`
	Market      string       `json:"market"`
	Strategy    string       `json:"trade_strategy"`
	Contract    string       `json:"contract"`
	Strike      int          `json:"strike"`
	Side        Side         `json:"side"`
	Ticker      string       `json:"ticker"`
	Prob        float64      `json:"prob"`
	Position    int          `json:"position"`
	BuyPrice    float64      `json:"buy_price"`
	SellPrice   float64      `json:"sell_price,omitempty"`
	SymbolOpen  float64      `json:"symbol_open"`
	SymbolClose float64      `json:"symbol_close,omitempty"`
	Momentum    int          `json:"momentum"`
	EntryMethod EntryMethod  `json:"entry_method"`
	CloseMethod string       `json:"close_method,omitempty"`
}

// Trade is the ledger row owned by the trade manager. Prices are in
// decimal probability units (0–1); fees and PnL are dollars.
type Trade struct {
	ID          int64            `json:"id"`
	TicketID    string           `json:"ticket_id"`
	Status      TradeStatus      `json:"status"`
	Date        string           `json:"date"`
	Time        string           `json:"time"`
	Symbol      string           `json:"symbol"`
	Market      string           `json:"market"`
	Strategy    string           `json:"trade_strategy"`
	Contract    string           `json:"contract"`
	Strike      int              `json:"strike"`
	Side        Side             `json:"side"`
	Ticker      string           `json:"ticker"`
	Prob        float64          `json:"prob"`
	Position    int              `json:"position"`
	BuyPrice    float64          `json:"buy_price"`
	SellPrice   *float64         `json:"sell_price"`
	ClosedAt    *time.Time       `json:"closed_at"`
	Fees        decimal.Decimal  `json:"fees"`
	PnL         *decimal.Decimal `json:"pnl"`
	SymbolOpen  float64          `json:"symbol_open"`
	SymbolClose *float64         `json:"symbol_close"`
	Momentum    int              `json:"momentum"`
	WinLoss     *WinLoss         `json:"win_loss"`
	Diff        int              `json:"diff"`
	EntryMethod EntryMethod      `json:"entry_method"`
	CloseMethod string           `json:"close_method"`
}

// ActiveTrade mirrors an open ledger trade plus live telemetry refreshed
// at 1 Hz by the active-trade supervisor.
type ActiveTrade struct {
	TradeID            int64       `json:"trade_id"`
	TicketID           string      `json:"ticket_id"`
	Date               string      `json:"date"`
	Time               string      `json:"time"`
	Symbol             string      `json:"symbol"`
	Strike             int         `json:"strike"`
	Side               Side        `json:"side"`
	Ticker             string      `json:"ticker"`
	Position           int         `json:"position"`
	BuyPrice           float64     `json:"buy_price"`
	Prob               float64     `json:"prob"`
	SymbolOpen         float64     `json:"symbol_open"`
	EntryMethod        EntryMethod `json:"entry_method"`
	CurrentSymbolPrice float64     `json:"current_symbol_price"`
	CurrentProbability float64     `json:"current_probability"`
	BufferFromEntry    float64     `json:"buffer_from_entry"`
	TimeSinceEntry     int         `json:"time_since_entry"`
	CurrentClosePrice  float64     `json:"current_close_price"`
	CurrentPnL         string      `json:"current_pnl"`
	LastUpdated        time.Time   `json:"last_updated"`
}

// Position mirrors one broker market position, keyed by ticker.
// Monetary fields are converted from centi-cents to dollars on ingest;
// Raw retains the broker payload for forensics.
type Position struct {
	Ticker         string          `json:"ticker"`
	TotalTraded    int64           `json:"total_traded"`
	Position       int             `json:"position"`
	MarketExposure decimal.Decimal `json:"market_exposure"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	LastUpdated    time.Time       `json:"last_updated"`
	Raw            string          `json:"raw"`
}

// Fill mirrors one immutable broker execution, keyed by the broker's
// trade ID. Prices are decimal probability units.
type Fill struct {
	TradeID     string          `json:"trade_id"`
	Ticker      string          `json:"ticker"`
	OrderID     string          `json:"order_id"`
	Side        string          `json:"side"`
	Action      string          `json:"action"`
	Count       int             `json:"count"`
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoPrice     decimal.Decimal `json:"no_price"`
	IsTaker     bool            `json:"is_taker"`
	CreatedTime time.Time       `json:"created_time"`
}

// Order mirrors one broker order.
type Order struct {
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Side        string    `json:"side"`
	Action      string    `json:"action"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	YesPrice    int       `json:"yes_price"`
	NoPrice     int       `json:"no_price"`
	Count       int       `json:"count"`
	CreatedTime time.Time `json:"created_time"`
}

// Settlement mirrors one broker market settlement, used to finalize
// expired trades. Revenue is dollars.
type Settlement struct {
	Ticker       string          `json:"ticker"`
	MarketResult string          `json:"market_result"`
	Revenue      decimal.Decimal `json:"revenue"`
	YesCount     int             `json:"yes_count"`
	NoCount      int             `json:"no_count"`
	SettledTime  time.Time       `json:"settled_time"`
}

// Balance is the mirrored account balance in dollars.
type Balance struct {
	Balance     decimal.Decimal `json:"balance"`
	LastUpdated time.Time       `json:"last_updated"`
}

// BookTop is the derived top-of-book for one contract, published by the
// orderbook consumer. Prices are in cents; the bid is the highest
// resting level on a side, the ask the lowest. A side with no resting
// orders reports zero for both.
type BookTop struct {
	Ticker     string    `json:"ticker"`
	YesBid     int       `json:"yes_bid"`
	YesBidQty  int       `json:"yes_bid_qty"`
	YesAsk     int       `json:"yes_ask"`
	YesAskQty  int       `json:"yes_ask_qty"`
	NoBid      int       `json:"no_bid"`
	NoBidQty   int       `json:"no_bid_qty"`
	NoAsk      int       `json:"no_ask"`
	NoAskQty   int       `json:"no_ask_qty"`
	Volume     int64     `json:"volume"`
	LastUpdate time.Time `json:"last_update"`
}

// WSCommand is the subscription envelope sent to the broker socket.
type WSCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params WSParams `json:"params"`
}

// WSParams carries the channel list and optional market filter.
type WSParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// OrderbookSnapshotMsg is the initial book state for one contract:
// resting quantity as [price_cents, quantity] pairs per side.
type OrderbookSnapshotMsg struct {
	MarketTicker string   `json:"market_ticker"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
}

// OrderbookDeltaMsg is one incremental book change.
type OrderbookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	Delta        int    `json:"delta"`
	Side         string `json:"side"`
}

// MarketPositionMsg is the user-channel position-change trigger.
// Monetary fields are centi-cents, as on the wire.
type MarketPositionMsg struct {
	MarketTicker string `json:"market_ticker"`
	Position     int    `json:"position"`
	PositionCost int64  `json:"position_cost"`
	RealizedPnL  int64  `json:"realized_pnl"`
	FeesPaid     int64  `json:"fees_paid"`
	Volume       int64  `json:"volume"`
}

// TickerMsg is one message from the public price feed.
type TickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}
