// Package trade implements the trade lifecycle: the stateless initiator
// that mints canonical tickets, the manager that owns the ledger and
// drives the state machine, and the executor that talks to the broker.
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"strike-engine/pkg/types"
)

// Request is a raw trade request, from the auto-entry supervisor or the
// manual entry endpoint, before it becomes a canonical ticket.
type Request struct {
	Strike      int
	Side        types.Side
	Ticker      string
	BuyPrice    float64 // decimal probability units (ask / 100)
	Prob        float64
	Position    int
	EntryMethod types.EntryMethod
	Strategy    string
	Contract    string
	Market      string
}

// PriceSource supplies the symbol price and momentum stamped onto tickets.
type PriceSource interface {
	LatestPrice() (float64, bool)
	LatestMomentum() (int, bool)
}

// TicketSink receives minted tickets; the trade manager implements it.
type TicketSink interface {
	SubmitOpen(ctx context.Context, t types.Ticket) (int64, error)
	SubmitClose(ctx context.Context, t types.Ticket) error
	Trade(id int64) (types.Trade, bool, error)
}

// Initiator validates trade requests and mints canonical tickets. It is
// stateless: all persistence happens downstream in the manager.
type Initiator struct {
	symbol string
	prices PriceSource
	sink   TicketSink
	loc    *time.Location
}

// NewInitiator creates the ticket minter. loc is the exchange timezone
// used for the human-readable date/time stamps.
func NewInitiator(symbol string, prices PriceSource, sink TicketSink, loc *time.Location) *Initiator {
	return &Initiator{symbol: symbol, prices: prices, sink: sink, loc: loc}
}

// OpenTrade validates req, mints an open ticket, and forwards it to the
// manager. Returns the ledger id of the created trade.
func (i *Initiator) OpenTrade(ctx context.Context, req Request) (int64, types.Ticket, error) {
	if err := validate(req); err != nil {
		return 0, types.Ticket{}, err
	}

	now := time.Now().In(i.loc)
	symbolOpen, _ := i.prices.LatestPrice()
	momentum, _ := i.prices.LatestMomentum()

	ticket := types.Ticket{
		TicketID:    uuid.NewString(),
		Intent:      types.IntentOpen,
		Date:        now.Format("2006-01-02"),
		Time:        now.Format("15:04:05"),
		Symbol:      i.symbol,
		Market:      req.Market,
		Strategy:    req.Strategy,
		Contract:    req.Contract,
		Strike:      req.Strike,
		Side:        req.Side,
		Ticker:      req.Ticker,
		Prob:        req.Prob,
		Position:    req.Position,
		BuyPrice:    req.BuyPrice,
		SymbolOpen:  symbolOpen,
		Momentum:    momentum,
		EntryMethod: req.EntryMethod,
	}

	id, err := i.sink.SubmitOpen(ctx, ticket)
	if err != nil {
		return 0, types.Ticket{}, err
	}
	return id, ticket, nil
}

// CloseTrade mints a close ticket for an existing ledger trade: the side
// is inverted, the current symbol price is frozen as the close snapshot,
// and a fresh ticket id is issued.
func (i *Initiator) CloseTrade(ctx context.Context, tradeID int64, sellPrice float64, closeMethod string) error {
	trade, ok, err := i.sink.Trade(tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no trade with id %d", tradeID)
	}
	if trade.Status != types.StatusOpen {
		return fmt.Errorf("trade %d is %s, not open", tradeID, trade.Status)
	}

	now := time.Now().In(i.loc)
	symbolClose, _ := i.prices.LatestPrice()

	ticket := types.Ticket{
		TicketID:    uuid.NewString(),
		Intent:      types.IntentClose,
		TradeID:     tradeID,
		Date:        now.Format("2006-01-02"),
		Time:        now.Format("15:04:05"),
		Symbol:      trade.Symbol,
		Strike:      trade.Strike,
		Side:        trade.Side.Opposite(),
		Ticker:      trade.Ticker,
		Position:    trade.Position,
		SellPrice:   sellPrice,
		SymbolClose: symbolClose,
		CloseMethod: closeMethod,
	}

	return i.sink.SubmitClose(ctx, ticket)
}

func validate(req Request) error {
	if req.Strike == 0 {
		return fmt.Errorf("strike is required")
	}
	if !req.Side.Valid() {
		return fmt.Errorf("side must be Y or N, got %q", req.Side)
	}
	if req.Ticker == "" {
		return fmt.Errorf("ticker is required")
	}
	if req.BuyPrice <= 0 || req.BuyPrice > 1 {
		return fmt.Errorf("buy_price must be in (0, 1], got %v", req.BuyPrice)
	}
	if req.Prob <= 0 {
		return fmt.Errorf("prob is required")
	}
	if req.Position <= 0 {
		return fmt.Errorf("position must be > 0, got %d", req.Position)
	}
	return nil
}
