package trade

import (
	"context"
	"testing"
	"time"

	"strike-engine/pkg/types"
)

type fakePrices struct {
	price    float64
	momentum int
}

func (f *fakePrices) LatestPrice() (float64, bool) { return f.price, true }
func (f *fakePrices) LatestMomentum() (int, bool) { return f.momentum, true }

type fakeSink struct {
	opens  []types.Ticket
	closes []types.Ticket
	trades map[int64]types.Trade
}

func (f *fakeSink) SubmitOpen(ctx context.Context, t types.Ticket) (int64, error) {
	f.opens = append(f.opens, t)
	return int64(len(f.opens)), nil
}

func (f *fakeSink) SubmitClose(ctx context.Context, t types.Ticket) error {
	f.closes = append(f.closes, t)
	return nil
}

func (f *fakeSink) Trade(id int64) (types.Trade, bool, error) {
	t, ok := f.trades[id]
	return t, ok, nil
}

func validRequest() Request {
	return Request{
		Strike:      119000,
		Side:        types.SideYes,
		Ticker:      "KXBTCD-25JUL3117-B119000",
		BuyPrice:    0.93,
		Prob:        95.5,
		Position:    5,
		EntryMethod: types.EntryAuto,
	}
}

func TestOpenTradeMintsTicket(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	init := NewInitiator("btc", &fakePrices{price: 119050, momentum: 5}, sink, time.UTC)

	id, ticket, err := init.OpenTrade(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if ticket.TicketID == "" {
		t.Error("ticket_id must be minted")
	}
	if ticket.Intent != types.IntentOpen {
		t.Errorf("intent = %v, want open", ticket.Intent)
	}
	if ticket.SymbolOpen != 119050 {
		t.Errorf("symbol_open = %v, want 119050", ticket.SymbolOpen)
	}
	if ticket.Momentum != 5 {
		t.Errorf("momentum = %d, want 5", ticket.Momentum)
	}
	if ticket.Date == "" || ticket.Time == "" {
		t.Error("date/time stamps are required")
	}
}

func TestOpenTradeUniqueTicketIDs(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	init := NewInitiator("btc", &fakePrices{price: 119050}, sink, time.UTC)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, ticket, err := init.OpenTrade(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("OpenTrade: %v", err)
		}
		if seen[ticket.TicketID] {
			t.Fatalf("duplicate ticket_id %s", ticket.TicketID)
		}
		seen[ticket.TicketID] = true
	}
}

func TestOpenTradeValidation(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	init := NewInitiator("btc", &fakePrices{price: 119050}, sink, time.UTC)

	mutations := []struct {
		name string
		mod  func(*Request)
	}{
		{"missing strike", func(r *Request) { r.Strike = 0 }},
		{"bad side", func(r *Request) { r.Side = "X" }},
		{"missing ticker", func(r *Request) { r.Ticker = "" }},
		{"zero buy price", func(r *Request) { r.BuyPrice = 0 }},
		{"buy price above 1", func(r *Request) { r.BuyPrice = 1.5 }},
		{"missing prob", func(r *Request) { r.Prob = 0 }},
		{"zero position", func(r *Request) { r.Position = 0 }},
	}
	for _, m := range mutations {
		req := validRequest()
		m.mod(&req)
		if _, _, err := init.OpenTrade(context.Background(), req); err == nil {
			t.Errorf("%s: expected rejection", m.name)
		}
	}
	if len(sink.opens) != 0 {
		t.Errorf("invalid requests must not reach the manager, got %d", len(sink.opens))
	}
}

func TestCloseTradeInvertsSide(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{trades: map[int64]types.Trade{
		42: {
			ID:       42,
			TicketID: "orig-ticket",
			Status:   types.StatusOpen,
			Side:     types.SideYes,
			Strike:   119000,
			Ticker:   "KXBTCD-25JUL3117-B119000",
			Position: 3,
			Symbol:   "btc",
		},
	}}
	init := NewInitiator("btc", &fakePrices{price: 119120}, sink, time.UTC)

	if err := init.CloseTrade(context.Background(), 42, 0.06, "manual"); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if len(sink.closes) != 1 {
		t.Fatalf("closes = %d, want 1", len(sink.closes))
	}

	ticket := sink.closes[0]
	if ticket.Side != types.SideNo {
		t.Errorf("close side = %v, want inverted N", ticket.Side)
	}
	if ticket.TradeID != 42 {
		t.Errorf("trade_id = %d, want 42", ticket.TradeID)
	}
	if ticket.TicketID == "" || ticket.TicketID == "orig-ticket" {
		t.Errorf("close must mint a fresh ticket_id, got %q", ticket.TicketID)
	}
	if ticket.SymbolClose != 119120 {
		t.Errorf("symbol_close = %v, want 119120", ticket.SymbolClose)
	}
	if ticket.SellPrice != 0.06 {
		t.Errorf("sell_price = %v, want 0.06", ticket.SellPrice)
	}
}

func TestCloseTradeRejectsNonOpen(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{trades: map[int64]types.Trade{
		7: {ID: 7, Status: types.StatusPending},
	}}
	init := NewInitiator("btc", &fakePrices{price: 119120}, sink, time.UTC)

	if err := init.CloseTrade(context.Background(), 7, 0.5, "manual"); err == nil {
		t.Error("closing a pending trade should fail")
	}
	if err := init.CloseTrade(context.Background(), 404, 0.5, "manual"); err == nil {
		t.Error("closing an unknown trade should fail")
	}
}
