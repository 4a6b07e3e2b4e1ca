package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"strike-engine/internal/bus"
	"strike-engine/internal/trade"
	"strike-engine/pkg/types"
)

type fakePrices struct{}

func (fakePrices) LatestPrice() (float64, bool) { return 119050, true }
func (fakePrices) LatestMomentum() (int, bool)  { return 5, true }

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

type fakeManager struct {
	trades   map[int64]types.Trade
	failures []int64
	changed  []string
}

func (f *fakeManager) Trade(id int64) (types.Trade, bool, error) {
	t, ok := f.trades[id]
	return t, ok, nil
}

func (f *fakeManager) TradesByStatus(status types.TradeStatus) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range f.trades {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeManager) AllTrades() ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range f.trades {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeManager) ReportExecutorFailure(id int64) error {
	f.failures = append(f.failures, id)
	return nil
}

func (f *fakeManager) OnAccountChanged(database string) {
	f.changed = append(f.changed, database)
}

type fakeMonitor struct {
	changes []types.TradeStatus
	active  []types.ActiveTrade
}

func (f *fakeMonitor) TradeChanged(tradeID int64, ticketID string, status types.TradeStatus) {
	f.changes = append(f.changes, status)
}

func (f *fakeMonitor) Active() ([]types.ActiveTrade, error) {
	return f.active, nil
}

func newTestHandlers() (*Handlers, *fakeSink, *fakeManager, *fakeMonitor) {
	sink := &fakeSink{trades: map[int64]types.Trade{
		42: {ID: 42, Status: types.StatusOpen, Side: types.SideYes, Ticker: "T", Position: 3},
	}}
	initiator := trade.NewInitiator("btc", fakePrices{}, sink, time.UTC)
	manager := &fakeManager{trades: map[int64]types.Trade{
		1: {ID: 1, Status: types.StatusOpen},
		2: {ID: 2, Status: types.StatusClosed},
	}}
	monitor := &fakeMonitor{}
	return NewHandlers(initiator, manager, monitor, bus.New(), slog.Default()), sink, manager, monitor
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateOpenTrade(t *testing.T) {
	t.Parallel()
	h, sink, _, _ := newTestHandlers()

	rec := postJSON(t, h.HandleTrades, tradeRequestBody{
		Strike: 119000, Side: "Y", Ticker: "T", BuyPrice: 0.93,
		Prob: 95.5, Position: 5, EntryMethod: "manual",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var resp map[string]int64
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["id"] != 1 {
		t.Errorf("id = %d, want 1", resp["id"])
	}
	if len(sink.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(sink.opens))
	}
}

func TestCreateOpenTradeValidationError(t *testing.T) {
	t.Parallel()
	h, sink, _, _ := newTestHandlers()

	rec := postJSON(t, h.HandleTrades, tradeRequestBody{Side: "Y"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(sink.opens) != 0 {
		t.Errorf("invalid request reached the manager")
	}
}

func TestCreateCloseTrade(t *testing.T) {
	t.Parallel()
	h, sink, _, _ := newTestHandlers()

	rec := postJSON(t, h.HandleTrades, tradeRequestBody{
		Intent: "close", TradeID: 42, SellPrice: 0.06,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["message"] != "Close ticket received" {
		t.Errorf("message = %q", resp["message"])
	}
	if len(sink.closes) != 1 {
		t.Fatalf("closes = %d, want 1", len(sink.closes))
	}
	if sink.closes[0].Side != types.SideNo {
		t.Errorf("close side = %v, want inverted N", sink.closes[0].Side)
	}
}

func TestListTradesByStatus(t *testing.T) {
	t.Parallel()
	h, _, _, _ := newTestHandlers()

	req := httptest.NewRequest(http.MethodGet, "/trades?status=open", nil)
	rec := httptest.NewRecorder()
	h.HandleTrades(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var trades []types.Trade
	json.Unmarshal(rec.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].ID != 1 {
		t.Errorf("open trades = %+v, want just id 1", trades)
	}
}

func TestPositionsUpdatedTriggersManager(t *testing.T) {
	t.Parallel()
	h, _, manager, _ := newTestHandlers()

	rec := postJSON(t, h.HandlePositionsUpdated, map[string]string{"database": "positions"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(manager.changed) != 1 || manager.changed[0] != "positions" {
		t.Errorf("manager triggers = %v", manager.changed)
	}
}

func TestTradeManagerNotificationReachesMonitor(t *testing.T) {
	t.Parallel()
	h, _, _, monitor := newTestHandlers()

	rec := postJSON(t, h.HandleTradeManagerNotification, map[string]any{
		"trade_id": 42, "ticket_id": "tk", "status": "open",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(monitor.changes) != 1 || monitor.changes[0] != types.StatusOpen {
		t.Errorf("monitor changes = %v", monitor.changes)
	}
}

func TestUpdateTradeStatusOnlyError(t *testing.T) {
	t.Parallel()
	h, _, manager, _ := newTestHandlers()

	rec := postJSON(t, h.HandleUpdateTradeStatus, map[string]any{
		"trade_id": 7, "status": "open",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-error report status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, h.HandleUpdateTradeStatus, map[string]any{
		"trade_id": 7, "status": "error",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("error report status = %d, want 200", rec.Code)
	}
	if len(manager.failures) != 1 || manager.failures[0] != 7 {
		t.Errorf("failures = %v, want [7]", manager.failures)
	}
}

func TestNotifyDbChangeRepublishes(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	initiator := trade.NewInitiator("btc", fakePrices{}, sink, time.UTC)
	b := bus.New()
	h := NewHandlers(initiator, &fakeManager{}, &fakeMonitor{}, b, slog.Default())

	var got bus.DbChangePayload
	b.Subscribe(bus.EventDbChanged, func(e bus.Event) {
		got = e.Payload.(bus.DbChangePayload)
	})

	rec := postJSON(t, h.HandleNotifyDbChange, map[string]any{
		"db_name": "positions", "change_data": map[string]any{"count": 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.DBName != "positions" {
		t.Errorf("republished db = %q, want positions", got.DBName)
	}
}
