package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strike-engine/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTickUpsertIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ts := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)

	if err := s.UpsertTick("btc", types.Tick{Timestamp: ts, Price: 119000}); err != nil {
		t.Fatalf("UpsertTick: %v", err)
	}
	// Same second, new price: the row is overwritten, not duplicated.
	if err := s.UpsertTick("btc", types.Tick{Timestamp: ts, Price: 119050}); err != nil {
		t.Fatalf("UpsertTick overwrite: %v", err)
	}

	prices, err := s.PricesSince("btc", ts.Add(-time.Minute))
	if err != nil {
		t.Fatalf("PricesSince: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("rows per second = %d, want 1", len(prices))
	}
	if prices[0] != 119050 {
		t.Errorf("price = %v, want the overwritten 119050", prices[0])
	}
}

func TestPriceAtOrBefore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	base := time.Date(2025, 7, 31, 16, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := s.UpsertTick("btc", types.Tick{Timestamp: ts, Price: float64(100 + i)}); err != nil {
			t.Fatalf("UpsertTick: %v", err)
		}
	}

	// Between minute 2 and 3 the nearest prior tick is minute 2.
	p, ok, err := s.PriceAtOrBefore("btc", base.Add(2*time.Minute+30*time.Second))
	if err != nil || !ok {
		t.Fatalf("PriceAtOrBefore: %v %v", ok, err)
	}
	if p != 102 {
		t.Errorf("price = %v, want 102", p)
	}

	_, ok, err = s.PriceAtOrBefore("btc", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PriceAtOrBefore early: %v", err)
	}
	if ok {
		t.Error("no tick before the beginning of history")
	}
}

func TestTickEviction(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	now := time.Date(2025, 7, 31, 16, 0, 0, 0, time.UTC)

	old := now.Add(-31 * 24 * time.Hour)
	if err := s.UpsertTick("btc", types.Tick{Timestamp: old, Price: 90000}); err != nil {
		t.Fatalf("UpsertTick: %v", err)
	}
	if err := s.UpsertTick("btc", types.Tick{Timestamp: now, Price: 119000}); err != nil {
		t.Fatalf("UpsertTick: %v", err)
	}

	n, err := s.EvictTicksBefore("btc", now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("EvictTicksBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted = %d, want 1", n)
	}

	tick, ok, err := s.LatestTick("btc")
	if err != nil || !ok {
		t.Fatalf("LatestTick: %v %v", ok, err)
	}
	if tick.Price != 119000 {
		t.Errorf("surviving tick = %v, want 119000", tick.Price)
	}
}

func testTicket(ticketID string) types.Ticket {
	return types.Ticket{
		TicketID:    ticketID,
		Date:        "2025-07-31",
		Time:        "16:50:00",
		Symbol:      "btc",
		Strike:      119000,
		Side:        types.SideYes,
		Ticker:      "T",
		Prob:        95,
		Position:    5,
		BuyPrice:    0.93,
		SymbolOpen:  119050,
		EntryMethod: types.EntryAuto,
	}
}

func TestTradeLifecycleRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	id, err := s.InsertTrade(testTicket("tk-1"))
	if err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}

	trade, ok, err := s.GetTrade(id)
	if err != nil || !ok {
		t.Fatalf("GetTrade: %v %v", ok, err)
	}
	if trade.Status != types.StatusPending {
		t.Errorf("fresh trade status = %v, want pending", trade.Status)
	}

	fees := decimal.RequireFromString("0.20")
	if err := s.ConfirmTradeOpen(id, 3, 0.93, fees, 2, 119060); err != nil {
		t.Fatalf("ConfirmTradeOpen: %v", err)
	}
	trade, _, _ = s.GetTrade(id)
	if trade.Status != types.StatusOpen || trade.Position != 3 || trade.Diff != 2 {
		t.Errorf("open row = %+v", trade)
	}

	if err := s.MarkTradeClosing(id, "manual"); err != nil {
		t.Fatalf("MarkTradeClosing: %v", err)
	}
	trade, _, _ = s.GetTrade(id)
	if trade.Status != types.StatusClosing || trade.SymbolClose != nil {
		t.Errorf("closing row = %+v", trade)
	}

	pnl := decimal.RequireFromString("-2.91")
	closedAt := time.Date(2025, 7, 31, 16, 55, 0, 0, time.UTC)
	if err := s.ConfirmTradeClosed(id, 0.06, 119120, decimal.RequireFromString("0.30"), pnl, types.Loss, closedAt); err != nil {
		t.Fatalf("ConfirmTradeClosed: %v", err)
	}
	trade, _, _ = s.GetTrade(id)
	if trade.Status != types.StatusClosed {
		t.Errorf("status = %v, want closed", trade.Status)
	}
	if trade.PnL == nil || !trade.PnL.Equal(pnl) {
		t.Errorf("pnl = %v, want -2.91", trade.PnL)
	}
	if trade.WinLoss == nil || *trade.WinLoss != types.Loss {
		t.Errorf("win_loss = %v, want L", trade.WinLoss)
	}
	if trade.ClosedAt == nil || !trade.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at = %v, want %v", trade.ClosedAt, closedAt)
	}
}

func TestTicketIDUnique(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, err := s.InsertTrade(testTicket("tk-dup")); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	if _, err := s.InsertTrade(testTicket("tk-dup")); err == nil {
		t.Error("duplicate ticket_id must fail")
	}
}

func TestMarkTradeExpiredOnlyOpen(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	id, _ := s.InsertTrade(testTicket("tk-exp"))
	now := time.Now().UTC()

	// Pending trades are untouched by expiry marking.
	if err := s.MarkTradeExpired(id, 119100, now); err != nil {
		t.Fatalf("MarkTradeExpired: %v", err)
	}
	trade, _, _ := s.GetTrade(id)
	if trade.Status != types.StatusPending {
		t.Errorf("pending trade expired, status = %v", trade.Status)
	}

	s.ConfirmTradeOpen(id, 3, 0.93, decimal.Zero, 2, 119060)
	if err := s.MarkTradeExpired(id, 119100, now); err != nil {
		t.Fatalf("MarkTradeExpired: %v", err)
	}
	trade, _, _ = s.GetTrade(id)
	if trade.Status != types.StatusExpired || trade.CloseMethod != "expired" {
		t.Errorf("expired row = %+v", trade)
	}
}

func TestDeleteErrorTrades(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	id1, _ := s.InsertTrade(testTicket("tk-a"))
	id2, _ := s.InsertTrade(testTicket("tk-b"))
	s.SetTradeStatus(id1, types.StatusError)

	n, err := s.DeleteErrorTrades()
	if err != nil {
		t.Fatalf("DeleteErrorTrades: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, ok, _ := s.GetTrade(id1); ok {
		t.Error("error trade should be gone")
	}
	if _, ok, _ := s.GetTrade(id2); !ok {
		t.Error("healthy trade should survive")
	}
}

func TestPositionsUpsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	p := types.Position{
		Ticker:         "T",
		Position:       3,
		MarketExposure: decimal.RequireFromString("2.79"),
		RealizedPnL:    decimal.Zero,
		FeesPaid:       decimal.RequireFromString("0.20"),
		LastUpdated:    time.Now().UTC(),
	}
	if err := s.UpsertPosition(p); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	p.Position = 0
	if err := s.UpsertPosition(p); err != nil {
		t.Fatalf("UpsertPosition update: %v", err)
	}

	got, ok, err := s.PositionByTicker("T")
	if err != nil || !ok {
		t.Fatalf("PositionByTicker: %v %v", ok, err)
	}
	if got.Position != 0 {
		t.Errorf("position = %d, want 0 after update", got.Position)
	}
	if !got.MarketExposure.Equal(decimal.RequireFromString("2.79")) {
		t.Errorf("exposure = %v, want 2.79", got.MarketExposure)
	}
}

func TestFillsInsertIfAbsent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	f := types.Fill{
		TradeID:     "f1",
		Ticker:      "T",
		Side:        "no",
		NoPrice:     decimal.RequireFromString("0.94"),
		YesPrice:    decimal.RequireFromString("0.06"),
		CreatedTime: time.Now().UTC(),
	}
	ok, err := s.InsertFill(f)
	if err != nil || !ok {
		t.Fatalf("InsertFill: %v %v", ok, err)
	}
	ok, err = s.InsertFill(f)
	if err != nil {
		t.Fatalf("InsertFill duplicate: %v", err)
	}
	if ok {
		t.Error("duplicate fill should report no insert")
	}

	got, ok, err := s.LatestFill("T", "no")
	if err != nil || !ok {
		t.Fatalf("LatestFill: %v %v", ok, err)
	}
	if !got.NoPrice.Equal(decimal.RequireFromString("0.94")) {
		t.Errorf("no_price = %v, want 0.94", got.NoPrice)
	}

	if _, ok, _ := s.LatestFill("T", "yes"); ok {
		t.Error("no yes-side fill exists")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, ok, _ := s.GetSetting("auto_entry.enabled"); ok {
		t.Error("missing setting should report absent, not default")
	}

	s.SetSetting("auto_entry.enabled", "true")
	s.SetSetting("auto_entry.min_probability", "90")
	s.SetSetting("trade.position_size", "5")

	b, ok, err := s.GetSettingBool("auto_entry.enabled")
	if err != nil || !ok || !b {
		t.Errorf("bool setting = %v %v %v", b, ok, err)
	}
	f, ok, err := s.GetSettingFloat("auto_entry.min_probability")
	if err != nil || !ok || f != 90 {
		t.Errorf("float setting = %v %v %v", f, ok, err)
	}
	i, ok, err := s.GetSettingInt("trade.position_size")
	if err != nil || !ok || i != 5 {
		t.Errorf("int setting = %v %v %v", i, ok, err)
	}
}

func TestProbLookupRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.InsertProbRow(600, 50, 5, 95.5, 94.5); err != nil {
		t.Fatalf("InsertProbRow: %v", err)
	}
	if err := s.InsertProbRow(5, 10, -5, 60, 59); err != nil {
		t.Fatalf("InsertProbRow: %v", err)
	}

	pos, neg, ok, err := s.ProbLookup(600, 50, 5)
	if err != nil || !ok {
		t.Fatalf("ProbLookup: %v %v", ok, err)
	}
	if pos != 95.5 || neg != 94.5 {
		t.Errorf("probs = %v/%v, want 95.5/94.5", pos, neg)
	}

	if _, _, ok, _ := s.ProbLookup(600, 50, 4); ok {
		t.Error("absent key should miss")
	}

	minTTC, maxTTC, maxBuf, minMom, maxMom, ok, err := s.ProbDomain()
	if err != nil || !ok {
		t.Fatalf("ProbDomain: %v %v", ok, err)
	}
	if minTTC != 5 || maxTTC != 600 || maxBuf != 50 || minMom != -5 || maxMom != 5 {
		t.Errorf("domain = %d %d %d %d %d", minTTC, maxTTC, maxBuf, minMom, maxMom)
	}
}

func TestActiveTradeRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	a := types.ActiveTrade{
		TradeID:  42,
		TicketID: "tk-42",
		Strike:   119000,
		Side:     types.SideYes,
		Ticker:   "T",
		Position: 3,
		BuyPrice: 0.93,
	}
	if err := s.UpsertActiveTrade(a); err != nil {
		t.Fatalf("UpsertActiveTrade: %v", err)
	}

	a.CurrentPnL = "-0.05"
	if err := s.UpsertActiveTrade(a); err != nil {
		t.Fatalf("UpsertActiveTrade refresh: %v", err)
	}

	list, err := s.ListActiveTrades()
	if err != nil {
		t.Fatalf("ListActiveTrades: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("active rows = %d, want 1", len(list))
	}
	if list[0].CurrentPnL != "-0.05" {
		t.Errorf("current_pnl = %q, want refreshed -0.05", list[0].CurrentPnL)
	}

	if err := s.DeleteActiveTrade(42); err != nil {
		t.Fatalf("DeleteActiveTrade: %v", err)
	}
	list, _ = s.ListActiveTrades()
	if len(list) != 0 {
		t.Errorf("active rows after delete = %d, want 0", len(list))
	}
}

func TestHasActiveOnStrikeSide(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	id, _ := s.InsertTrade(testTicket("tk-guard"))

	ok, err := s.HasActiveOnStrikeSide(119000, types.SideYes)
	if err != nil {
		t.Fatalf("HasActiveOnStrikeSide: %v", err)
	}
	if !ok {
		t.Error("pending trade should count as active on its key")
	}

	ok, _ = s.HasActiveOnStrikeSide(119000, types.SideNo)
	if ok {
		t.Error("other side should be free")
	}

	s.SetTradeStatus(id, types.StatusClosed)
	ok, _ = s.HasActiveOnStrikeSide(119000, types.SideYes)
	if ok {
		t.Error("closed trade should release the key")
	}
}

func TestTradeEventsLog(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.AppendTradeEvent("tk-1", "MANAGER: TICKET RECEIVED")
	s.AppendTradeEvent("tk-1", "MANAGER: SENT TO EXECUTOR")
	s.AppendTradeEvent("tk-2", "MANAGER: TICKET RECEIVED")

	events, err := s.TradeEvents("tk-1")
	if err != nil {
		t.Fatalf("TradeEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0] != "MANAGER: TICKET RECEIVED" {
		t.Errorf("first event = %q", events[0])
	}
}
