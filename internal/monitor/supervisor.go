// Package monitor implements the active-trade supervisor: a 1 Hz worker
// that mirrors every open ledger trade and refreshes its live telemetry
// (price, probability, buffer, cost to close, PnL) while any position is
// open. The worker starts when the first trade opens and stops when the
// active set empties. Auto-stop rides on the same loop.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"strike-engine/internal/artifact"
	"strike-engine/internal/bus"
	"strike-engine/pkg/types"
)

// ActiveStore is the active-trades table surface.
type ActiveStore interface {
	UpsertActiveTrade(a types.ActiveTrade) error
	DeleteActiveTrade(tradeID int64) error
	ListActiveTrades() ([]types.ActiveTrade, error)
}

// TradeSource reads ledger rows (to seed the mirror on open).
type TradeSource interface {
	GetTrade(id int64) (types.Trade, bool, error)
}

// PriceSource supplies the latest symbol price and momentum.
type PriceSource interface {
	LatestPrice() (float64, bool)
	LatestMomentum() (int, bool)
}

// SnapshotSource supplies the latest market snapshot.
type SnapshotSource interface {
	Snapshot() *types.Snapshot
}

// ProbSource is the live probability surface.
type ProbSource interface {
	Probability(ttcSeconds int, bufferPoints float64, momentum int, above bool) (float64, error)
}

// Closer emits close intents; the trade initiator's close path
// implements it.
type Closer interface {
	CloseTrade(ctx context.Context, tradeID int64, sellPrice float64, closeMethod string) error
}

// StopSettings is the auto-stop settings surface.
type StopSettings interface {
	GetSettingBool(key string) (bool, bool, error)
	GetSettingFloat(key string) (float64, bool, error)
}

// Supervisor mirrors open trades and runs the monitoring loop.
type Supervisor struct {
	store    ActiveStore
	trades   TradeSource
	prices   PriceSource
	markets  SnapshotSource
	table    ProbSource
	closer   Closer
	settings StopSettings
	bus      *bus.Bus
	dataDir  string
	loc      *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	parent  context.Context
}

// NewSupervisor wires the active-trade supervisor. SetCloser must be
// called before any trade opens (the close path depends on the
// initiator, which depends on the manager).
func NewSupervisor(store ActiveStore, trades TradeSource, prices PriceSource, markets SnapshotSource, table ProbSource, settings StopSettings, b *bus.Bus, dataDir string, loc *time.Location, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:    store,
		trades:   trades,
		prices:   prices,
		markets:  markets,
		table:    table,
		settings: settings,
		bus:      b,
		dataDir:  dataDir,
		loc:      loc,
		logger:   logger.With("component", "active_trades"),
	}
}

// SetCloser installs the close path used by auto-stop.
func (s *Supervisor) SetCloser(c Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closer = c
}

// Start records the parent context for monitor workers and resumes
// monitoring any rows that survived a restart.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()

	active, err := s.store.ListActiveTrades()
	if err != nil {
		s.logger.Error("active trade scan failed", "error", err)
		return
	}
	if len(active) > 0 {
		s.ensureWorker()
	}
}

// TradeChanged implements the manager's ChangeListener: open trades enter
// the mirror, any other transition removes them.
func (s *Supervisor) TradeChanged(tradeID int64, ticketID string, status types.TradeStatus) {
	if status == types.StatusOpen {
		s.track(tradeID)
		return
	}
	if err := s.store.DeleteActiveTrade(tradeID); err != nil {
		s.logger.Error("active trade removal failed", "trade_id", tradeID, "error", err)
	}
}

// Active returns the current monitored set.
func (s *Supervisor) Active() ([]types.ActiveTrade, error) {
	return s.store.ListActiveTrades()
}

func (s *Supervisor) track(tradeID int64) {
	trade, ok, err := s.trades.GetTrade(tradeID)
	if err != nil || !ok {
		s.logger.Error("cannot mirror unknown trade", "trade_id", tradeID, "error", err)
		return
	}

	row := types.ActiveTrade{
		TradeID:     trade.ID,
		TicketID:    trade.TicketID,
		Date:        trade.Date,
		Time:        trade.Time,
		Symbol:      trade.Symbol,
		Strike:      trade.Strike,
		Side:        trade.Side,
		Ticker:      trade.Ticker,
		Position:    trade.Position,
		BuyPrice:    trade.BuyPrice,
		Prob:        trade.Prob,
		SymbolOpen:  trade.SymbolOpen,
		EntryMethod: trade.EntryMethod,
		LastUpdated: time.Now().In(s.loc),
	}
	if err := s.store.UpsertActiveTrade(row); err != nil {
		s.logger.Error("active trade insert failed", "trade_id", tradeID, "error", err)
		return
	}

	s.logger.Info("monitoring trade", "trade_id", tradeID, "ticker", trade.Ticker)
	s.ensureWorker()
}

// ensureWorker starts the 1 Hz loop if it isn't running.
func (s *Supervisor) ensureWorker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.running = true
	s.cancel = cancel
	go s.monitorLoop(ctx)
}

func (s *Supervisor) stopWorker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
}

func (s *Supervisor) monitorLoop(ctx context.Context) {
	s.logger.Info("monitoring loop started")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitoring loop stopped")
			return
		case <-ticker.C:
			empty := s.cycle(ctx)
			if empty {
				s.logger.Info("active set empty, monitoring loop exiting")
				s.stopWorker()
				return
			}
		}
	}
}

// cycle refreshes telemetry for every active trade. Returns true when no
// trades remain.
func (s *Supervisor) cycle(ctx context.Context) bool {
	active, err := s.store.ListActiveTrades()
	if err != nil {
		s.logger.Error("active trade scan failed", "error", err)
		return false
	}
	if len(active) == 0 {
		return true
	}

	price, havePrice := s.prices.LatestPrice()
	momentum, _ := s.prices.LatestMomentum()
	snap := s.markets.Snapshot()
	now := time.Now().In(s.loc)

	stopEnabled, stopThreshold := s.stopSettings()

	for i := range active {
		row := &active[i]
		if !havePrice || snap == nil {
			continue
		}

		market, ok := snap.MarketByTicker(row.Ticker)
		if !ok {
			// State error: unknown ticker in the snapshot. Log and skip.
			s.logger.Warn("active trade ticker not in snapshot", "ticker", row.Ticker)
			continue
		}

		// Cost to close is the opposite-side ask.
		closeAsk := market.NoAsk
		if row.Side == types.SideNo {
			closeAsk = market.YesAsk
		}
		row.CurrentSymbolPrice = price
		row.CurrentClosePrice = float64(closeAsk) / 100

		if row.Side == types.SideYes {
			row.BufferFromEntry = price - float64(row.Strike)
		} else {
			row.BufferFromEntry = float64(row.Strike) - price
		}

		row.TimeSinceEntry = s.secondsSinceEntry(row.Date, row.Time, now)

		ttc := snap.TTCSeconds(now)
		buffer := row.BufferFromEntry
		if buffer < 0 {
			buffer = -buffer
		}
		above := float64(row.Strike) >= price
		if p, err := s.table.Probability(ttc, buffer, momentum, above); err == nil {
			row.CurrentProbability = p
		} else {
			s.logger.Warn("live probability failed", "trade_id", row.TradeID, "error", err)
		}

		pnl := 1 - row.CurrentClosePrice - row.BuyPrice
		row.CurrentPnL = fmt.Sprintf("%.2f", pnl)
		row.LastUpdated = now

		if err := s.store.UpsertActiveTrade(*row); err != nil {
			s.logger.Error("telemetry write failed", "trade_id", row.TradeID, "error", err)
		}

		if stopEnabled && s.closer != nil && pnl <= stopThreshold {
			s.logger.Warn("auto-stop triggered",
				"trade_id", row.TradeID, "pnl", row.CurrentPnL, "threshold", stopThreshold)
			if err := s.closer.CloseTrade(ctx, row.TradeID, row.CurrentClosePrice, "auto-stop"); err != nil {
				s.logger.Error("auto-stop close failed", "trade_id", row.TradeID, "error", err)
			}
		}
	}

	s.persistArtifact(active, now)
	s.bus.Publish(bus.Event{
		Type:    bus.EventDbChanged,
		Payload: bus.DbChangePayload{DBName: "active_trades"},
	})
	return false
}

func (s *Supervisor) stopSettings() (bool, float64) {
	enabled, ok, err := s.settings.GetSettingBool("auto_stop.enabled")
	if err != nil || !ok || !enabled {
		return false, 0
	}
	threshold, ok, err := s.settings.GetSettingFloat("auto_stop.threshold")
	if err != nil || !ok {
		return false, 0
	}
	return true, threshold
}

func (s *Supervisor) secondsSinceEntry(date, timeStr string, now time.Time) int {
	entry, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+timeStr, s.loc)
	if err != nil {
		return 0
	}
	secs := int(now.Sub(entry).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

func (s *Supervisor) persistArtifact(active []types.ActiveTrade, now time.Time) {
	doc := struct {
		Timestamp    time.Time           `json:"timestamp"`
		Count        int                 `json:"count"`
		ActiveTrades []types.ActiveTrade `json:"active_trades"`
	}{
		Timestamp:    now,
		Count:        len(active),
		ActiveTrades: active,
	}
	path := filepath.Join(s.dataDir, "active_trades", "active_trades.json")
	if err := artifact.WriteJSON(path, doc); err != nil {
		s.logger.Warn("active trades artifact write failed", "error", err)
	}
}
