package trade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strike-engine/internal/bus"
	"strike-engine/pkg/types"
)

const (
	// settlementDeadline bounds how long expiry reconciliation polls the
	// settlements mirror before leaving trades expired for manual handling.
	settlementDeadline = 30 * time.Minute
	settlementPollTick = 15 * time.Second
)

// Ledger is the trade-table surface the manager owns. Only the manager
// mutates it.
type Ledger interface {
	InsertTrade(t types.Ticket) (int64, error)
	GetTrade(id int64) (types.Trade, bool, error)
	TradesByStatus(status types.TradeStatus) ([]types.Trade, error)
	AllTrades() ([]types.Trade, error)
	ConfirmTradeOpen(id int64, position int, buyPrice float64, fees decimal.Decimal, diff int, symbolOpen float64) error
	MarkTradeClosing(id int64, closeMethod string) error
	ConfirmTradeClosed(id int64, sellPrice, symbolClose float64, fees, pnl decimal.Decimal, winLoss types.WinLoss, closedAt time.Time) error
	MarkTradeExpired(id int64, symbolClose float64, closedAt time.Time) error
	SetTradeStatus(id int64, status types.TradeStatus) error
	DeleteErrorTrades() (int64, error)
	AppendTradeEvent(ticketID, message string) error
}

// Mirror is the read surface over the account data the sync maintains.
type Mirror interface {
	PositionByTicker(ticker string) (types.Position, bool, error)
	LatestFill(ticker, side string) (types.Fill, bool, error)
	SettlementByTicker(ticker string) (types.Settlement, bool, error)
}

// TicketExecutor submits tickets to the broker.
type TicketExecutor interface {
	Execute(ctx context.Context, t types.Ticket) error
}

// ChangeListener observes trade status transitions. The active-trade
// supervisor registers here so open/closed transitions drive its mirror.
type ChangeListener interface {
	TradeChanged(tradeID int64, ticketID string, status types.TradeStatus)
}

// Manager is the ledger authority. It runs the trade state machine,
// reconciles trades against mirrored positions, fills, and settlements,
// and fans out every transition.
//
// All multi-step updates for a given trade id run under that trade's
// mutex, so near-simultaneous position and fill notifications cannot
// interleave a reconciliation.
type Manager struct {
	ledger   Ledger
	mirror   Mirror
	exec     TicketExecutor
	bus      *bus.Bus
	notifier *bus.Notifier
	uiURL    string
	prices   PriceSource
	loc      *time.Location
	logger   *slog.Logger

	listenersMu sync.RWMutex
	listeners   []ChangeListener

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewManager wires the manager. Listeners register afterwards via
// AddListener.
func NewManager(ledger Ledger, mirror Mirror, exec TicketExecutor, b *bus.Bus, notifier *bus.Notifier, uiURL string, prices PriceSource, loc *time.Location, logger *slog.Logger) *Manager {
	return &Manager{
		ledger:   ledger,
		mirror:   mirror,
		exec:     exec,
		bus:      b,
		notifier: notifier,
		uiURL:    uiURL,
		prices:   prices,
		loc:      loc,
		logger:   logger.With("component", "trade_manager"),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// AddListener registers a transition observer.
func (m *Manager) AddListener(l ChangeListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Trade reads one ledger row.
func (m *Manager) Trade(id int64) (types.Trade, bool, error) {
	return m.ledger.GetTrade(id)
}

// TradesByStatus reads ledger rows by status.
func (m *Manager) TradesByStatus(status types.TradeStatus) ([]types.Trade, error) {
	return m.ledger.TradesByStatus(status)
}

// AllTrades reads every ledger row.
func (m *Manager) AllTrades() ([]types.Trade, error) {
	return m.ledger.AllTrades()
}

// SubmitOpen persists an open ticket as pending and forwards it to the
// executor. The trade opens only once the account sync observes a broker
// position for its ticker.
func (m *Manager) SubmitOpen(ctx context.Context, t types.Ticket) (int64, error) {
	id, err := m.ledger.InsertTrade(t)
	if err != nil {
		return 0, fmt.Errorf("persist ticket: %w", err)
	}
	m.event(t.TicketID, "MANAGER: TICKET RECEIVED")

	go func() {
		if err := m.exec.Execute(context.Background(), t); err != nil {
			m.logger.Error("executor rejected open ticket",
				"trade_id", id, "ticket_id", t.TicketID, "error", err)
			m.event(t.TicketID, fmt.Sprintf("MANAGER: EXECUTOR ERROR - %v", err))
			m.markError(id, t.TicketID)
			return
		}
		m.event(t.TicketID, "MANAGER: SENT TO EXECUTOR")
	}()

	m.notifyChange(id, t.TicketID, types.StatusPending)
	return id, nil
}

// SubmitClose forwards a close ticket to the executor immediately and
// marks the trade closing. The close resolves once the account sync
// observes the position zeroed.
func (m *Manager) SubmitClose(ctx context.Context, t types.Ticket) error {
	unlock := m.lockTrade(t.TradeID)
	defer unlock()

	trade, ok, err := m.ledger.GetTrade(t.TradeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("close for unknown trade %d", t.TradeID)
	}
	if trade.Status != types.StatusOpen {
		return fmt.Errorf("close for trade %d in status %s", t.TradeID, trade.Status)
	}

	go func() {
		if err := m.exec.Execute(context.Background(), t); err != nil {
			m.logger.Error("executor rejected close ticket",
				"trade_id", t.TradeID, "ticket_id", t.TicketID, "error", err)
			m.event(t.TicketID, fmt.Sprintf("MANAGER: EXECUTOR ERROR - %v", err))
			return
		}
		m.event(t.TicketID, "MANAGER: CLOSE SENT TO EXECUTOR")
	}()

	closeMethod := t.CloseMethod
	if closeMethod == "" {
		closeMethod = "manual"
	}
	if err := m.ledger.MarkTradeClosing(t.TradeID, closeMethod); err != nil {
		return err
	}
	m.notifyChange(t.TradeID, trade.TicketID, types.StatusClosing)
	return nil
}

// ReportExecutorFailure marks a pending trade as error after the executor
// reported a terminal failure out-of-band.
func (m *Manager) ReportExecutorFailure(id int64) error {
	unlock := m.lockTrade(id)
	defer unlock()

	trade, ok, err := m.ledger.GetTrade(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no trade with id %d", id)
	}
	if trade.Status != types.StatusPending {
		return fmt.Errorf("trade %d is %s, not pending", id, trade.Status)
	}
	m.markError(id, trade.TicketID)
	return nil
}

// OnAccountChanged reacts to a positions- or fills-change notification
// from the account sync: pending trades whose position materialized are
// confirmed open, closing trades whose position zeroed are finalized.
func (m *Manager) OnAccountChanged(database string) {
	switch database {
	case "positions", "fills":
	default:
		return
	}

	pending, err := m.ledger.TradesByStatus(types.StatusPending)
	if err != nil {
		m.logger.Error("pending scan failed", "error", err)
	} else {
		for _, t := range pending {
			m.confirmOpen(t.ID)
		}
	}

	closing, err := m.ledger.TradesByStatus(types.StatusClosing)
	if err != nil {
		m.logger.Error("closing scan failed", "error", err)
		return
	}
	for _, t := range closing {
		m.confirmClose(t.ID)
	}
}

// confirmOpen transitions one pending trade to open from its mirrored
// broker position.
func (m *Manager) confirmOpen(id int64) {
	unlock := m.lockTrade(id)
	defer unlock()

	trade, ok, err := m.ledger.GetTrade(id)
	if err != nil || !ok || trade.Status != types.StatusPending {
		return
	}

	pos, ok, err := m.mirror.PositionByTicker(trade.Ticker)
	if err != nil {
		m.logger.Error("position read failed", "ticker", trade.Ticker, "error", err)
		return
	}
	if !ok || pos.Position == 0 || !pos.MarketExposure.IsPositive() {
		return
	}

	count := pos.Position
	if count < 0 {
		count = -count
	}
	buyPrice, _ := pos.MarketExposure.Div(decimal.NewFromInt(int64(count))).Round(2).Float64()
	diff := int(math.Round(trade.Prob - buyPrice*100))
	symbolOpen, _ := m.prices.LatestPrice()

	if err := m.ledger.ConfirmTradeOpen(id, count, buyPrice, pos.FeesPaid, diff, symbolOpen); err != nil {
		m.logger.Error("open confirmation failed", "trade_id", id, "error", err)
		return
	}

	m.event(trade.TicketID, fmt.Sprintf("MANAGER: OPEN CONFIRMED - position=%d buy=%.2f", count, buyPrice))
	m.logger.Info("trade opened", "trade_id", id, "ticker", trade.Ticker,
		"position", count, "buy_price", buyPrice, "diff", diff)
	m.notifyChange(id, trade.TicketID, types.StatusOpen)
}

// confirmClose finalizes one closing trade once its position is zeroed:
// the sell price comes from the most recent fill on the opposite side as
// 1 - fill price.
func (m *Manager) confirmClose(id int64) {
	unlock := m.lockTrade(id)
	defer unlock()

	trade, ok, err := m.ledger.GetTrade(id)
	if err != nil || !ok || trade.Status != types.StatusClosing {
		return
	}

	pos, ok, err := m.mirror.PositionByTicker(trade.Ticker)
	if err != nil {
		m.logger.Error("position read failed", "ticker", trade.Ticker, "error", err)
		return
	}
	if !ok || pos.Position != 0 {
		return
	}

	oppSide := "no"
	if trade.Side == types.SideNo {
		oppSide = "yes"
	}
	fill, ok, err := m.mirror.LatestFill(trade.Ticker, oppSide)
	if err != nil {
		m.logger.Error("fill read failed", "ticker", trade.Ticker, "error", err)
		return
	}
	if !ok {
		return
	}

	fillPrice := fill.NoPrice
	if oppSide == "yes" {
		fillPrice = fill.YesPrice
	}
	sellPrice, _ := decimal.NewFromInt(1).Sub(fillPrice).Round(2).Float64()

	fees := pos.FeesPaid
	pnl := pnlFor(trade.Position, trade.BuyPrice, sellPrice, fees)
	winLoss := types.WinLossFromPnL(pnl)
	symbolClose, _ := m.prices.LatestPrice()
	closedAt := time.Now().In(m.loc)

	if err := m.ledger.ConfirmTradeClosed(id, sellPrice, symbolClose, fees, pnl, winLoss, closedAt); err != nil {
		m.logger.Error("close confirmation failed", "trade_id", id, "error", err)
		return
	}

	m.event(trade.TicketID, fmt.Sprintf("MANAGER: CLOSE CONFIRMED - PnL: %s, W/L: %s, Fees: %s",
		pnl.StringFixed(2), winLoss, fees.StringFixed(2)))
	m.logger.Info("trade closed", "trade_id", id, "ticker", trade.Ticker,
		"sell_price", sellPrice, "pnl", pnl.StringFixed(2), "win_loss", winLoss)
	m.notifyChange(id, trade.TicketID, types.StatusClosed)
}

// RunExpiry is the hour-boundary sequence: delete error trades, mark all
// open trades expired, then poll mirrored settlements to finalize them
// until the deadline.
func (m *Manager) RunExpiry(ctx context.Context) {
	if n, err := m.ledger.DeleteErrorTrades(); err != nil {
		m.logger.Error("error-trade deletion failed", "error", err)
	} else if n > 0 {
		m.logger.Info("deleted error trades", "count", n)
	}

	open, err := m.ledger.TradesByStatus(types.StatusOpen)
	if err != nil {
		m.logger.Error("open scan failed", "error", err)
		return
	}

	now := time.Now().In(m.loc)
	symbolClose, _ := m.prices.LatestPrice()
	for _, t := range open {
		unlock := m.lockTrade(t.ID)
		if err := m.ledger.MarkTradeExpired(t.ID, symbolClose, now); err != nil {
			m.logger.Error("expiry marking failed", "trade_id", t.ID, "error", err)
			unlock()
			continue
		}
		unlock()
		m.event(t.TicketID, "MANAGER: EXPIRED AT HOUR BOUNDARY")
		m.notifyChange(t.ID, t.TicketID, types.StatusExpired)
	}

	if len(open) > 0 {
		go m.pollSettlements(ctx)
	}
}

// pollSettlements matches expired trades against the settlements mirror.
// Trades unresolved at the deadline stay expired for manual handling.
func (m *Manager) pollSettlements(ctx context.Context) {
	deadline := time.Now().Add(settlementDeadline)
	ticker := time.NewTicker(settlementPollTick)
	defer ticker.Stop()

	for {
		expired, err := m.ledger.TradesByStatus(types.StatusExpired)
		if err != nil {
			m.logger.Error("expired scan failed", "error", err)
		} else {
			remaining := 0
			for _, t := range expired {
				if !m.settleExpired(t.ID) {
					remaining++
				}
			}
			if remaining == 0 {
				return
			}
		}

		if time.Now().After(deadline) {
			m.logger.Warn("settlement polling deadline reached, leaving trades expired")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// settleExpired finalizes one expired trade against its settlement.
// Returns false while the settlement is not yet mirrored or its read or
// the ledger write fails; true otherwise, including when the trade cannot
// be read or is no longer expired.
func (m *Manager) settleExpired(id int64) bool {
	unlock := m.lockTrade(id)
	defer unlock()

	trade, ok, err := m.ledger.GetTrade(id)
	if err != nil || !ok || trade.Status != types.StatusExpired {
		return true
	}

	st, ok, err := m.mirror.SettlementByTicker(trade.Ticker)
	if err != nil {
		m.logger.Error("settlement read failed", "ticker", trade.Ticker, "error", err)
		return false
	}
	if !ok {
		return false
	}

	sellPrice := 0.0
	if st.Revenue.IsPositive() {
		sellPrice = 1.0
	}

	symbolClose := trade.SymbolOpen
	if trade.SymbolClose != nil {
		symbolClose = *trade.SymbolClose
	}
	closedAt := time.Now().In(m.loc)
	if trade.ClosedAt != nil {
		closedAt = *trade.ClosedAt
	}

	pnl := pnlFor(trade.Position, trade.BuyPrice, sellPrice, trade.Fees)
	winLoss := types.WinLossFromPnL(pnl)

	if err := m.ledger.ConfirmTradeClosed(id, sellPrice, symbolClose, trade.Fees, pnl, winLoss, closedAt); err != nil {
		m.logger.Error("settlement finalize failed", "trade_id", id, "error", err)
		return false
	}

	m.event(trade.TicketID, fmt.Sprintf("MANAGER: SETTLED - result=%s PnL=%s W/L=%s",
		st.MarketResult, pnl.StringFixed(2), winLoss))
	m.notifyChange(id, trade.TicketID, types.StatusClosed)
	return true
}

// pnlFor computes position*sell - position*buy - fees to 2 decimals.
func pnlFor(position int, buyPrice, sellPrice float64, fees decimal.Decimal) decimal.Decimal {
	pos := decimal.NewFromInt(int64(position))
	buy := decimal.NewFromFloat(buyPrice)
	sell := decimal.NewFromFloat(sellPrice)
	return pos.Mul(sell).Sub(pos.Mul(buy)).Sub(fees).Round(2)
}

func (m *Manager) markError(id int64, ticketID string) {
	if err := m.ledger.SetTradeStatus(id, types.StatusError); err != nil {
		m.logger.Error("error marking failed", "trade_id", id, "error", err)
		return
	}
	m.notifyChange(id, ticketID, types.StatusError)
}

// notifyChange fans one transition out to the bus, registered listeners,
// and the UI's HTTP endpoint.
func (m *Manager) notifyChange(id int64, ticketID string, status types.TradeStatus) {
	m.bus.Publish(bus.Event{
		Type:    bus.EventTradeChanged,
		Payload: bus.TradePayload{TradeID: id, TicketID: ticketID, Status: string(status)},
	})

	m.listenersMu.RLock()
	listeners := append([]ChangeListener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	for _, l := range listeners {
		l.TradeChanged(id, ticketID, status)
	}

	if m.notifier != nil {
		go m.notifier.NotifyTradeManager(context.Background(), m.uiURL, id, ticketID, string(status))
	}
}

func (m *Manager) event(ticketID, message string) {
	if err := m.ledger.AppendTradeEvent(ticketID, message); err != nil {
		m.logger.Warn("ticket log append failed", "ticket_id", ticketID, "error", err)
	}
}

// lockTrade acquires the per-trade mutex, creating it on first use.
func (m *Manager) lockTrade(id int64) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
