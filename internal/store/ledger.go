package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"strike-engine/pkg/types"
)

const ledgerTimeLayout = time.RFC3339

// InsertTrade persists a freshly minted open ticket as a pending ledger
// row and returns the assigned id. The unique index on ticket_id makes
// replayed tickets fail loudly instead of double-entering.
func (s *Store) InsertTrade(t types.Ticket) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO trades (ticket_id, status, date, time, symbol, market,
			trade_strategy, contract, strike, side, ticker, prob, position,
			buy_price, fees, symbol_open, momentum, entry_method)
		VALUES (?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '0', ?, ?, ?)`,
		t.TicketID, t.Date, t.Time, t.Symbol, t.Market, t.Strategy, t.Contract,
		t.Strike, string(t.Side), t.Ticker, t.Prob, t.Position, t.BuyPrice,
		t.SymbolOpen, t.Momentum, string(t.EntryMethod))
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

const tradeColumns = `id, ticket_id, status, date, time, symbol, market,
	trade_strategy, contract, strike, side, ticker, prob, position, buy_price,
	sell_price, closed_at, fees, pnl, symbol_open, symbol_close, momentum,
	win_loss, diff, entry_method, close_method`

func scanTrade(scan func(...any) error) (types.Trade, error) {
	var (
		t           types.Trade
		side        string
		entryMethod string
		market, strategy, contract          sql.NullString
		sellPrice, symbolOpen, symbolClose  sql.NullFloat64
		closedAt, pnl, winLoss, closeMethod sql.NullString
		prob                                sql.NullFloat64
		momentum, diff                      sql.NullInt64
		fees                                string
	)
	err := scan(&t.ID, &t.TicketID, &t.Status, &t.Date, &t.Time, &t.Symbol,
		&market, &strategy, &contract, &t.Strike, &side, &t.Ticker, &prob,
		&t.Position, &t.BuyPrice, &sellPrice, &closedAt, &fees, &pnl,
		&symbolOpen, &symbolClose, &momentum, &winLoss, &diff, &entryMethod,
		&closeMethod)
	if err != nil {
		return types.Trade{}, err
	}

	t.Side = types.Side(side)
	t.EntryMethod = types.EntryMethod(entryMethod)
	t.Market = market.String
	t.Strategy = strategy.String
	t.Contract = contract.String
	t.Prob = prob.Float64
	t.SymbolOpen = symbolOpen.Float64
	t.Momentum = int(momentum.Int64)
	t.Diff = int(diff.Int64)
	t.CloseMethod = closeMethod.String
	t.Fees, _ = decimal.NewFromString(fees)

	if sellPrice.Valid {
		v := sellPrice.Float64
		t.SellPrice = &v
	}
	if symbolClose.Valid {
		v := symbolClose.Float64
		t.SymbolClose = &v
	}
	if closedAt.Valid {
		ts, perr := time.Parse(ledgerTimeLayout, closedAt.String)
		if perr == nil {
			t.ClosedAt = &ts
		}
	}
	if pnl.Valid {
		v, perr := decimal.NewFromString(pnl.String)
		if perr == nil {
			t.PnL = &v
		}
	}
	if winLoss.Valid && winLoss.String != "" {
		w := types.WinLoss(winLoss.String)
		t.WinLoss = &w
	}
	return t, nil
}

// GetTrade fetches one ledger row by id.
func (s *Store) GetTrade(id int64) (types.Trade, bool, error) {
	row := s.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return types.Trade{}, false, nil
	}
	if err != nil {
		return types.Trade{}, false, fmt.Errorf("get trade: %w", err)
	}
	return t, true, nil
}

// TradesByStatus returns all ledger rows in the given status, oldest first.
func (s *Store) TradesByStatus(status types.TradeStatus) ([]types.Trade, error) {
	rows, err := s.db.Query(
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("trades by status: %w", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// AllTrades returns every ledger row, newest first.
func (s *Store) AllTrades() ([]types.Trade, error) {
	rows, err := s.db.Query(`SELECT ` + tradeColumns + ` FROM trades ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("all trades: %w", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ConfirmTradeOpen moves a pending trade to open with the fill-derived
// fields read from the mirrored position.
func (s *Store) ConfirmTradeOpen(id int64, position int, buyPrice float64, fees decimal.Decimal, diff int, symbolOpen float64) error {
	_, err := s.db.Exec(`
		UPDATE trades SET status = 'open', position = ?, buy_price = ?,
			fees = ?, diff = ?, symbol_open = ?
		WHERE id = ?`,
		position, buyPrice, fees.String(), diff, symbolOpen, id)
	if err != nil {
		return fmt.Errorf("confirm open: %w", err)
	}
	return nil
}

// MarkTradeClosing records the close request; symbol_close stays null
// until the close is confirmed.
func (s *Store) MarkTradeClosing(id int64, closeMethod string) error {
	_, err := s.db.Exec(`
		UPDATE trades SET status = 'closing', symbol_close = NULL, close_method = ?
		WHERE id = ?`, closeMethod, id)
	if err != nil {
		return fmt.Errorf("mark closing: %w", err)
	}
	return nil
}

// ConfirmTradeClosed finalizes a closed trade.
func (s *Store) ConfirmTradeClosed(id int64, sellPrice float64, symbolClose float64, fees decimal.Decimal, pnl decimal.Decimal, winLoss types.WinLoss, closedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE trades SET status = 'closed', sell_price = ?, symbol_close = ?,
			fees = ?, pnl = ?, win_loss = ?, closed_at = ?
		WHERE id = ?`,
		sellPrice, symbolClose, fees.String(), pnl.String(), string(winLoss),
		closedAt.Format(ledgerTimeLayout), id)
	if err != nil {
		return fmt.Errorf("confirm closed: %w", err)
	}
	return nil
}

// MarkTradeExpired transitions a still-open trade at the hour boundary.
func (s *Store) MarkTradeExpired(id int64, symbolClose float64, closedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE trades SET status = 'expired', symbol_close = ?, closed_at = ?,
			close_method = 'expired'
		WHERE id = ? AND status = 'open'`,
		symbolClose, closedAt.Format(ledgerTimeLayout), id)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

// SetTradeStatus performs a bare status transition (pending → error from
// executor failure reports).
func (s *Store) SetTradeStatus(id int64, status types.TradeStatus) error {
	_, err := s.db.Exec(`UPDATE trades SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// DeleteErrorTrades removes error trades ahead of expiry processing so
// they do not occupy monitoring. Returns the number deleted.
func (s *Store) DeleteErrorTrades() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM trades WHERE status = 'error'`)
	if err != nil {
		return 0, fmt.Errorf("delete error trades: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AppendTradeEvent appends one line to the per-ticket event log consumed
// by the UI to explain outcomes.
func (s *Store) AppendTradeEvent(ticketID, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO trade_events (ticket_id, ts, message) VALUES (?, ?, ?)`,
		ticketID, time.Now().Format(ledgerTimeLayout), message)
	if err != nil {
		return fmt.Errorf("append trade event: %w", err)
	}
	return nil
}

// TradeEvents returns the ticket log for one ticket, oldest first.
func (s *Store) TradeEvents(ticketID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT message FROM trade_events WHERE ticket_id = ? ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("trade events: %w", err)
	}
	defer rows.Close()

	var msgs []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
