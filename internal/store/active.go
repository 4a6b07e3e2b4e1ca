package store

import (
	"fmt"
	"time"

	"strike-engine/pkg/types"
)

// UpsertActiveTrade writes one active-trade row keyed by the ledger
// trade id. Inserted when a trade enters open, refreshed at 1 Hz by the
// supervisor, deleted the moment the trade leaves open.
func (s *Store) UpsertActiveTrade(a types.ActiveTrade) error {
	_, err := s.db.Exec(`
		INSERT INTO active_trades (trade_id, ticket_id, date, time, symbol,
			strike, side, ticker, position, buy_price, prob, symbol_open,
			entry_method, current_symbol_price, current_probability,
			buffer_from_entry, time_since_entry, current_close_price,
			current_pnl, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			current_symbol_price = excluded.current_symbol_price,
			current_probability = excluded.current_probability,
			buffer_from_entry = excluded.buffer_from_entry,
			time_since_entry = excluded.time_since_entry,
			current_close_price = excluded.current_close_price,
			current_pnl = excluded.current_pnl,
			last_updated = excluded.last_updated`,
		a.TradeID, a.TicketID, a.Date, a.Time, a.Symbol, a.Strike,
		string(a.Side), a.Ticker, a.Position, a.BuyPrice, a.Prob,
		a.SymbolOpen, string(a.EntryMethod), a.CurrentSymbolPrice,
		a.CurrentProbability, a.BufferFromEntry, a.TimeSinceEntry,
		a.CurrentClosePrice, a.CurrentPnL,
		a.LastUpdated.Format(ledgerTimeLayout))
	if err != nil {
		return fmt.Errorf("upsert active trade: %w", err)
	}
	return nil
}

// DeleteActiveTrade removes the monitoring row for a trade.
func (s *Store) DeleteActiveTrade(tradeID int64) error {
	_, err := s.db.Exec(`DELETE FROM active_trades WHERE trade_id = ?`, tradeID)
	if err != nil {
		return fmt.Errorf("delete active trade: %w", err)
	}
	return nil
}

// ListActiveTrades returns every monitored trade, oldest first.
func (s *Store) ListActiveTrades() ([]types.ActiveTrade, error) {
	rows, err := s.db.Query(`
		SELECT trade_id, ticket_id, date, time, symbol, strike, side, ticker,
			position, buy_price, prob, symbol_open, entry_method,
			current_symbol_price, current_probability, buffer_from_entry,
			time_since_entry, current_close_price, current_pnl, last_updated
		FROM active_trades ORDER BY trade_id`)
	if err != nil {
		return nil, fmt.Errorf("list active trades: %w", err)
	}
	defer rows.Close()

	var out []types.ActiveTrade
	for rows.Next() {
		var (
			a                 types.ActiveTrade
			side, entryMethod string
			lu                string
		)
		err := rows.Scan(&a.TradeID, &a.TicketID, &a.Date, &a.Time, &a.Symbol,
			&a.Strike, &side, &a.Ticker, &a.Position, &a.BuyPrice, &a.Prob,
			&a.SymbolOpen, &entryMethod, &a.CurrentSymbolPrice,
			&a.CurrentProbability, &a.BufferFromEntry, &a.TimeSinceEntry,
			&a.CurrentClosePrice, &a.CurrentPnL, &lu)
		if err != nil {
			return nil, err
		}
		a.Side = types.Side(side)
		a.EntryMethod = types.EntryMethod(entryMethod)
		a.LastUpdated, _ = time.Parse(ledgerTimeLayout, lu)
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasTradeOnStrikeSideSince reports whether any non-error trade on the
// (strike, side) key was opened at or after since (exchange-timezone
// date/time). The auto-entry supervisor uses this as the re-entry guard
// when allow_re_entry is off.
func (s *Store) HasTradeOnStrikeSideSince(strike int, side types.Side, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE strike = ? AND side = ? AND status != 'error'
			AND date = ? AND time >= ?`,
		strike, string(side), since.Format("2006-01-02"), since.Format("15:04:05")).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has trade on strike since: %w", err)
	}
	return n > 0, nil
}

// HasActiveOnStrikeSide reports whether any monitored or pending trade
// already covers the (strike, side) key. The auto-entry supervisor uses
// this as its duplicate-trade guard.
func (s *Store) HasActiveOnStrikeSide(strike int, side types.Side) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE strike = ? AND side = ? AND status IN ('pending', 'open', 'closing')`,
		strike, string(side)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has active on strike: %w", err)
	}
	return n > 0, nil
}
