package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"strike-engine/pkg/types"
)

// UpsertPosition mirrors one broker position by ticker. Applying the same
// snapshot twice yields identical rows; change gating happens upstream in
// the account sync, which hashes the whole endpoint response.
func (s *Store) UpsertPosition(p types.Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (ticker, total_traded, position, market_exposure,
			realized_pnl, fees_paid, last_updated, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			total_traded = excluded.total_traded,
			position = excluded.position,
			market_exposure = excluded.market_exposure,
			realized_pnl = excluded.realized_pnl,
			fees_paid = excluded.fees_paid,
			last_updated = excluded.last_updated,
			raw = excluded.raw`,
		p.Ticker, p.TotalTraded, p.Position, p.MarketExposure.String(),
		p.RealizedPnL.String(), p.FeesPaid.String(),
		p.LastUpdated.Format(ledgerTimeLayout), p.Raw)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// PositionByTicker reads one mirrored position.
func (s *Store) PositionByTicker(ticker string) (types.Position, bool, error) {
	row := s.db.QueryRow(`
		SELECT ticker, total_traded, position, market_exposure, realized_pnl,
			fees_paid, last_updated, raw
		FROM positions WHERE ticker = ?`, ticker)

	var (
		p                             types.Position
		exposure, realized, fees, lu  string
		raw                           sql.NullString
	)
	err := row.Scan(&p.Ticker, &p.TotalTraded, &p.Position, &exposure,
		&realized, &fees, &lu, &raw)
	if err == sql.ErrNoRows {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, fmt.Errorf("position by ticker: %w", err)
	}
	p.MarketExposure, _ = decimal.NewFromString(exposure)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	p.FeesPaid, _ = decimal.NewFromString(fees)
	p.LastUpdated, _ = time.Parse(ledgerTimeLayout, lu)
	p.Raw = raw.String
	return p, true, nil
}

// InsertFill mirrors one broker execution; duplicates (same broker trade
// id) are ignored, keeping the table append-only and idempotent.
func (s *Store) InsertFill(f types.Fill) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO fills (trade_id, ticker, order_id, side, action,
			count, yes_price, no_price, is_taker, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TradeID, f.Ticker, f.OrderID, f.Side, f.Action, f.Count,
		f.YesPrice.String(), f.NoPrice.String(), boolToInt(f.IsTaker),
		f.CreatedTime.Format(ledgerTimeLayout))
	if err != nil {
		return false, fmt.Errorf("insert fill: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LatestFill returns the most recent fill for a ticker, optionally
// restricted to one side ("yes"/"no"; empty matches either).
func (s *Store) LatestFill(ticker, side string) (types.Fill, bool, error) {
	query := `SELECT trade_id, ticker, order_id, side, action, count,
		yes_price, no_price, is_taker, created_time
		FROM fills WHERE ticker = ?`
	args := []any{ticker}
	if side != "" {
		query += ` AND side = ?`
		args = append(args, side)
	}
	query += ` ORDER BY created_time DESC LIMIT 1`

	row := s.db.QueryRow(query, args...)
	var (
		f              types.Fill
		yes, no, ct    string
		isTaker        int
	)
	err := row.Scan(&f.TradeID, &f.Ticker, &f.OrderID, &f.Side, &f.Action,
		&f.Count, &yes, &no, &isTaker, &ct)
	if err == sql.ErrNoRows {
		return types.Fill{}, false, nil
	}
	if err != nil {
		return types.Fill{}, false, fmt.Errorf("latest fill: %w", err)
	}
	f.YesPrice, _ = decimal.NewFromString(yes)
	f.NoPrice, _ = decimal.NewFromString(no)
	f.IsTaker = isTaker != 0
	f.CreatedTime, _ = time.Parse(ledgerTimeLayout, ct)
	return f, true, nil
}

// InsertOrder mirrors one broker order; duplicates are ignored.
func (s *Store) InsertOrder(o types.Order) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO orders (order_id, ticker, side, action, type,
			status, yes_price, no_price, count, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Ticker, o.Side, o.Action, o.Type, o.Status,
		o.YesPrice, o.NoPrice, o.Count, o.CreatedTime.Format(ledgerTimeLayout))
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertSettlement mirrors one market settlement; duplicates are ignored.
func (s *Store) InsertSettlement(st types.Settlement) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO settlements (ticker, market_result, revenue,
			yes_count, no_count, settled_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Ticker, st.MarketResult, st.Revenue.String(), st.YesCount,
		st.NoCount, st.SettledTime.Format(ledgerTimeLayout))
	if err != nil {
		return false, fmt.Errorf("insert settlement: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SettlementByTicker returns the latest settlement for a ticker.
func (s *Store) SettlementByTicker(ticker string) (types.Settlement, bool, error) {
	row := s.db.QueryRow(`
		SELECT ticker, market_result, revenue, yes_count, no_count, settled_time
		FROM settlements WHERE ticker = ? ORDER BY settled_time DESC LIMIT 1`, ticker)

	var (
		st          types.Settlement
		revenue, ts string
	)
	err := row.Scan(&st.Ticker, &st.MarketResult, &revenue, &st.YesCount,
		&st.NoCount, &ts)
	if err == sql.ErrNoRows {
		return types.Settlement{}, false, nil
	}
	if err != nil {
		return types.Settlement{}, false, fmt.Errorf("settlement by ticker: %w", err)
	}
	st.Revenue, _ = decimal.NewFromString(revenue)
	st.SettledTime, _ = time.Parse(ledgerTimeLayout, ts)
	return st, true, nil
}

// SaveBalance mirrors the account balance (single row).
func (s *Store) SaveBalance(b types.Balance) error {
	_, err := s.db.Exec(`
		INSERT INTO balance (id, balance, last_updated) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			balance = excluded.balance,
			last_updated = excluded.last_updated`,
		b.Balance.String(), b.LastUpdated.Format(ledgerTimeLayout))
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// GetBalance reads the mirrored account balance.
func (s *Store) GetBalance() (types.Balance, bool, error) {
	var (
		b      types.Balance
		bal, lu string
	)
	err := s.db.QueryRow(`SELECT balance, last_updated FROM balance WHERE id = 1`).Scan(&bal, &lu)
	if err == sql.ErrNoRows {
		return types.Balance{}, false, nil
	}
	if err != nil {
		return types.Balance{}, false, fmt.Errorf("get balance: %w", err)
	}
	b.Balance, _ = decimal.NewFromString(bal)
	b.LastUpdated, _ = time.Parse(ledgerTimeLayout, lu)
	return b, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
