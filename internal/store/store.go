// Package store provides the relational persistence layer on SQLite.
//
// One database file backs the engine's two logical schemas: market data
// (ticks, mirrored positions/fills/orders/settlements, the probability
// lookup) and user data (the trade ledger, active-trade telemetry,
// operator settings). Table ownership follows component boundaries:
// writers are the owning components, cross-component reads are free.
//
// All writes are idempotent by natural key: ticks upsert on their second,
// positions upsert on ticker, fills/orders/settlements insert-if-absent.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. Methods are grouped by table in the
// sibling files (ticks.go, ledger.go, mirror.go, active.go, settings.go,
// prob.go).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The busy timeout keeps concurrent component writes from
// surfacing SQLITE_BUSY during normal operation.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol TEXT NOT NULL,
			ts TEXT NOT NULL,
			price REAL NOT NULL,
			one_minute_avg REAL NOT NULL,
			momentum INTEGER,
			delta_1m REAL, delta_2m REAL, delta_3m REAL,
			delta_4m REAL, delta_15m REAL, delta_30m REAL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			symbol TEXT NOT NULL,
			market TEXT,
			trade_strategy TEXT,
			contract TEXT,
			strike INTEGER NOT NULL,
			side TEXT NOT NULL,
			ticker TEXT NOT NULL,
			prob REAL,
			position INTEGER NOT NULL,
			buy_price REAL NOT NULL,
			sell_price REAL,
			closed_at TEXT,
			fees TEXT NOT NULL DEFAULT '0',
			pnl TEXT,
			symbol_open REAL,
			symbol_close REAL,
			momentum INTEGER,
			win_loss TEXT,
			diff INTEGER,
			entry_method TEXT NOT NULL,
			close_method TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker)`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_trades (
			trade_id INTEGER PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			date TEXT, time TEXT,
			symbol TEXT,
			strike INTEGER NOT NULL,
			side TEXT NOT NULL,
			ticker TEXT NOT NULL,
			position INTEGER NOT NULL,
			buy_price REAL NOT NULL,
			prob REAL,
			symbol_open REAL,
			entry_method TEXT,
			current_symbol_price REAL,
			current_probability REAL,
			buffer_from_entry REAL,
			time_since_entry INTEGER,
			current_close_price REAL,
			current_pnl TEXT,
			last_updated TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			ticker TEXT PRIMARY KEY,
			total_traded INTEGER NOT NULL,
			position INTEGER NOT NULL,
			market_exposure TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			fees_paid TEXT NOT NULL,
			last_updated TEXT NOT NULL,
			raw TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			trade_id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			order_id TEXT,
			side TEXT,
			action TEXT,
			count INTEGER,
			yes_price TEXT,
			no_price TEXT,
			is_taker INTEGER,
			created_time TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_ticker ON fills(ticker, created_time)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			side TEXT, action TEXT, type TEXT, status TEXT,
			yes_price INTEGER, no_price INTEGER,
			count INTEGER,
			created_time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			ticker TEXT NOT NULL,
			market_result TEXT,
			revenue TEXT,
			yes_count INTEGER,
			no_count INTEGER,
			settled_time TEXT,
			PRIMARY KEY (ticker, settled_time)
		)`,
		`CREATE TABLE IF NOT EXISTS balance (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			balance TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS probability_lookup (
			ttc_seconds INTEGER NOT NULL,
			buffer_points INTEGER NOT NULL,
			momentum_bucket INTEGER NOT NULL,
			prob_within_positive REAL NOT NULL,
			prob_within_negative REAL NOT NULL,
			PRIMARY KEY (ttc_seconds, buffer_points, momentum_bucket)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
