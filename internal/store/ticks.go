package store

import (
	"database/sql"
	"fmt"
	"time"

	"strike-engine/pkg/types"
)

// tickTimeLayout is second precision in the exchange timezone; it is also
// the tick primary key, which is what enforces at most one row per second.
const tickTimeLayout = "2006-01-02T15:04:05"

// UpsertTick writes one tick row, overwriting any prior row for the same
// symbol and second.
func (s *Store) UpsertTick(symbol string, tick types.Tick) error {
	_, err := s.db.Exec(`
		INSERT INTO ticks (symbol, ts, price, one_minute_avg, momentum,
			delta_1m, delta_2m, delta_3m, delta_4m, delta_15m, delta_30m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			price = excluded.price,
			one_minute_avg = excluded.one_minute_avg,
			momentum = excluded.momentum,
			delta_1m = excluded.delta_1m,
			delta_2m = excluded.delta_2m,
			delta_3m = excluded.delta_3m,
			delta_4m = excluded.delta_4m,
			delta_15m = excluded.delta_15m,
			delta_30m = excluded.delta_30m`,
		symbol, tick.Timestamp.Format(tickTimeLayout), tick.Price, tick.OneMinuteAvg,
		nullableInt(tick.Momentum),
		nullableFloat(tick.Delta1m), nullableFloat(tick.Delta2m), nullableFloat(tick.Delta3m),
		nullableFloat(tick.Delta4m), nullableFloat(tick.Delta15m), nullableFloat(tick.Delta30m),
	)
	if err != nil {
		return fmt.Errorf("upsert tick: %w", err)
	}
	return nil
}

// PricesSince returns all prices with ts >= since, newest first.
func (s *Store) PricesSince(symbol string, since time.Time) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT price FROM ticks WHERE symbol = ? AND ts >= ? ORDER BY ts DESC`,
		symbol, since.Format(tickTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("prices since: %w", err)
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// PriceAtOrBefore returns the price of the nearest tick at or before
// target. ok is false when no such tick exists.
func (s *Store) PriceAtOrBefore(symbol string, target time.Time) (float64, bool, error) {
	var p float64
	err := s.db.QueryRow(
		`SELECT price FROM ticks WHERE symbol = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`,
		symbol, target.Format(tickTimeLayout)).Scan(&p)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("price at: %w", err)
	}
	return p, true, nil
}

// LatestTick returns the most recent tick for a symbol.
func (s *Store) LatestTick(symbol string) (types.Tick, bool, error) {
	row := s.db.QueryRow(`
		SELECT ts, price, one_minute_avg, momentum,
			delta_1m, delta_2m, delta_3m, delta_4m, delta_15m, delta_30m
		FROM ticks WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, symbol)

	var (
		ts       string
		tick     types.Tick
		momentum sql.NullInt64
		deltas   [6]sql.NullFloat64
	)
	err := row.Scan(&ts, &tick.Price, &tick.OneMinuteAvg, &momentum,
		&deltas[0], &deltas[1], &deltas[2], &deltas[3], &deltas[4], &deltas[5])
	if err == sql.ErrNoRows {
		return types.Tick{}, false, nil
	}
	if err != nil {
		return types.Tick{}, false, fmt.Errorf("latest tick: %w", err)
	}

	tick.Timestamp, _ = time.Parse(tickTimeLayout, ts)
	if momentum.Valid {
		m := int(momentum.Int64)
		tick.Momentum = &m
	}
	ptrs := []**float64{&tick.Delta1m, &tick.Delta2m, &tick.Delta3m, &tick.Delta4m, &tick.Delta15m, &tick.Delta30m}
	for i, d := range deltas {
		if d.Valid {
			v := d.Float64
			*ptrs[i] = &v
		}
	}
	return tick, true, nil
}

// EvictTicksBefore deletes tick rows older than cutoff and returns how
// many were removed. The 30-day retention window is a property of the
// table, enforced on a timer rather than on every insert.
func (s *Store) EvictTicksBefore(symbol string, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM ticks WHERE symbol = ? AND ts < ?`,
		symbol, cutoff.Format(tickTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("evict ticks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
