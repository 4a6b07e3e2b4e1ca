package store

import (
	"database/sql"
	"fmt"
)

// ProbLookup does a point read of the probability lookup table. Callers
// are responsible for rounding the key to the table's step sizes; the
// table itself is read-only after generation.
func (s *Store) ProbLookup(ttcSeconds, bufferPoints, momentumBucket int) (positive, negative float64, ok bool, err error) {
	err = s.db.QueryRow(`
		SELECT prob_within_positive, prob_within_negative
		FROM probability_lookup
		WHERE ttc_seconds = ? AND buffer_points = ? AND momentum_bucket = ?`,
		ttcSeconds, bufferPoints, momentumBucket).Scan(&positive, &negative)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("prob lookup: %w", err)
	}
	return positive, negative, true, nil
}

// ProbDomain returns the key bounds of the lookup table, used to clamp
// out-of-range inputs. ok is false when the table is empty.
func (s *Store) ProbDomain() (minTTC, maxTTC, maxBuffer, minMomentum, maxMomentum int, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT MIN(ttc_seconds), MAX(ttc_seconds), MAX(buffer_points),
			MIN(momentum_bucket), MAX(momentum_bucket)
		FROM probability_lookup`)
	var a, b, c, d, e sql.NullInt64
	if err = row.Scan(&a, &b, &c, &d, &e); err != nil {
		return 0, 0, 0, 0, 0, false, fmt.Errorf("prob domain: %w", err)
	}
	if !a.Valid {
		return 0, 0, 0, 0, 0, false, nil
	}
	return int(a.Int64), int(b.Int64), int(c.Int64), int(d.Int64), int(e.Int64), true, nil
}

// InsertProbRow loads one lookup row. Only the offline table loader and
// tests write here.
func (s *Store) InsertProbRow(ttcSeconds, bufferPoints, momentumBucket int, positive, negative float64) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO probability_lookup
			(ttc_seconds, buffer_points, momentum_bucket,
			 prob_within_positive, prob_within_negative)
		VALUES (?, ?, ?, ?, ?)`,
		ttcSeconds, bufferPoints, momentumBucket, positive, negative)
	if err != nil {
		return fmt.Errorf("insert prob row: %w", err)
	}
	return nil
}
