// Package prob exposes the pre-computed probability surface.
//
// The table is generated offline and is strictly read-only at runtime.
// Rows are keyed by (time-to-close, buffer points, momentum bucket) at
// fixed step sizes; lookups round each key to its nearest step and clamp
// to the table domain. Below a quarter of the buffer step, a linear ramp
// from 100% at zero buffer to the first-step table value replaces the
// table read. The ramp covers buffers below the quarter step only; from
// the quarter step on, the first-step table value is read directly.
package prob

import (
	"fmt"
	"math"
	"sync"
)

const (
	// TTCStep is the table's time-to-close resolution in seconds.
	TTCStep = 5
	// BufferStep is the table's buffer resolution in points.
	BufferStep = 10
)

// Store is the persistence surface of the lookup table.
type Store interface {
	ProbLookup(ttcSeconds, bufferPoints, momentumBucket int) (positive, negative float64, ok bool, err error)
	ProbDomain() (minTTC, maxTTC, maxBuffer, minMomentum, maxMomentum int, ok bool, err error)
}

// domain caches the table bounds used for clamping.
type domain struct {
	minTTC, maxTTC          int
	maxBuffer               int
	minMomentum, maxMomentum int
}

// Table is the runtime lookup handle.
type Table struct {
	store Store

	once   sync.Once
	dom    domain
	domErr error
}

// NewTable creates a lookup over the given store.
func NewTable(store Store) *Table {
	return &Table{store: store}
}

func (t *Table) loadDomain() error {
	t.once.Do(func() {
		minTTC, maxTTC, maxBuffer, minM, maxM, ok, err := t.store.ProbDomain()
		if err != nil {
			t.domErr = err
			return
		}
		if !ok {
			t.domErr = fmt.Errorf("probability table is empty")
			return
		}
		t.dom = domain{minTTC: minTTC, maxTTC: maxTTC, maxBuffer: maxBuffer,
			minMomentum: minM, maxMomentum: maxM}
	})
	return t.domErr
}

// roundStep rounds v to the nearest multiple of step.
func roundStep(v float64, step int) int {
	return int(math.Round(v/float64(step))) * step
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Probability returns the model probability (percent) that the underlying
// stays within bufferPoints of its current level in the relevant
// direction before ttcSeconds elapse. above selects the direction: true
// reads the positive (upward-move) column, used for strikes above the
// money line; false reads the negative column, for strikes below.
func (t *Table) Probability(ttcSeconds int, bufferPoints float64, momentum int, above bool) (float64, error) {
	if err := t.loadDomain(); err != nil {
		return 0, err
	}

	ttcKey := clamp(roundStep(float64(ttcSeconds), TTCStep), t.dom.minTTC, t.dom.maxTTC)
	momKey := clamp(momentum, t.dom.minMomentum, t.dom.maxMomentum)

	quarterStep := float64(BufferStep) / 4
	if bufferPoints < quarterStep {
		// Linear ramp from 100% at zero buffer to the first-step value.
		first, err := t.read(ttcKey, BufferStep, momKey, above)
		if err != nil {
			return 0, err
		}
		return 100 - (100-first)*(bufferPoints/float64(BufferStep)), nil
	}

	bufKey := roundStep(bufferPoints, BufferStep)
	bufKey = clamp(bufKey, BufferStep, t.dom.maxBuffer)
	return t.read(ttcKey, bufKey, momKey, above)
}

func (t *Table) read(ttcKey, bufKey, momKey int, above bool) (float64, error) {
	pos, neg, ok, err := t.store.ProbLookup(ttcKey, bufKey, momKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("probability table has no row at (%d, %d, %d)", ttcKey, bufKey, momKey)
	}
	if above {
		return pos, nil
	}
	return neg, nil
}
