package price

import (
	"math"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestPctDelta(t *testing.T) {
	t.Parallel()
	if got := pctDelta(110, 100); math.Abs(got-10) > 1e-9 {
		t.Errorf("pctDelta(110,100) = %v, want 10", got)
	}
	if got := pctDelta(95, 100); math.Abs(got+5) > 1e-9 {
		t.Errorf("pctDelta(95,100) = %v, want -5", got)
	}
	if got := pctDelta(100, 0); got != 0 {
		t.Errorf("pctDelta with zero past = %v, want 0", got)
	}
}

func TestWeightedMomentumAllHorizons(t *testing.T) {
	t.Parallel()
	// Uniform 0.1% move across every horizon: the weighted mean is 0.1,
	// scaled x100 -> 10.
	deltas := []*float64{fp(0.1), fp(0.1), fp(0.1), fp(0.1), fp(0.1), fp(0.1)}
	got := weightedMomentum(deltas)
	if got == nil {
		t.Fatal("weightedMomentum returned nil")
	}
	if *got != 10 {
		t.Errorf("momentum = %d, want 10", *got)
	}
}

func TestWeightedMomentumPartial(t *testing.T) {
	t.Parallel()
	// Only 1m and 2m available: (0.30*0.2 + 0.25*-0.1)/0.55 = 0.0636...
	// x100 -> 6.
	deltas := []*float64{fp(0.2), fp(-0.1), nil, nil, nil, nil}
	got := weightedMomentum(deltas)
	if got == nil {
		t.Fatal("weightedMomentum returned nil")
	}
	if *got != 6 {
		t.Errorf("momentum = %d, want 6", *got)
	}
}

func TestWeightedMomentumNoData(t *testing.T) {
	t.Parallel()
	deltas := make([]*float64, len(horizons))
	if got := weightedMomentum(deltas); got != nil {
		t.Errorf("momentum with no deltas = %v, want nil", *got)
	}
}

func TestWeightedMomentumSign(t *testing.T) {
	t.Parallel()
	deltas := []*float64{fp(-0.3), fp(-0.2), fp(-0.1), fp(-0.1), fp(0), fp(0)}
	got := weightedMomentum(deltas)
	if got == nil || *got >= 0 {
		t.Errorf("downward deltas should give negative momentum, got %v", got)
	}
}
