package autoentry

import (
	"math"
	"time"
)

// spikeGuard is the spike-alert state machine. A momentum reading at or
// beyond the alert threshold pauses entries; recovery requires the
// absolute momentum to stay below the cooldown threshold continuously
// for the configured number of minutes. Any reading at or above the
// cooldown threshold resets the recovery clock.
type spikeGuard struct {
	active bool
	start  time.Time // spike detection or last recovery-clock reset
}

// update advances the machine with the current momentum reading and
// reports whether entries are paused.
func (g *spikeGuard) update(momentum float64, s Settings, now time.Time) bool {
	if !s.SpikeAlertEnabled {
		g.active = false
		return false
	}

	abs := math.Abs(momentum)

	if !g.active {
		if abs >= s.SpikeAlertMomentumThreshold {
			g.active = true
			g.start = now
		}
		return g.active
	}

	if abs >= s.SpikeAlertCooldownThreshold {
		// Still in spike conditions; recovery starts over.
		g.start = now
		return true
	}

	recovery := time.Duration(s.SpikeAlertCooldownMinutes) * time.Minute
	if now.Sub(g.start) >= recovery {
		g.active = false
	}
	return g.active
}
