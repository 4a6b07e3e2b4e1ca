// Package autoentry implements the auto-entry supervisor: the state
// machine that scans the watchlist once per second and emits trade
// tickets when entry criteria are met.
package autoentry

// Settings are the operator thresholds the supervisor runs on. Every
// field is required; a missing key disables the supervisor entirely
// rather than silently defaulting.
type Settings struct {
	Enabled         bool
	MinProbability  float64
	MinDifferential float64
	MinTime         int // TTC window lower bound, seconds
	MaxTime         int // TTC window upper bound, seconds
	AllowReEntry    bool

	SpikeAlertEnabled           bool
	SpikeAlertMomentumThreshold float64
	SpikeAlertCooldownThreshold float64
	SpikeAlertCooldownMinutes   int

	PositionSize int
	Multiplier   int
}

// SettingsStore is the persisted settings surface.
type SettingsStore interface {
	GetSettingBool(key string) (bool, bool, error)
	GetSettingFloat(key string) (float64, bool, error)
	GetSettingInt(key string) (int, bool, error)
}

// LoadSettings reads the full settings block. complete is false when any
// required key is absent or unparseable.
func LoadSettings(store SettingsStore) (s Settings, complete bool, err error) {
	var ok bool

	if s.Enabled, ok, err = store.GetSettingBool("auto_entry.enabled"); err != nil || !ok {
		return s, false, err
	}
	if s.MinProbability, ok, err = store.GetSettingFloat("auto_entry.min_probability"); err != nil || !ok {
		return s, false, err
	}
	if s.MinDifferential, ok, err = store.GetSettingFloat("auto_entry.min_differential"); err != nil || !ok {
		return s, false, err
	}
	if s.MinTime, ok, err = store.GetSettingInt("auto_entry.min_time"); err != nil || !ok {
		return s, false, err
	}
	if s.MaxTime, ok, err = store.GetSettingInt("auto_entry.max_time"); err != nil || !ok {
		return s, false, err
	}
	if s.AllowReEntry, ok, err = store.GetSettingBool("auto_entry.allow_re_entry"); err != nil || !ok {
		return s, false, err
	}
	if s.SpikeAlertEnabled, ok, err = store.GetSettingBool("auto_entry.spike_alert_enabled"); err != nil || !ok {
		return s, false, err
	}
	if s.SpikeAlertMomentumThreshold, ok, err = store.GetSettingFloat("auto_entry.spike_alert_momentum_threshold"); err != nil || !ok {
		return s, false, err
	}
	if s.SpikeAlertCooldownThreshold, ok, err = store.GetSettingFloat("auto_entry.spike_alert_cooldown_threshold"); err != nil || !ok {
		return s, false, err
	}
	if s.SpikeAlertCooldownMinutes, ok, err = store.GetSettingInt("auto_entry.spike_alert_cooldown_minutes"); err != nil || !ok {
		return s, false, err
	}
	if s.PositionSize, ok, err = store.GetSettingInt("trade.position_size"); err != nil || !ok {
		return s, false, err
	}
	if s.Multiplier, ok, err = store.GetSettingInt("trade.multiplier"); err != nil || !ok {
		return s, false, err
	}
	return s, true, nil
}
