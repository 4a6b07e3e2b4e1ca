package autoentry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"strike-engine/internal/bus"
	"strike-engine/internal/trade"
	"strike-engine/pkg/types"
)

// fakeSettings is a map-backed settings store.
type fakeSettings map[string]string

func (f fakeSettings) GetSettingBool(key string) (bool, bool, error) {
	v, ok := f[key]
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil, err
}

func (f fakeSettings) GetSettingFloat(key string) (float64, bool, error) {
	v, ok := f[key]
	if !ok {
		return 0, false, nil
	}
	x, err := strconv.ParseFloat(v, 64)
	return x, err == nil, err
}

func (f fakeSettings) GetSettingInt(key string) (int, bool, error) {
	v, ok := f[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, err == nil, err
}

func fullSettings() fakeSettings {
	return fakeSettings{
		"auto_entry.enabled":                        "true",
		"auto_entry.min_probability":                "90",
		"auto_entry.min_differential":               "2",
		"auto_entry.min_time":                       "60",
		"auto_entry.max_time":                       "1800",
		"auto_entry.allow_re_entry":                 "true",
		"auto_entry.spike_alert_enabled":            "true",
		"auto_entry.spike_alert_momentum_threshold": "20",
		"auto_entry.spike_alert_cooldown_threshold": "10",
		"auto_entry.spike_alert_cooldown_minutes":   "2",
		"trade.position_size":                       "5",
		"trade.multiplier":                          "1",
	}
}

type fakeWatchlist struct{ table *types.StrikeTable }

func (f *fakeWatchlist) Watchlist() *types.StrikeTable { return f.table }

type fakeMarkets struct{ snap *types.Snapshot }

func (f *fakeMarkets) Snapshot() *types.Snapshot { return f.snap }

type fakeMomentum struct{ m int }

func (f *fakeMomentum) LatestMomentum() (int, bool) { return f.m, true }

type fakeGuard struct {
	active bool
	prior  bool
}

func (f *fakeGuard) HasActiveOnStrikeSide(strike int, side types.Side) (bool, error) {
	return f.active, nil
}

func (f *fakeGuard) HasTradeOnStrikeSideSince(strike int, side types.Side, since time.Time) (bool, error) {
	return f.prior, nil
}

type fakeEntry struct {
	requests []trade.Request
	fail     bool
}

func (f *fakeEntry) OpenTrade(ctx context.Context, req trade.Request) (int64, types.Ticket, error) {
	if f.fail {
		return 0, types.Ticket{}, fmt.Errorf("executor unavailable")
	}
	f.requests = append(f.requests, req)
	return int64(len(f.requests)), types.Ticket{TicketID: "tk"}, nil
}

func testSupervisor(settings fakeSettings, watch *fakeWatchlist, markets *fakeMarkets, momentum *fakeMomentum, guard *fakeGuard, entry *fakeEntry) *Supervisor {
	return NewSupervisor(settings, watch, markets, momentum, guard, entry,
		bus.New(), nil, "", time.UTC, slog.Default())
}

func watchlistFixture(now time.Time) (*fakeWatchlist, *fakeMarkets) {
	watch := &fakeWatchlist{table: &types.StrikeTable{
		Strikes: []types.StrikeRow{{
			Strike:      119000,
			Ticker:      "KXBTCD-25JUL3117-B119000",
			Probability: 95.5,
			YesAsk:      93,
			NoAsk:       9,
			YesDiff:     2.5,
			NoDiff:      -4.5,
			Volume:      1500,
			AboveMoney:  false,
		}},
	}}
	markets := &fakeMarkets{snap: &types.Snapshot{
		StrikeDate: now.Add(600 * time.Second),
	}}
	return watch, markets
}

func TestScanHappyPath(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	entry := &fakeEntry{}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)

	if sup.State() != StateActive {
		t.Fatalf("state = %v, want ACTIVE", sup.State())
	}
	if len(entry.requests) != 1 {
		t.Fatalf("emissions = %d, want 1", len(entry.requests))
	}
	req := entry.requests[0]
	if req.Side != types.SideYes {
		t.Errorf("side = %v, want Y", req.Side)
	}
	if req.BuyPrice != 0.93 {
		t.Errorf("buy_price = %v, want 0.93", req.BuyPrice)
	}
	if req.Prob != 95.5 {
		t.Errorf("prob = %v, want 95.5", req.Prob)
	}
	if req.Position != 5 {
		t.Errorf("position = %d, want 5 (position_size x multiplier)", req.Position)
	}
	if req.EntryMethod != types.EntryAuto {
		t.Errorf("entry_method = %v, want auto", req.EntryMethod)
	}

	// A second scan 5 seconds later with identical inputs emits nothing:
	// the cooldown claim from the first scan holds.
	sup.scan(context.Background(), now.Add(5*time.Second))
	if len(entry.requests) != 1 {
		t.Errorf("emissions after cooldown scan = %d, want still 1", len(entry.requests))
	}
}

func TestScanMissingSettingsDisables(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	settings := fullSettings()
	delete(settings, "auto_entry.min_differential")
	entry := &fakeEntry{}
	sup := testSupervisor(settings, watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)

	if sup.State() != StateDisabled {
		t.Errorf("state = %v, want DISABLED on missing setting", sup.State())
	}
	if len(entry.requests) != 0 {
		t.Errorf("emissions = %d, want 0", len(entry.requests))
	}
}

func TestScanOutsideTTCWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, _ := watchlistFixture(now)
	// TTC of 30s is under min_time=60.
	markets := &fakeMarkets{snap: &types.Snapshot{StrikeDate: now.Add(30 * time.Second)}}
	entry := &fakeEntry{}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)

	if sup.State() != StateInactive {
		t.Errorf("state = %v, want INACTIVE", sup.State())
	}
	if len(entry.requests) != 0 {
		t.Errorf("emissions = %d, want 0", len(entry.requests))
	}
}

func TestScanSpikePauses(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	entry := &fakeEntry{}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 25}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)

	if sup.State() != StatePaused {
		t.Errorf("state = %v, want PAUSED", sup.State())
	}
	if len(entry.requests) != 0 {
		t.Errorf("emissions during spike = %d, want 0", len(entry.requests))
	}
}

func TestScanDuplicateGuard(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	entry := &fakeEntry{}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{active: true}, entry)

	sup.scan(context.Background(), now)

	if len(entry.requests) != 0 {
		t.Errorf("existing trade on the key should block emission, got %d", len(entry.requests))
	}
}

func TestScanReEntryGuard(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	settings := fullSettings()
	settings["auto_entry.allow_re_entry"] = "false"
	entry := &fakeEntry{}
	sup := testSupervisor(settings, watch, markets, &fakeMomentum{m: 5}, &fakeGuard{prior: true}, entry)

	sup.scan(context.Background(), now)

	if len(entry.requests) != 0 {
		t.Errorf("prior trade this hour should block re-entry, got %d", len(entry.requests))
	}
}

func TestScanDifferentialLeniency(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	// min_differential = 2; a 1.5 diff passes with the half-point grace,
	// 1.4 does not.
	watch.table.Strikes[0].YesDiff = 1.5
	entry := &fakeEntry{}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)
	if len(entry.requests) != 1 {
		t.Fatalf("diff 1.5 should pass with leniency, got %d emissions", len(entry.requests))
	}

	watch.table.Strikes[0].YesDiff = 1.4
	sup2 := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)
	sup2.scan(context.Background(), now)
	if len(entry.requests) != 1 {
		t.Errorf("diff 1.4 should fail, got %d emissions", len(entry.requests))
	}
}

func TestScanEmissionFailureReleasesCooldown(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	watch, markets := watchlistFixture(now)
	entry := &fakeEntry{fail: true}
	sup := testSupervisor(fullSettings(), watch, markets, &fakeMomentum{m: 5}, &fakeGuard{}, entry)

	sup.scan(context.Background(), now)

	// The failed emission reversed the cooldown; the retry succeeds
	// immediately on the next scan.
	entry.fail = false
	sup.scan(context.Background(), now.Add(time.Second))
	if len(entry.requests) != 1 {
		t.Errorf("retry after rollback should emit, got %d", len(entry.requests))
	}
}
