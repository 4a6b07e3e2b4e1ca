package autoentry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"strike-engine/internal/bus"
	"strike-engine/internal/trade"
	"strike-engine/pkg/types"
)

// State is the supervisor's operational state.
type State string

const (
	// StateDisabled: feature off, required settings missing, or unhealthy.
	StateDisabled State = "DISABLED"
	// StateInactive: enabled but TTC outside the entry window.
	StateInactive State = "INACTIVE"
	// StateActive: scanning the watchlist.
	StateActive State = "ACTIVE"
	// StatePaused: spike-alert mode; all emission blocked.
	StatePaused State = "PAUSED"
)

// differentialLeniency is the half-point grace applied to the
// min_differential threshold; it is part of the entry contract.
const differentialLeniency = 0.5

// WatchlistSource supplies the latest watchlist.
type WatchlistSource interface {
	Watchlist() *types.StrikeTable
}

// MarketSource supplies the latest snapshot (for time-to-close).
type MarketSource interface {
	Snapshot() *types.Snapshot
}

// MomentumSource supplies the current momentum score.
type MomentumSource interface {
	LatestMomentum() (int, bool)
}

// TradeGuard answers duplicate- and re-entry questions from the ledger.
type TradeGuard interface {
	HasActiveOnStrikeSide(strike int, side types.Side) (bool, error)
	HasTradeOnStrikeSideSince(strike int, side types.Side, since time.Time) (bool, error)
}

// Entrypoint mints and submits open tickets; the trade initiator
// implements it.
type Entrypoint interface {
	OpenTrade(ctx context.Context, req trade.Request) (int64, types.Ticket, error)
}

// Supervisor drives automatic entries from the watchlist.
type Supervisor struct {
	settings  SettingsStore
	watchlist WatchlistSource
	markets   MarketSource
	momentum  MomentumSource
	guard     TradeGuard
	entry     Entrypoint
	bus       *bus.Bus
	notifier  *bus.Notifier
	uiURL     string
	loc       *time.Location
	logger    *slog.Logger

	cooldown *cooldownMap
	spike    spikeGuard

	mu    sync.RWMutex
	state State
}

// NewSupervisor wires the auto-entry supervisor.
func NewSupervisor(settings SettingsStore, watchlist WatchlistSource, markets MarketSource, momentum MomentumSource, guard TradeGuard, entry Entrypoint, b *bus.Bus, notifier *bus.Notifier, uiURL string, loc *time.Location, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		settings:  settings,
		watchlist: watchlist,
		markets:   markets,
		momentum:  momentum,
		guard:     guard,
		entry:     entry,
		bus:       b,
		notifier:  notifier,
		uiURL:     uiURL,
		loc:       loc,
		logger:    logger.With("component", "auto_entry"),
		cooldown:  newCooldownMap(),
		state:     StateDisabled,
	}
}

// State returns the current operational state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run scans once per second until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx, time.Now().In(s.loc))
		}
	}
}

// scan is one 1 Hz pass: recompute the operational state, then, when
// active, evaluate every watchlist row against the entry criteria.
func (s *Supervisor) scan(ctx context.Context, now time.Time) {
	settings, complete, err := LoadSettings(s.settings)
	if err != nil {
		s.logger.Error("settings read failed", "error", err)
		s.setState(StateDisabled)
		return
	}
	if !complete || !settings.Enabled {
		s.setState(StateDisabled)
		return
	}

	momentum := 0.0
	if m, ok := s.momentum.LatestMomentum(); ok {
		momentum = float64(m)
	}
	if s.spike.update(momentum, settings, now) {
		s.setState(StatePaused)
		return
	}

	snap := s.markets.Snapshot()
	if snap == nil {
		s.setState(StateDisabled)
		return
	}
	ttc := snap.TTCSeconds(now)
	if ttc < settings.MinTime || ttc > settings.MaxTime {
		s.setState(StateInactive)
		return
	}

	s.setState(StateActive)

	watch := s.watchlist.Watchlist()
	if watch == nil {
		return
	}

	seen := make(map[strikeKey]bool)
	for _, row := range watch.Strikes {
		side := row.ActiveSide()
		key := strikeKey{strike: row.Strike, side: string(side)}
		if seen[key] {
			continue
		}
		seen[key] = true

		s.evaluate(ctx, row, side, key, settings, now)
	}
}

// evaluate applies the cooldown, duplicate guard, re-entry guard, and
// thresholds to one watchlist row, emitting a ticket when all pass.
func (s *Supervisor) evaluate(ctx context.Context, row types.StrikeRow, side types.Side, key strikeKey, settings Settings, now time.Time) {
	if !s.cooldown.Acquire(key, now) {
		return
	}

	active, err := s.guard.HasActiveOnStrikeSide(row.Strike, side)
	if err != nil {
		s.logger.Error("duplicate guard failed", "strike", row.Strike, "error", err)
		return
	}
	if active {
		return
	}

	if !settings.AllowReEntry {
		hourStart := now.Truncate(time.Hour)
		prior, err := s.guard.HasTradeOnStrikeSideSince(row.Strike, side, hourStart)
		if err != nil {
			s.logger.Error("re-entry guard failed", "strike", row.Strike, "error", err)
			return
		}
		if prior {
			return
		}
	}

	if row.Probability < settings.MinProbability {
		return
	}
	if row.ActiveDiff() < settings.MinDifferential-differentialLeniency {
		return
	}

	req := trade.Request{
		Strike:      row.Strike,
		Side:        side,
		Ticker:      row.Ticker,
		BuyPrice:    float64(row.ActiveAsk()) / 100,
		Prob:        row.Probability,
		Position:    settings.PositionSize * settings.Multiplier,
		EntryMethod: types.EntryAuto,
		Strategy:    "auto-entry",
	}

	id, ticket, err := s.entry.OpenTrade(ctx, req)
	if err != nil {
		// Reverse the cooldown claim so the next scan can retry.
		s.cooldown.Release(key)
		s.logger.Error("entry emission failed",
			"strike", row.Strike, "side", side, "error", err)
		return
	}

	s.logger.Info("auto entry emitted",
		"trade_id", id,
		"ticket_id", ticket.TicketID,
		"strike", row.Strike,
		"side", side,
		"prob", row.Probability,
		"buy_price", req.BuyPrice,
		"position", req.Position,
	)

	if s.notifier != nil {
		go s.notifier.NotifyAutomatedTrade(context.Background(), s.uiURL, ticket.TicketID, row.Strike, string(side))
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.logger.Info("state changed", "state", state)
		s.bus.Publish(bus.Event{
			Type:    bus.EventIndicatorUpdate,
			Payload: bus.IndicatorPayload{Name: "auto_entry", State: string(state)},
		})
	}
}
