// Package strike builds the per-second decision table of candidate
// strikes and the filtered watchlist the auto-entry supervisor scans.
//
// Once per second the generator joins the latest price, the latest
// market snapshot, and the momentum score through the probability
// surface, producing:
//
//   - strike_tables/<sym>_strike_table.json   — the full ranked table
//   - strike_tables/<sym>_watchlist.json      — the tradable subset
//   - live_probabilities/<sym>_live_probabilities.json
//
// Artifacts are written atomically so readers never observe a torn file,
// and every artifact for time t reflects one consistent
// (price, snapshot, momentum) triple.
package strike

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"strike-engine/internal/artifact"
	"strike-engine/pkg/types"
)

// Watchlist thresholds. The half-point differential leniency applied by
// auto-entry is downstream of these; rows here are merely eligible.
const (
	watchlistMinVolume = 1000
	watchlistMinProb   = 90.0
	watchlistMaxAsk    = 98
	watchlistMinDiff   = -2.0
)

const brokerName = "kalshi"

// ProbSource is the probability surface the generator consults.
type ProbSource interface {
	Probability(ttcSeconds int, bufferPoints float64, momentum int, above bool) (float64, error)
}

// PriceSource supplies the latest price and momentum.
type PriceSource interface {
	LatestPrice() (float64, bool)
	LatestMomentum() (int, bool)
}

// SnapshotSource supplies the latest market snapshot.
type SnapshotSource interface {
	Snapshot() *types.Snapshot
}

// BuildTable computes the strike table for one consistent input triple.
// Strikes are the tier-multiples within levels of the money line,
// intersected with the strikes actually present in the snapshot.
func BuildTable(symbol string, price float64, momentum int, snap *types.Snapshot, table ProbSource, levels int, now time.Time) (types.StrikeTable, error) {
	if snap.StrikeTier <= 0 {
		return types.StrikeTable{}, fmt.Errorf("invalid strike tier %d", snap.StrikeTier)
	}
	if levels > 10 {
		levels = 10
	}

	ttc := snap.TTCSeconds(now)
	tier := float64(snap.StrikeTier)
	base := int(math.Round(price/tier)) * snap.StrikeTier

	rows := make([]types.StrikeRow, 0, 2*levels+1)
	for k := -levels; k <= levels; k++ {
		strikeLevel := base + k*snap.StrikeTier
		m, ok := snap.MarketByStrike(strikeLevel)
		if !ok {
			continue
		}

		buffer := math.Abs(price - float64(strikeLevel))
		// Only strike < price counts as below the money line; the
		// exact-equality tie takes the above branch.
		above := float64(strikeLevel) >= price

		p, err := table.Probability(ttc, buffer, momentum, above)
		if err != nil {
			return types.StrikeTable{}, fmt.Errorf("probability for strike %d: %w", strikeLevel, err)
		}

		row := types.StrikeRow{
			Strike:      strikeLevel,
			Ticker:      m.Ticker,
			Buffer:      round2(buffer),
			BufferPct:   round2(buffer / tier),
			Probability: round2(p),
			YesAsk:      m.YesAsk,
			NoAsk:       m.NoAsk,
			Volume:      m.Volume,
			AboveMoney:  above,
		}

		if !above {
			row.YesDiff = round2(p - float64(m.YesAsk))
			row.NoDiff = round2(100 - p - float64(m.NoAsk))
		} else {
			row.YesDiff = round2(100 - p - float64(m.YesAsk))
			row.NoDiff = round2(p - float64(m.NoAsk))
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })

	return types.StrikeTable{
		Symbol:       symbol,
		CurrentPrice: price,
		TTC:          ttc,
		Broker:       brokerName,
		EventTicker:  snap.EventTicker,
		MarketTitle:  snap.EventTitle,
		StrikeTier:   snap.StrikeTier,
		MarketStatus: snap.MarketStatus,
		LastUpdated:  now,
		Strikes:      rows,
	}, nil
}

// Watchlist filters and ranks table rows for auto-entry eligibility:
// enough volume, high enough probability, an ask that still has room,
// and a not-too-negative differential on the active side. Sorted by
// probability descending.
func Watchlist(table types.StrikeTable) types.StrikeTable {
	out := table
	out.Strikes = nil
	for _, row := range table.Strikes {
		if row.Volume < watchlistMinVolume {
			continue
		}
		if row.Probability <= watchlistMinProb {
			continue
		}
		if row.YesAsk > watchlistMaxAsk || row.NoAsk > watchlistMaxAsk {
			continue
		}
		if row.ActiveDiff() < watchlistMinDiff {
			continue
		}
		out.Strikes = append(out.Strikes, row)
	}
	sort.SliceStable(out.Strikes, func(i, j int) bool {
		return out.Strikes[i].Probability > out.Strikes[j].Probability
	})
	return out
}

// Generator runs the 1 Hz pipeline and retains the latest artifacts for
// in-process readers.
type Generator struct {
	symbol  string
	levels  int
	prices  PriceSource
	markets SnapshotSource
	table   ProbSource
	dataDir string
	loc     *time.Location
	logger  *slog.Logger

	mu        sync.RWMutex
	latest    *types.StrikeTable
	watchlist *types.StrikeTable
}

// NewGenerator creates the strike-table generator.
func NewGenerator(symbol string, levels int, prices PriceSource, markets SnapshotSource, table ProbSource, dataDir string, loc *time.Location, logger *slog.Logger) *Generator {
	return &Generator{
		symbol:  symbol,
		levels:  levels,
		prices:  prices,
		markets: markets,
		table:   table,
		dataDir: dataDir,
		loc:     loc,
		logger:  logger.With("component", "strike_table"),
	}
}

// Latest returns the most recent full table, nil before the first cycle.
func (g *Generator) Latest() *types.StrikeTable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest
}

// Watchlist returns the most recent watchlist, nil before the first cycle.
func (g *Generator) Watchlist() *types.StrikeTable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.watchlist
}

// Run executes one cycle per second until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.cycle()
		}
	}
}

func (g *Generator) cycle() {
	price, ok := g.prices.LatestPrice()
	if !ok {
		return
	}
	momentum, _ := g.prices.LatestMomentum()
	snap := g.markets.Snapshot()
	if snap == nil {
		return
	}
	now := time.Now().In(g.loc)

	table, err := BuildTable(g.symbol, price, momentum, snap, g.table, g.levels, now)
	if err != nil {
		g.logger.Error("strike table build failed", "error", err)
		return
	}
	watch := Watchlist(table)

	g.mu.Lock()
	g.latest = &table
	g.watchlist = &watch
	g.mu.Unlock()

	tableFile := filepath.Join(g.dataDir, "strike_tables", g.symbol+"_strike_table.json")
	if err := artifact.WriteJSON(tableFile, table); err != nil {
		g.logger.Error("strike table write failed", "error", err)
	}
	watchFile := filepath.Join(g.dataDir, "strike_tables", g.symbol+"_watchlist.json")
	if err := artifact.WriteJSON(watchFile, watch); err != nil {
		g.logger.Error("watchlist write failed", "error", err)
	}

	probs := types.LiveProbabilities{
		Timestamp:    now,
		CurrentPrice: price,
		TTCSeconds:   table.TTC,
	}
	for _, row := range table.Strikes {
		direction := "below"
		if row.AboveMoney {
			direction = "above"
		}
		probs.Probabilities = append(probs.Probabilities, types.LiveProbability{
			Strike:     row.Strike,
			ProbWithin: row.Probability,
			Direction:  direction,
		})
	}
	probFile := filepath.Join(g.dataDir, "live_probabilities", g.symbol+"_live_probabilities.json")
	if err := artifact.WriteJSON(probFile, probs); err != nil {
		g.logger.Error("live probabilities write failed", "error", err)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
