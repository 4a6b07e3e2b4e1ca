// Package market provides the market snapshot worker and the orderbook
// delta consumer.
//
// The snapshot worker resolves the currently active hourly event ticker,
// fetches the event with its strike markets once per second, infers the
// strike tier, and publishes the latest snapshot. The orderbook consumer
// maintains a per-contract top-of-book from the authenticated delta
// stream over the near-the-money contracts.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"strike-engine/internal/artifact"
	"strike-engine/internal/bus"
	"strike-engine/internal/exchange"
	"strike-engine/pkg/types"
)

const (
	// failedTickerTTL is how long a failed event ticker is skipped before
	// retrying, so the selection loop doesn't hammer a dead event.
	failedTickerTTL = 30 * time.Second
	// maxHourAdvance caps how many hours ahead ticker selection probes.
	maxHourAdvance = 3
)

// EventTickerFor constructs the hourly event ticker expiring at the top
// of the hour after t, per the exchange convention: SERIES-YYMMMDDHH
// with the month abbreviation uppercased and the hour in the exchange
// timezone.
func EventTickerFor(series string, t time.Time) string {
	expiry := t.Truncate(time.Hour).Add(time.Hour)
	return series + "-" + strings.ToUpper(expiry.Format("06Jan0215"))
}

// InferStrikeTier sorts the floor strikes and returns the first
// consecutive difference as the tier. All strikes in the target market
// are equally spaced; a violated spacing is an external-data error, so
// it is returned alongside the first-difference tier rather than guessed
// around.
func InferStrikeTier(markets []types.Market) (int, error) {
	if len(markets) < 2 {
		return 0, fmt.Errorf("need at least 2 markets to infer strike tier, got %d", len(markets))
	}
	strikes := make([]int, len(markets))
	for i, m := range markets {
		strikes[i] = m.Strike()
	}
	sort.Ints(strikes)

	tier := strikes[1] - strikes[0]
	if tier <= 0 {
		return 0, fmt.Errorf("non-positive strike spacing %d", tier)
	}
	for i := 2; i < len(strikes); i++ {
		if strikes[i]-strikes[i-1] != tier {
			return tier, fmt.Errorf("strikes not equally spaced: %d then %d",
				tier, strikes[i]-strikes[i-1])
		}
	}
	return tier, nil
}

// EventSource is the broker surface the snapshot worker needs.
type EventSource interface {
	GetEvent(ctx context.Context, eventTicker string) (*exchange.EventResponse, error)
}

// SnapshotWorker polls the active hourly event once per second and
// exposes the latest snapshot, both in memory and as an atomically
// written artifact file.
type SnapshotWorker struct {
	client   EventSource
	series   string
	interval time.Duration
	loc      *time.Location
	bus      *bus.Bus
	artifact string
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot *types.Snapshot

	failedMu sync.Mutex
	failed   map[string]time.Time // event ticker -> last failure
}

// NewSnapshotWorker creates the worker. interval defaults to one second
// when zero; dataDir receives the snapshot artifact.
func NewSnapshotWorker(client EventSource, series string, interval time.Duration, loc *time.Location, b *bus.Bus, dataDir, symbol string, logger *slog.Logger) *SnapshotWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &SnapshotWorker{
		client:   client,
		series:   series,
		interval: interval,
		loc:      loc,
		bus:      b,
		artifact: filepath.Join(dataDir, "market_snapshots", symbol+"_snapshot.json"),
		logger:   logger.With("component", "snapshot"),
		failed:   make(map[string]time.Time),
	}
}

// Snapshot returns the latest snapshot, nil until the first successful poll.
func (w *SnapshotWorker) Snapshot() *types.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Run polls until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	w.poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *SnapshotWorker) poll(ctx context.Context) {
	now := time.Now().In(w.loc)

	for advance := 0; advance < maxHourAdvance; advance++ {
		candidate := EventTickerFor(w.series, now.Add(time.Duration(advance)*time.Hour))
		if w.recentlyFailed(candidate) {
			continue
		}

		resp, err := w.client.GetEvent(ctx, candidate)
		if err != nil {
			w.logger.Warn("event fetch failed", "event", candidate, "error", err)
			w.markFailed(candidate)
			continue
		}
		if len(resp.Markets) == 0 {
			w.markFailed(candidate)
			continue
		}

		snap, err := w.buildSnapshot(candidate, resp, now)
		if err != nil {
			w.logger.Error("snapshot rejected", "event", candidate, "error", err)
			return
		}

		w.mu.Lock()
		w.snapshot = snap
		w.mu.Unlock()

		if err := artifact.WriteJSON(w.artifact, snap); err != nil {
			w.logger.Warn("snapshot artifact write failed", "error", err)
		}

		w.bus.Publish(bus.Event{
			Type: bus.EventMarketUpdate,
			Payload: bus.MarketPayload{
				EventTicker: snap.EventTicker,
				TTCSeconds:  snap.TTCSeconds(now),
			},
		})
		return
	}

	w.logger.Warn("no active hourly event found", "series", w.series)
}

func (w *SnapshotWorker) buildSnapshot(eventTicker string, resp *exchange.EventResponse, now time.Time) (*types.Snapshot, error) {
	markets := make([]types.Market, len(resp.Markets))
	status := ""
	for i, m := range resp.Markets {
		markets[i] = types.Market{
			Ticker:       m.Ticker,
			FloorStrike:  m.FloorStrike,
			YesBid:       m.YesBid,
			YesAsk:       m.YesAsk,
			NoBid:        m.NoBid,
			NoAsk:        m.NoAsk,
			LastPrice:    m.LastPrice,
			Volume:       m.Volume,
			Volume24h:    m.Volume24h,
			OpenInterest: m.OpenInterest,
		}
		if status == "" {
			status = m.Status
		}
	}

	tier, err := InferStrikeTier(markets)
	if err != nil {
		// A misaligned ladder is reported loudly; the first-difference
		// tier is still usable for strike intersection downstream.
		w.logger.Error("strike tier inference", "event", eventTicker, "error", err)
	}
	if tier == 0 {
		return nil, fmt.Errorf("unusable strike ladder for %s: %w", eventTicker, err)
	}

	strikeDate, perr := time.Parse(time.RFC3339, resp.Event.StrikeDate)
	if perr != nil {
		return nil, fmt.Errorf("parse strike_date %q: %w", resp.Event.StrikeDate, perr)
	}

	return &types.Snapshot{
		EventTicker:  eventTicker,
		EventTitle:   resp.Event.Title,
		StrikeDate:   strikeDate,
		MarketStatus: status,
		StrikeTier:   tier,
		Markets:      markets,
		FetchedAt:    now,
	}, nil
}

func (w *SnapshotWorker) recentlyFailed(eventTicker string) bool {
	w.failedMu.Lock()
	defer w.failedMu.Unlock()
	at, ok := w.failed[eventTicker]
	return ok && time.Since(at) < failedTickerTTL
}

func (w *SnapshotWorker) markFailed(eventTicker string) {
	w.failedMu.Lock()
	defer w.failedMu.Unlock()
	w.failed[eventTicker] = time.Now()
}
