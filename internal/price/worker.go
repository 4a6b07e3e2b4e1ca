// Package price implements the price feed worker.
//
// One long-lived WebSocket subscription to the public ticker feed is
// rate-limited to one retained tick per wall-clock second. Each retained
// tick is written to the tick log together with its 1-minute moving
// average, per-horizon percentage deltas, and the weighted momentum score
// that selects the probability-table bucket downstream. Ticks older than
// 30 days are evicted on a timer; ticks missed during a disconnect are
// skipped, never replayed.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"strike-engine/internal/bus"
	"strike-engine/pkg/types"
)

const (
	readTimeout     = 10 * time.Second
	reconnectWait   = 5 * time.Second
	retentionWindow = 30 * 24 * time.Hour
	evictionPeriod  = time.Minute
)

// TickStore is the persistence surface the worker needs.
type TickStore interface {
	UpsertTick(symbol string, tick types.Tick) error
	PricesSince(symbol string, since time.Time) ([]float64, error)
	PriceAtOrBefore(symbol string, target time.Time) (float64, bool, error)
	EvictTicksBefore(symbol string, cutoff time.Time) (int64, error)
}

// Worker consumes the public ticker stream for one symbol.
type Worker struct {
	url       string
	productID string
	symbol    string
	store     TickStore
	bus       *bus.Bus
	loc       *time.Location
	logger    *slog.Logger

	mu           sync.RWMutex
	latestPrice  float64
	latestTickTS time.Time
	momentum     int
	hasMomentum  bool

	lastRetained time.Time // second of the last retained tick
}

// NewWorker creates a price feed worker. loc is the exchange timezone;
// tick timestamps are stored in it.
func NewWorker(url, productID, symbol string, store TickStore, b *bus.Bus, loc *time.Location, logger *slog.Logger) *Worker {
	return &Worker{
		url:       url,
		productID: productID,
		symbol:    symbol,
		store:     store,
		bus:       b,
		loc:       loc,
		logger:    logger.With("component", "price_feed"),
	}
}

// LatestPrice returns the most recent observed price.
func (w *Worker) LatestPrice() (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latestPrice, !w.latestTickTS.IsZero()
}

// LatestMomentum returns the most recent momentum score.
func (w *Worker) LatestMomentum() (int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.momentum, w.hasMomentum
}

// Run connects and maintains the feed until ctx is cancelled. Eviction of
// expired ticks runs alongside the read loop.
func (w *Worker) Run(ctx context.Context) error {
	go w.evictionLoop(ctx)

	for {
		err := w.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("ticker feed disconnected, reconnecting",
			"error", err,
			"backoff", reconnectWait,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

func (w *Worker) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{
		"type": "subscribe",
		"channels": []map[string]any{
			{"name": "ticker", "product_ids": []string{w.productID}},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	w.logger.Info("ticker feed connected", "product", w.productID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		var msg types.TickerMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if msg.Type != "ticker" || msg.ProductID != w.productID {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			w.logger.Warn("unparseable ticker price", "price", msg.Price)
			continue
		}
		w.handleTick(price, time.Now().In(w.loc))
	}
}

// handleTick retains at most one tick per wall-clock second and derives
// the tick-row features from the recent history.
func (w *Worker) handleTick(p float64, now time.Time) {
	second := now.Truncate(time.Second)
	if second.Equal(w.lastRetained) {
		return
	}
	w.lastRetained = second

	tick := types.Tick{
		Timestamp: second,
		Price:     p,
	}

	// 1-minute moving average includes the incoming tick.
	prices, err := w.store.PricesSince(w.symbol, second.Add(-60*time.Second))
	if err != nil {
		w.logger.Error("tick history read failed", "error", err)
		prices = nil
	}
	sum := p
	for _, v := range prices {
		sum += v
	}
	tick.OneMinuteAvg = sum / float64(len(prices)+1)

	deltas := make([]*float64, len(horizons))
	for i, h := range horizons {
		past, ok, err := w.store.PriceAtOrBefore(w.symbol, second.Add(-h.lookback))
		if err != nil {
			w.logger.Error("delta read failed", "error", err)
			continue
		}
		if ok {
			d := pctDelta(p, past)
			deltas[i] = &d
		}
	}
	tick.Delta1m, tick.Delta2m, tick.Delta3m = deltas[0], deltas[1], deltas[2]
	tick.Delta4m, tick.Delta15m, tick.Delta30m = deltas[3], deltas[4], deltas[5]
	tick.Momentum = weightedMomentum(deltas)

	if err := w.store.UpsertTick(w.symbol, tick); err != nil {
		w.logger.Error("tick write failed", "error", err)
		return
	}

	w.mu.Lock()
	w.latestPrice = p
	w.latestTickTS = second
	if tick.Momentum != nil {
		w.momentum = *tick.Momentum
		w.hasMomentum = true
	}
	w.mu.Unlock()

	w.bus.Publish(bus.Event{
		Type:    bus.EventPriceUpdate,
		Payload: bus.PricePayload{Symbol: w.symbol, Price: p, TS: second},
	})
}

func (w *Worker) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(evictionPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().In(w.loc).Add(-retentionWindow)
			n, err := w.store.EvictTicksBefore(w.symbol, cutoff)
			if err != nil {
				w.logger.Error("tick eviction failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Debug("evicted expired ticks", "count", n)
			}
		}
	}
}
