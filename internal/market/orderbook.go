package market

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"strike-engine/internal/artifact"
	"strike-engine/pkg/types"
)

const (
	resubscribeInterval = 5 * time.Minute
	persistEveryN       = 100
)

// contractBook is the in-memory book for one contract: resting quantity
// per price level, per side.
type contractBook struct {
	yes        map[int]int
	no         map[int]int
	lastUpdate time.Time
}

func newContractBook() *contractBook {
	return &contractBook{yes: make(map[int]int), no: make(map[int]int)}
}

func (b *contractBook) apply(side string, price, delta int) {
	levels := b.yes
	if side == "no" {
		levels = b.no
	}
	levels[price] += delta
	if levels[price] <= 0 {
		delete(levels, price)
	}
}

func (b *contractBook) top(ticker string) types.BookTop {
	t := types.BookTop{Ticker: ticker, LastUpdate: b.lastUpdate}
	for price, qty := range b.yes {
		t.Volume += int64(qty)
		if price > t.YesBid {
			t.YesBid = price
			t.YesBidQty = qty
		}
		if t.YesAsk == 0 || price < t.YesAsk {
			t.YesAsk = price
			t.YesAskQty = qty
		}
	}
	for price, qty := range b.no {
		t.Volume += int64(qty)
		if price > t.NoBid {
			t.NoBid = price
			t.NoBidQty = qty
		}
		if t.NoAsk == 0 || price < t.NoAsk {
			t.NoAsk = price
			t.NoAskQty = qty
		}
	}
	return t
}

// PriceSource supplies the latest underlying price for near-the-money
// contract selection.
type PriceSource interface {
	LatestPrice() (float64, bool)
}

// SnapshotSource supplies the latest market snapshot.
type SnapshotSource interface {
	Snapshot() *types.Snapshot
}

// BookFeed is the subscription surface of the broker WebSocket the
// consumer drives.
type BookFeed interface {
	Subscribe(channels, marketTickers []string) error
	SnapshotEvents() <-chan types.OrderbookSnapshotMsg
	DeltaEvents() <-chan types.OrderbookDeltaMsg
}

// OrderbookConsumer applies the authenticated delta stream to per-contract
// books and derives top-of-book values. The subscribed contract list is
// the top N nearest the money, recomputed every 5 minutes.
type OrderbookConsumer struct {
	feed     BookFeed
	prices   PriceSource
	markets  SnapshotSource
	topN     int
	artifact string
	logger   *slog.Logger

	mu      sync.RWMutex
	books   map[string]*contractBook
	updates int
}

// NewOrderbookConsumer creates the consumer. dataDir receives the
// periodic top-of-book artifact.
func NewOrderbookConsumer(feed BookFeed, prices PriceSource, markets SnapshotSource, topN int, dataDir, symbol string, logger *slog.Logger) *OrderbookConsumer {
	return &OrderbookConsumer{
		feed:     feed,
		prices:   prices,
		markets:  markets,
		topN:     topN,
		artifact: filepath.Join(dataDir, "orderbook_snapshots", symbol+"_orderbook.json"),
		logger:   logger.With("component", "orderbook"),
		books:    make(map[string]*contractBook),
	}
}

// TopFor returns the derived top-of-book for one contract.
func (c *OrderbookConsumer) TopFor(ticker string) (types.BookTop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	book, ok := c.books[ticker]
	if !ok {
		return types.BookTop{}, false
	}
	return book.top(ticker), true
}

// Tops returns the derived top-of-book for every tracked contract.
func (c *OrderbookConsumer) Tops() []types.BookTop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tops := make([]types.BookTop, 0, len(c.books))
	for ticker, book := range c.books {
		tops = append(tops, book.top(ticker))
	}
	sort.Slice(tops, func(i, j int) bool { return tops[i].Ticker < tops[j].Ticker })
	return tops
}

// Run consumes feed events until ctx is cancelled. The subscription is
// attempted at start and again on every resubscribe tick; an attempt
// made before a price and snapshot are available subscribes nothing.
func (c *OrderbookConsumer) Run(ctx context.Context) {
	c.resubscribe()

	resub := time.NewTicker(resubscribeInterval)
	defer resub.Stop()

	for {
		select {
		case <-ctx.Done():
			c.persist()
			return
		case <-resub.C:
			c.resubscribe()
		case msg := <-c.feed.SnapshotEvents():
			c.applySnapshot(msg)
		case msg := <-c.feed.DeltaEvents():
			c.applyDelta(msg)
		}
	}
}

// resubscribe recomputes the near-the-money contract list and replaces
// the feed subscription.
func (c *OrderbookConsumer) resubscribe() {
	price, ok := c.prices.LatestPrice()
	if !ok {
		return
	}
	snap := c.markets.Snapshot()
	if snap == nil {
		return
	}

	markets := append([]types.Market(nil), snap.Markets...)
	sort.Slice(markets, func(i, j int) bool {
		di := abs(markets[i].FloorStrike - price)
		dj := abs(markets[j].FloorStrike - price)
		return di < dj
	})
	n := c.topN
	if n > len(markets) {
		n = len(markets)
	}
	tickers := make([]string, n)
	for i := 0; i < n; i++ {
		tickers[i] = markets[i].Ticker
	}

	if err := c.feed.Subscribe([]string{"orderbook_delta"}, tickers); err != nil {
		c.logger.Warn("orderbook resubscribe failed", "error", err)
		return
	}

	// Drop books for contracts no longer tracked.
	keep := make(map[string]bool, n)
	for _, t := range tickers {
		keep[t] = true
	}
	c.mu.Lock()
	for ticker := range c.books {
		if !keep[ticker] {
			delete(c.books, ticker)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("orderbook subscription refreshed", "contracts", n)
}

func (c *OrderbookConsumer) applySnapshot(msg types.OrderbookSnapshotMsg) {
	c.mu.Lock()
	book := newContractBook()
	for _, level := range msg.Yes {
		book.yes[level[0]] = level[1]
	}
	for _, level := range msg.No {
		book.no[level[0]] = level[1]
	}
	book.lastUpdate = time.Now()
	c.books[msg.MarketTicker] = book
	c.updates++
	persist := c.updates%persistEveryN == 0
	c.mu.Unlock()

	if persist {
		c.persist()
	}
}

func (c *OrderbookConsumer) applyDelta(msg types.OrderbookDeltaMsg) {
	c.mu.Lock()
	book, ok := c.books[msg.MarketTicker]
	if !ok {
		book = newContractBook()
		c.books[msg.MarketTicker] = book
	}
	book.apply(msg.Side, msg.Price, msg.Delta)
	book.lastUpdate = time.Now()
	c.updates++
	persist := c.updates%persistEveryN == 0
	c.mu.Unlock()

	if persist {
		c.persist()
	}
}

func (c *OrderbookConsumer) persist() {
	doc := struct {
		Timestamp time.Time       `json:"timestamp"`
		Books     []types.BookTop `json:"books"`
	}{
		Timestamp: time.Now(),
		Books:     c.Tops(),
	}
	if err := artifact.WriteJSON(c.artifact, doc); err != nil {
		c.logger.Warn("orderbook artifact write failed", "error", err)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
