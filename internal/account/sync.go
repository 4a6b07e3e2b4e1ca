// Package account mirrors broker account data into the store.
//
// The design is hybrid: an authenticated WebSocket subscription to the
// market_positions channel provides a real-time trigger; each trigger
// (and startup) runs a REST polling pass over balance, positions, fills,
// orders, and settlements. Balance and settlements are additionally
// polled on a coarse 60 s timer as a safety net for missed triggers.
//
// Every endpoint response is canonically serialized and hashed; writes
// and fan-out are skipped when nothing changed, so applying the same
// snapshot twice emits one change notification, not two.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"strike-engine/internal/bus"
	"strike-engine/internal/exchange"
	"strike-engine/pkg/types"
)

const safetyPollInterval = 60 * time.Second

// Broker is the REST surface the sync polls.
type Broker interface {
	GetBalance(ctx context.Context) (*exchange.BalanceResponse, error)
	GetPositions(ctx context.Context) ([]exchange.PositionWire, error)
	GetFills(ctx context.Context) ([]exchange.FillWire, error)
	GetOrders(ctx context.Context) ([]exchange.OrderWire, error)
	GetSettlements(ctx context.Context) ([]exchange.SettlementWire, error)
}

// PositionFeed is the WebSocket trigger surface.
type PositionFeed interface {
	Subscribe(channels, marketTickers []string) error
	PositionEvents() <-chan types.MarketPositionMsg
}

// MirrorStore is the persistence surface for mirrored account data.
type MirrorStore interface {
	UpsertPosition(p types.Position) error
	InsertFill(f types.Fill) (bool, error)
	InsertOrder(o types.Order) (bool, error)
	InsertSettlement(st types.Settlement) (bool, error)
	SaveBalance(b types.Balance) error
}

// ChangeSink receives the positions/fills triggers that resolve pending
// and closing trades; the trade manager implements it.
type ChangeSink interface {
	OnAccountChanged(database string)
}

// Sync mirrors the broker account into the store and fans out changes.
type Sync struct {
	broker   Broker
	feed     PositionFeed
	store    MirrorStore
	sink     ChangeSink
	bus      *bus.Bus
	notifier *bus.Notifier
	uiURL    string
	loc      *time.Location
	logger   *slog.Logger

	// lastHash gates writes per endpoint.
	lastHash map[string]string
}

// NewSync wires the account synchronizer.
func NewSync(broker Broker, feed PositionFeed, store MirrorStore, sink ChangeSink, b *bus.Bus, notifier *bus.Notifier, uiURL string, loc *time.Location, logger *slog.Logger) *Sync {
	return &Sync{
		broker:   broker,
		feed:     feed,
		store:    store,
		sink:     sink,
		bus:      b,
		notifier: notifier,
		uiURL:    uiURL,
		loc:      loc,
		logger:   logger.With("component", "account_sync"),
		lastHash: make(map[string]string),
	}
}

// Run performs the initial full sync, subscribes to the position trigger
// channel, and loops until ctx is cancelled.
func (s *Sync) Run(ctx context.Context) {
	s.SyncAll(ctx)

	if err := s.feed.Subscribe([]string{"market_positions"}, nil); err != nil {
		s.logger.Warn("position channel subscribe failed", "error", err)
	}

	safety := time.NewTicker(safetyPollInterval)
	defer safety.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.feed.PositionEvents():
			s.logger.Debug("position trigger", "ticker", msg.MarketTicker)
			s.SyncAll(ctx)
		case <-safety.C:
			s.syncBalance(ctx)
			s.syncSettlements(ctx)
		}
	}
}

// SyncAll runs one full polling pass over every endpoint.
func (s *Sync) SyncAll(ctx context.Context) {
	s.syncBalance(ctx)
	s.syncPositions(ctx)
	s.syncFills(ctx)
	s.syncOrders(ctx)
	s.syncSettlements(ctx)
}

// changed hashes a canonical serialization of payload and reports whether
// it differs from the endpoint's last-seen value.
func (s *Sync) changed(endpoint string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])
	if s.lastHash[endpoint] == h {
		return false
	}
	s.lastHash[endpoint] = h
	return true
}

func (s *Sync) syncBalance(ctx context.Context) {
	resp, err := s.broker.GetBalance(ctx)
	if err != nil {
		s.logger.Warn("balance poll failed", "error", err)
		return
	}
	if !s.changed("balance", resp) {
		return
	}

	b := types.Balance{
		Balance:     exchange.CentiCentsToDollars(resp.Balance),
		LastUpdated: time.Now().In(s.loc),
	}
	if err := s.store.SaveBalance(b); err != nil {
		s.logger.Error("balance write failed", "error", err)
		return
	}
	s.fanOut("balance", map[string]any{"balance": b.Balance.String()})
}

func (s *Sync) syncPositions(ctx context.Context) {
	wires, err := s.broker.GetPositions(ctx)
	if err != nil {
		s.logger.Warn("positions poll failed", "error", err)
		return
	}
	sort.Slice(wires, func(i, j int) bool { return wires[i].Ticker < wires[j].Ticker })
	if !s.changed("positions", wires) {
		return
	}

	now := time.Now().In(s.loc)
	for _, w := range wires {
		raw, _ := json.Marshal(w)
		p := types.Position{
			Ticker:         w.Ticker,
			TotalTraded:    w.TotalTraded,
			Position:       w.Position,
			MarketExposure: exchange.CentiCentsToDollars(w.MarketExposure),
			RealizedPnL:    exchange.CentiCentsToDollars(w.RealizedPnL),
			FeesPaid:       exchange.CentiCentsToDollars(w.FeesPaid),
			LastUpdated:    now,
			Raw:            string(raw),
		}
		if err := s.store.UpsertPosition(p); err != nil {
			s.logger.Error("position write failed", "ticker", w.Ticker, "error", err)
		}
	}

	s.fanOut("positions", map[string]any{"count": len(wires)})
	s.bus.Publish(bus.Event{
		Type:    bus.EventPositionUpdate,
		Payload: bus.PositionPayload{},
	})
}

func (s *Sync) syncFills(ctx context.Context) {
	wires, err := s.broker.GetFills(ctx)
	if err != nil {
		s.logger.Warn("fills poll failed", "error", err)
		return
	}
	if !s.changed("fills", wires) {
		return
	}

	inserted := 0
	for _, w := range wires {
		created, _ := time.Parse(time.RFC3339, w.CreatedTime)
		f := types.Fill{
			TradeID:     w.TradeID,
			Ticker:      w.Ticker,
			OrderID:     w.OrderID,
			Side:        w.Side,
			Action:      w.Action,
			Count:       w.Count,
			YesPrice:    exchange.CentsToPrice(w.YesPrice),
			NoPrice:     exchange.CentsToPrice(w.NoPrice),
			IsTaker:     w.IsTaker,
			CreatedTime: created,
		}
		ok, err := s.store.InsertFill(f)
		if err != nil {
			s.logger.Error("fill write failed", "trade_id", w.TradeID, "error", err)
			continue
		}
		if ok {
			inserted++
		}
	}

	if inserted > 0 {
		s.fanOut("fills", map[string]any{"inserted": inserted})
	}
}

func (s *Sync) syncOrders(ctx context.Context) {
	wires, err := s.broker.GetOrders(ctx)
	if err != nil {
		s.logger.Warn("orders poll failed", "error", err)
		return
	}
	if !s.changed("orders", wires) {
		return
	}

	for _, w := range wires {
		created, _ := time.Parse(time.RFC3339, w.CreatedTime)
		o := types.Order{
			OrderID:     w.OrderID,
			Ticker:      w.Ticker,
			Side:        w.Side,
			Action:      w.Action,
			Type:        w.Type,
			Status:      w.Status,
			YesPrice:    w.YesPrice,
			NoPrice:     w.NoPrice,
			Count:       w.Count,
			CreatedTime: created,
		}
		if _, err := s.store.InsertOrder(o); err != nil {
			s.logger.Error("order write failed", "order_id", w.OrderID, "error", err)
		}
	}

	s.fanOut("orders", map[string]any{"count": len(wires)})
}

func (s *Sync) syncSettlements(ctx context.Context) {
	wires, err := s.broker.GetSettlements(ctx)
	if err != nil {
		s.logger.Warn("settlements poll failed", "error", err)
		return
	}
	if !s.changed("settlements", wires) {
		return
	}

	inserted := 0
	for _, w := range wires {
		settled, _ := time.Parse(time.RFC3339, w.SettledTime)
		st := types.Settlement{
			Ticker:       w.Ticker,
			MarketResult: w.MarketResult,
			Revenue:      exchange.CentiCentsToDollars(w.Revenue),
			YesCount:     w.YesCount,
			NoCount:      w.NoCount,
			SettledTime:  settled,
		}
		ok, err := s.store.InsertSettlement(st)
		if err != nil {
			s.logger.Error("settlement write failed", "ticker", w.Ticker, "error", err)
			continue
		}
		if ok {
			inserted++
		}
	}

	if inserted > 0 {
		s.fanOut("settlements", map[string]any{"inserted": inserted})
	}
}

// fanOut announces one effective write: the in-process bus, the trade
// manager trigger (positions and fills drive pending/closing resolution),
// and the cross-process HTTP notification.
func (s *Sync) fanOut(database string, changeData map[string]any) {
	s.bus.Publish(bus.Event{
		Type:    bus.EventDbChanged,
		Payload: bus.DbChangePayload{DBName: database, ChangeData: changeData},
	})

	if s.sink != nil && (database == "positions" || database == "fills") {
		s.sink.OnAccountChanged(database)
	}

	if s.notifier != nil {
		go s.notifier.NotifyDbChange(context.Background(), s.uiURL, database, changeData)
	}
}
