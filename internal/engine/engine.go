// Package engine is the central orchestrator of the strike engine.
//
// It wires together all subsystems:
//
//  1. The price feed worker streams the public ticker into the tick log.
//  2. The snapshot worker polls the active hourly event and its strikes.
//  3. The orderbook consumer mirrors near-the-money books from the
//     authenticated delta stream.
//  4. The strike-table generator joins price, snapshot, and the
//     probability surface into the per-second table and watchlist.
//  5. The auto-entry supervisor scans the watchlist and emits tickets
//     through the initiator into the trade manager and executor.
//  6. The account sync mirrors broker state; its change triggers drive
//     the manager's pending/closing resolution and the active-trade
//     supervisor's telemetry.
//  7. The expiry scheduler fires the hour-boundary sequence.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"strike-engine/internal/account"
	"strike-engine/internal/api"
	"strike-engine/internal/autoentry"
	"strike-engine/internal/bus"
	"strike-engine/internal/config"
	"strike-engine/internal/exchange"
	"strike-engine/internal/market"
	"strike-engine/internal/monitor"
	"strike-engine/internal/price"
	"strike-engine/internal/prob"
	"strike-engine/internal/sched"
	"strike-engine/internal/store"
	"strike-engine/internal/strike"
	"strike-engine/internal/trade"
)

// exchangeTimezone is the broker's timezone; all external-facing
// timestamps use it, internal ordering stays monotonic UTC.
const exchangeTimezone = "America/New_York"

// Engine owns the lifecycle of every component goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	loc    *time.Location

	store    *store.Store
	bus      *bus.Bus
	notifier *bus.Notifier

	priceWorker *price.Worker
	snapshots   *market.SnapshotWorker
	bookFeed    *exchange.WSFeed
	orderbook   *market.OrderbookConsumer
	generator   *strike.Generator
	autoEntry   *autoentry.Supervisor
	manager     *trade.Manager
	initiator   *trade.Initiator
	monitor     *monitor.Supervisor
	posFeed     *exchange.WSFeed
	accountSync *account.Sync
	scheduler   *sched.Scheduler
	apiServer   *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(exchangeTimezone)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	notifier := bus.NewNotifier(cfg.Notify.Timeout, logger)

	creds, err := cfg.LoadCredentials()
	if err != nil {
		st.Close()
		return nil, err
	}
	auth, err := exchange.NewAuth(creds.KeyID, creds.PrivateKeyPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	client := exchange.NewClient(cfg.BaseURL(), cfg.Broker.APIPathPrefix, auth)

	priceWorker := price.NewWorker(cfg.Feed.URL, cfg.Feed.ProductID, cfg.Symbol, st, b, loc, logger)
	snapshots := market.NewSnapshotWorker(client, cfg.Snapshot.SeriesTicker,
		cfg.Snapshot.PollInterval, loc, b, cfg.Store.DataDir, cfg.Symbol, logger)

	bookFeed := exchange.NewWSFeed(cfg.WSURL(), cfg.Broker.WSPathPrefix, auth, logger.With("feed", "orderbook"))
	orderbook := market.NewOrderbookConsumer(bookFeed, priceWorker, snapshots,
		cfg.Orderbook.NearMoneyCount, cfg.Store.DataDir, cfg.Symbol, logger)

	probTable := prob.NewTable(st)
	generator := strike.NewGenerator(cfg.Symbol, cfg.Strike.Levels, priceWorker,
		snapshots, probTable, cfg.Store.DataDir, loc, logger)

	executor := trade.NewExecutor(client, logger)
	manager := trade.NewManager(st, st, executor, b, notifier,
		cfg.Notify.UIBaseURL, priceWorker, loc, logger)

	mon := monitor.NewSupervisor(st, st, priceWorker, snapshots, probTable,
		st, b, cfg.Store.DataDir, loc, logger)
	manager.AddListener(mon)

	initiator := trade.NewInitiator(cfg.Symbol, priceWorker, manager, loc)
	mon.SetCloser(initiator)

	autoEntry := autoentry.NewSupervisor(st, generator, snapshots, priceWorker,
		st, initiator, b, notifier, cfg.Notify.UIBaseURL, loc, logger)

	posFeed := exchange.NewWSFeed(cfg.WSURL(), cfg.Broker.WSPathPrefix, auth, logger.With("feed", "positions"))
	accountSync := account.NewSync(client, posFeed, st, manager, b, notifier,
		cfg.Notify.UIBaseURL, loc, logger)

	scheduler := sched.NewScheduler(manager, loc, logger)

	handlers := api.NewHandlers(initiator, manager, mon, b, logger)
	apiServer := api.NewServer(cfg.Server.Port, handlers, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		loc:         loc,
		store:       st,
		bus:         b,
		notifier:    notifier,
		priceWorker: priceWorker,
		snapshots:   snapshots,
		bookFeed:    bookFeed,
		orderbook:   orderbook,
		generator:   generator,
		autoEntry:   autoEntry,
		manager:     manager,
		initiator:   initiator,
		monitor:     mon,
		posFeed:     posFeed,
		accountSync: accountSync,
		scheduler:   scheduler,
		apiServer:   apiServer,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches every background goroutine.
func (e *Engine) Start() error {
	e.runWorker("price_feed", func() {
		if err := e.priceWorker.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("price feed exited", "error", err)
		}
	})
	e.runWorker("snapshots", func() { e.snapshots.Run(e.ctx) })
	e.runWorker("book_feed", func() {
		if err := e.bookFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("book feed exited", "error", err)
		}
	})
	e.runWorker("orderbook", func() { e.orderbook.Run(e.ctx) })
	e.runWorker("strike_table", func() { e.generator.Run(e.ctx) })
	e.runWorker("auto_entry", func() { e.autoEntry.Run(e.ctx) })
	e.runWorker("position_feed", func() {
		if err := e.posFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("position feed exited", "error", err)
		}
	})
	e.runWorker("account_sync", func() { e.accountSync.Run(e.ctx) })
	e.runWorker("api_server", func() {
		if err := e.apiServer.Start(); err != nil {
			e.logger.Error("api server exited", "error", err)
		}
	})

	e.monitor.Start(e.ctx)

	if err := e.scheduler.Start(e.ctx); err != nil {
		return err
	}

	e.bus.Publish(bus.Event{
		Type:    bus.EventSystemHealth,
		Payload: bus.HealthPayload{Component: "engine", Healthy: true, Detail: "started"},
	})
	return nil
}

// Stop gracefully shuts everything down.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.scheduler.Stop()
	if err := e.apiServer.Stop(); err != nil {
		e.logger.Error("api server stop failed", "error", err)
	}

	e.cancel()
	e.wg.Wait()

	e.bookFeed.Close()
	e.posFeed.Close()
	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// Bus exposes the event bus for embedding callers.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

func (e *Engine) runWorker(name string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logger.Debug("worker started", "worker", name)
		fn()
	}()
}
