// Strike Engine — an automated execution engine for hourly binary-option
// strike markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires feeds → pipeline → trading, manages lifecycle
//	price/worker.go      — public ticker feed, tick log, momentum features
//	market/snapshot.go   — hourly event resolution, strike markets, tier inference
//	market/orderbook.go  — authenticated delta stream, per-contract top-of-book
//	prob/table.go        — read-only probability surface lookups
//	strike/generator.go  — per-second strike table + watchlist artifacts
//	autoentry/           — entry state machine: thresholds, spike guard, cooldowns
//	trade/initiator.go   — canonical ticket minting
//	trade/manager.go     — ledger authority and trade state machine
//	trade/executor.go    — broker order adapter
//	monitor/             — 1 Hz live telemetry for open positions, auto-stop
//	account/sync.go      — hybrid WS-triggered/REST-polled account mirror
//	sched/expiry.go      — hour-boundary expiry sequence
//	bus/                 — in-process pub/sub + cross-process HTTP notifier
//	store/               — SQLite persistence: ticks, ledger, mirrors, settings
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"strike-engine/internal/config"
	"strike-engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("STRIKE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("strike engine started",
		"symbol", cfg.Symbol,
		"account_mode", cfg.AccountMode,
		"series", cfg.Snapshot.SeriesTicker,
		"port", cfg.Server.Port,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
