// Package api hosts the inter-component HTTP endpoints.
//
// The engine runs one process by default, so most traffic between
// components rides the in-process bus; these endpoints exist for peers
// that run out of process (the UI, a remote executor, a split account
// sync) and mirror the bus semantics one-for-one.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the HTTP API.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the API server on the given port.
func NewServer(port int, handlers *Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/trades", handlers.HandleTrades)
	mux.HandleFunc("/api/update_trade_status", handlers.HandleUpdateTradeStatus)
	mux.HandleFunc("/api/positions_updated", handlers.HandlePositionsUpdated)
	mux.HandleFunc("/api/trade_manager_notification", handlers.HandleTradeManagerNotification)
	mux.HandleFunc("/api/notify_db_change", handlers.HandleNotifyDbChange)
	mux.HandleFunc("/api/notify_automated_trade", handlers.HandleNotifyAutomatedTrade)
	mux.HandleFunc("/api/active_trades", handlers.HandleActiveTrades)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
