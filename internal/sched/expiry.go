// Package sched fires the hour-boundary expiry sequence.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiryRunner is the hour-boundary work: delete error trades, mark
// still-open trades expired, and spawn settlement polling. The trade
// manager implements it.
type ExpiryRunner interface {
	RunExpiry(ctx context.Context)
}

// Scheduler fires the runner at the top of every hour in the exchange
// timezone.
type Scheduler struct {
	cron   *cron.Cron
	runner ExpiryRunner
	logger *slog.Logger
}

// NewScheduler creates the hourly scheduler in loc.
func NewScheduler(runner ExpiryRunner, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		logger: logger.With("component", "expiry_scheduler"),
	}
}

// Start registers the hourly job and starts the cron loop. ctx bounds
// the settlement polling spawned by each firing.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("0 * * * *", func() {
		s.logger.Info("hour boundary reached, running expiry")
		s.runner.RunExpiry(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule expiry job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
