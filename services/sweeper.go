package services

import (
	"context"
	"time"

	"pharma-docs-platform/internal/logger"
)

// IdleSweeper periodically evicts idle sessions. It runs on its own ticker
// and stops when its context is cancelled, so shutdown is deterministic.
type IdleSweeper struct {
	manager       *SessionManager
	interval      time.Duration
	idleThreshold time.Duration
}

func NewIdleSweeper(manager *SessionManager, interval, idleThreshold time.Duration) *IdleSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if idleThreshold <= 0 {
		idleThreshold = time.Hour
	}
	return &IdleSweeper{
		manager:       manager,
		interval:      interval,
		idleThreshold: idleThreshold,
	}
}

// Run blocks until ctx is cancelled. Each tick evicts sessions idle beyond
// the threshold; evicting never blocks live traffic because the sweep holds
// the catalog lock only while enumerating.
func (w *IdleSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info("Idle session sweeper started",
		"interval", w.interval.String(), "idle_threshold", w.idleThreshold.String())

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			w.manager.CleanupIdle(sweepCtx, w.idleThreshold)
			cancel()

		case <-ctx.Done():
			logger.Info("Idle session sweeper stopped")
			return
		}
	}
}
