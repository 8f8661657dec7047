// Package lifecycle moves appointments through time-driven states.
package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	CompleteElapsed(ctx context.Context, now time.Time) ([]string, error)
}

// Completer marks confirmed appointments that have ended as completed.
type Completer struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

func NewCompleter(store Store, logger *slog.Logger, interval time.Duration, now func() time.Time) *Completer {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Completer{store: store, logger: logger, interval: interval, now: now}
}

func (c *Completer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("completion sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce completes every elapsed appointment and returns how many changed.
func (c *Completer) SweepOnce(ctx context.Context) (int, error) {
	ids, err := c.store.CompleteElapsed(ctx, c.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		c.logger.Info("appointments completed", "count", len(ids))
	}
	return len(ids), nil
}
