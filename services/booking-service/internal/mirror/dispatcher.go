package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InlineDispatcher runs mirror work on goroutines in this process. It is used
// when no task queue is configured; failed work is picked up by the next
// reconciliation pass.
type InlineDispatcher struct {
	mirrorer *Mirrorer
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewInlineDispatcher(m *Mirrorer, logger *slog.Logger, timeout time.Duration) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InlineDispatcher{mirrorer: m, logger: logger, timeout: timeout}
}

func (d *InlineDispatcher) Mirror(ctx context.Context, appointmentID string) error {
	d.run(ctx, func(ctx context.Context) error { return d.mirrorer.Mirror(ctx, appointmentID) },
		"appointment_id", appointmentID)
	return nil
}

func (d *InlineDispatcher) Unmirror(ctx context.Context, eventID string) error {
	d.run(ctx, func(ctx context.Context) error { return d.mirrorer.Unmirror(ctx, eventID) },
		"event_id", eventID)
	return nil
}

// Wait blocks until all in-flight work has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

func (d *InlineDispatcher) run(parent context.Context, fn func(context.Context) error, attrs ...any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("inline mirror task failed", append(attrs, "err", err)...)
		}
	}()
}
