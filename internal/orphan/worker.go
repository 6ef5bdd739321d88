package orphan

import (
	"context"
	"time"

	"groupcore.org/internal/obs"
)

const defaultInterval = 30 * time.Second

// Worker consumes the strategy's backlog on a fixed interval until the
// context ends. Processing errors are logged and retried on the next tick;
// the loop itself never dies on them.
type Worker struct {
	strategy Strategy
	interval time.Duration
}

// NewWorker constructs a Worker.
func NewWorker(strategy Strategy, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{strategy: strategy, interval: interval}
}

// Run blocks until ctx is done, draining the queue on teardown.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if dropped := w.strategy.Drain(); len(dropped) > 0 {
				obs.LogRequest(map[string]any{
					"level":   "warn",
					"msg":     "orphan queue drained on shutdown",
					"dropped": len(dropped),
				})
			}
			return nil
		case <-ticker.C:
			if err := w.strategy.Process(ctx); err != nil {
				obs.LogRequest(map[string]any{
					"level": "error",
					"msg":   "orphan processing failed",
					"error": err.Error(),
				})
			}
		}
	}
}
