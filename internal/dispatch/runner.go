package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner fires the orchestrator on a fixed interval. A manual HTTP
// trigger racing the ticker is safe: the store-level claim is the only
// thing that moves a schedule into processing.
type Runner struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *zap.Logger
}

func NewRunner(orchestrator *Orchestrator, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger,
	}
}

// Start blocks until ctx is cancelled. An in-flight batch is not
// interrupted mid-item; cancellation takes effect between ticks.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("dispatch runner started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("dispatch runner stopping")
			return
		case <-ticker.C:
			if _, err := r.orchestrator.Run(ctx); err != nil {
				r.logger.Error("scheduled batch failed to start", zap.Error(err))
			}
		}
	}
}
