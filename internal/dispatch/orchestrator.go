package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumora/postdispatch/internal/clock"
	"github.com/lumora/postdispatch/internal/db"
	"github.com/lumora/postdispatch/internal/metrics"
)

// ScheduleStore is the subset of the schedule repository the batch
// pipeline needs. All cross-invocation coordination happens here; the
// orchestrator itself keeps no state between runs.
type ScheduleStore interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]*db.Schedule, error)
	Claim(ctx context.Context, id uuid.UUID, expectedStatus string) (bool, error)
	ApplyOutcome(ctx context.Context, id uuid.UUID, o db.Outcome) error
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Alerter is notified when a schedule exhausts its retry budget.
type Alerter interface {
	TerminalFailure(ctx context.Context, s *db.Schedule, lastError string) error
}

// ItemResult is the per-schedule entry of a batch summary.
type ItemResult struct {
	ScheduleID string `json:"schedule_id"`
	Status     string `json:"status"` // posted, failed_retryable, failed_terminal, skipped, error
	Error      string `json:"error,omitempty"`
}

// Summary is the aggregate result of one batch invocation.
type Summary struct {
	Processed int           `json:"processed"` // claimed and driven to an outcome
	Posted    int           `json:"posted"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"` // lost the claim to a concurrent run
	Reclaimed int           `json:"reclaimed,omitempty"`
	Items     []ItemResult  `json:"items"`
	Duration  time.Duration `json:"duration"`
}

// Config tunes one batch run.
type Config struct {
	BatchLimit int
	// StaleAfter > 0 enables reclaiming schedules stuck in processing by
	// a run that died before recording an outcome.
	StaleAfter time.Duration
}

// Orchestrator drives one batch: select due schedules, claim each one,
// build the payload, dispatch, and apply the outcome. A failure on one
// item never aborts the rest of the batch.
type Orchestrator struct {
	store      ScheduleStore
	dispatcher Dispatcher
	policy     RetryPolicy
	clk        clock.Clock
	alerter    Alerter // nil disables terminal-failure alerts
	config     Config
	logger     *zap.Logger
}

func NewOrchestrator(store ScheduleStore, dispatcher Dispatcher, policy RetryPolicy, clk clock.Clock, alerter Alerter, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = 20
	}

	return &Orchestrator{
		store:      store,
		dispatcher: dispatcher,
		policy:     policy,
		clk:        clk,
		alerter:    alerter,
		config:     cfg,
		logger:     logger,
	}
}

// Run executes one batch. It returns an error only when the batch could
// not start at all (due-selection failed); item-level failures are
// reported inside the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	now := o.clk.Now()
	summary := &Summary{Items: []ItemResult{}}

	if o.config.StaleAfter > 0 {
		reclaimed, err := o.store.ReclaimStale(ctx, now.Add(-o.config.StaleAfter))
		if err != nil {
			// Reclaim is best effort; the batch itself can still run.
			o.logger.Error("stale reclaim failed", zap.Error(err))
		}
		summary.Reclaimed = reclaimed
	}

	due, err := o.store.FindDue(ctx, now, o.config.BatchLimit)
	if err != nil {
		return nil, err
	}

	o.logger.Info("batch started",
		zap.Int("due", len(due)),
		zap.Time("now", now),
	)

	for _, s := range due {
		item := o.processOne(ctx, s)
		summary.Items = append(summary.Items, item)

		switch item.Status {
		case "skipped":
			summary.Skipped++
			continue
		case db.StatusPosted:
			summary.Posted++
		default:
			summary.Failed++
		}
		summary.Processed++
		metrics.RecordScheduleProcessed(item.Status)
	}

	summary.Duration = time.Since(start)
	metrics.RecordBatch(summary.Duration)

	o.logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("posted", summary.Posted),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// processOne drives a single schedule from claim to outcome. Once the
// claim succeeds the item always reaches a terminal-for-this-attempt
// state; there is no mid-item cancellation.
func (o *Orchestrator) processOne(ctx context.Context, s *db.Schedule) ItemResult {
	item := ItemResult{ScheduleID: s.ID.String()}

	claimed, err := o.store.Claim(ctx, s.ID, s.Status)
	if err != nil {
		item.Status = "error"
		item.Error = err.Error()
		return item
	}
	if !claimed {
		// Another concurrent run got there first. Not a failure.
		metrics.RecordClaimConflict()
		o.logger.Debug("claim lost to concurrent run",
			zap.String("schedule_id", s.ID.String()),
		)
		item.Status = "skipped"
		return item
	}

	payload := BuildPayload(s, o.clk.Now())
	res := o.dispatcher.Deliver(ctx, s, payload)
	outcome := o.policy.Outcome(s, res, o.clk.Now())

	if err := o.store.ApplyOutcome(ctx, s.ID, outcome); err != nil {
		// The dispatch happened but the bookkeeping did not. Surface it;
		// the stale reclaim pass will eventually free the schedule.
		o.logger.Error("failed to apply outcome",
			zap.Error(err),
			zap.String("schedule_id", s.ID.String()),
			zap.String("outcome", outcome.Status),
		)
		item.Status = "error"
		item.Error = err.Error()
		return item
	}

	item.Status = outcome.Status
	if outcome.LastError != nil {
		item.Error = *outcome.LastError
	}
	if res.AuditErr != nil {
		o.logger.Warn("attempt audit incomplete",
			zap.Error(res.AuditErr),
			zap.String("schedule_id", s.ID.String()),
		)
	}

	if outcome.Status == db.StatusFailedTerminal {
		o.logger.Error("schedule exhausted retries",
			zap.String("schedule_id", s.ID.String()),
			zap.Int("retry_count", outcome.RetryCount),
		)
		if o.alerter != nil {
			lastErr := ""
			if outcome.LastError != nil {
				lastErr = *outcome.LastError
			}
			if err := o.alerter.TerminalFailure(ctx, s, lastErr); err != nil {
				o.logger.Error("failed to publish terminal failure alert",
					zap.Error(err),
					zap.String("schedule_id", s.ID.String()),
				)
			}
		}
	}

	return item
}
