package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by the stores.
var (
	ErrNotFound     = errors.New("schedule not found")
	ErrInvalidState = errors.New("schedule is not in a valid state for this operation")
	// ErrConflict means a guarded update matched zero rows: the schedule's
	// status changed underneath us. Never swallowed silently, since losing
	// an outcome write would leave a schedule stuck in processing.
	ErrConflict = errors.New("schedule state changed concurrently")
)

// Repository handles database operations for schedules and attempt logs
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new schedule repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const scheduleColumns = `
	id, review_id, title, video_url, thumbnail_url, channel_name,
	summary, pros, cons, key_points, target_audience, cta, seo_keywords,
	affiliate_links, scheduled_for, display_timezone,
	target_type, target_id, target_name, message,
	status, retry_count, max_retries, next_retry_at, last_error,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID,
		&s.ReviewID,
		&s.Title,
		&s.VideoURL,
		&s.ThumbnailURL,
		&s.ChannelName,
		&s.Summary,
		&s.Pros,
		&s.Cons,
		&s.KeyPoints,
		&s.TargetAudience,
		&s.CTA,
		&s.SEOKeywords,
		&s.AffiliateLinks,
		&s.ScheduledFor,
		&s.DisplayTimezone,
		&s.TargetType,
		&s.TargetID,
		&s.TargetName,
		&s.Message,
		&s.Status,
		&s.RetryCount,
		&s.MaxRetries,
		&s.NextRetryAt,
		&s.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSchedule inserts a new schedule. Callers are expected to have run
// the upstream review-availability check; this core never creates
// schedules on its own.
func (r *Repository) CreateSchedule(ctx context.Context, s *Schedule) error {
	query := `
		INSERT INTO schedules (
			id, review_id, title, video_url, thumbnail_url, channel_name,
			summary, pros, cons, key_points, target_audience, cta, seo_keywords,
			affiliate_links, scheduled_for, display_timezone,
			target_type, target_id, target_name, message,
			status, retry_count, max_retries
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		s.ID,
		s.ReviewID,
		s.Title,
		s.VideoURL,
		s.ThumbnailURL,
		s.ChannelName,
		s.Summary,
		s.Pros,
		s.Cons,
		s.KeyPoints,
		s.TargetAudience,
		s.CTA,
		s.SEOKeywords,
		s.AffiliateLinks,
		s.ScheduledFor,
		s.DisplayTimezone,
		s.TargetType,
		s.TargetID,
		s.TargetName,
		s.Message,
		s.Status,
		s.RetryCount,
		s.MaxRetries,
	).Scan(&s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create schedule",
			zap.Error(err),
			zap.String("schedule_id", s.ID.String()),
		)
		return fmt.Errorf("insert schedule: %w", err)
	}

	r.logger.Info("schedule created",
		zap.String("schedule_id", s.ID.String()),
		zap.String("review_id", s.ReviewID.String()),
		zap.Time("scheduled_for", s.ScheduledFor),
	)

	return nil
}

// GetSchedule retrieves a schedule by ID
func (r *Repository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	s, err := scanSchedule(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("failed to get schedule",
			zap.Error(err),
			zap.String("schedule_id", id.String()),
		)
		return nil, fmt.Errorf("query schedule: %w", err)
	}

	return s, nil
}

// FindDue returns schedules eligible for dispatch at the given instant,
// earliest due first: pending schedules whose scheduled_for has passed,
// and retryable failures whose next_retry_at has passed.
func (r *Repository) FindDue(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE (status = 'pending' AND scheduled_for <= $1)
		   OR (status = 'failed_retryable' AND next_retry_at <= $1)
		ORDER BY CASE WHEN status = 'pending' THEN scheduled_for ELSE next_retry_at END ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return schedules, nil
}

// Claim atomically moves a schedule into processing, but only if its
// status still equals expectedStatus. This single compare-and-set is what
// keeps two overlapping batch runs from dispatching the same schedule.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, expectedStatus string) (bool, error) {
	query := `
		UPDATE schedules
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, id, expectedStatus)
	if err != nil {
		r.logger.Error("failed to claim schedule",
			zap.Error(err),
			zap.String("schedule_id", id.String()),
		)
		return false, fmt.Errorf("claim schedule: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ApplyOutcome writes the post-dispatch state of a claimed schedule.
// Guarded on status = processing so an outcome can never overwrite
// anything but the claim that produced it.
func (r *Repository) ApplyOutcome(ctx context.Context, id uuid.UUID, o Outcome) error {
	query := `
		UPDATE schedules
		SET status = $1, retry_count = $2, next_retry_at = $3, last_error = $4,
		    updated_at = NOW()
		WHERE id = $5 AND status = 'processing'
	`

	result, err := r.db.Pool().Exec(ctx, query, o.Status, o.RetryCount, o.NextRetryAt, o.LastError, id)
	if err != nil {
		r.logger.Error("failed to apply outcome",
			zap.Error(err),
			zap.String("schedule_id", id.String()),
			zap.String("status", o.Status),
		)
		return fmt.Errorf("apply outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}

	return nil
}

// Reschedule moves a pending schedule to a new dispatch time. Only valid
// while pending; returns ErrInvalidState once dispatching has begun.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) error {
	query := `
		UPDATE schedules
		SET scheduled_for = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, newTime, id)
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetSchedule(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: reschedule requires pending", ErrInvalidState)
	}

	r.logger.Info("schedule rescheduled",
		zap.String("schedule_id", id.String()),
		zap.Time("scheduled_for", newTime),
	)

	return nil
}

// Cancel moves a pending schedule to the terminal cancelled state.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE schedules
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetSchedule(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: cancel requires pending", ErrInvalidState)
	}

	r.logger.Info("schedule cancelled", zap.String("schedule_id", id.String()))

	return nil
}

// ReclaimStale returns schedules stuck in processing (claimed by a run
// that never recorded an outcome, e.g. a crash) to pending so a later
// batch can pick them up again.
func (r *Repository) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE schedules
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`

	result, err := r.db.Pool().Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale schedules: %w", err)
	}

	reclaimed := int(result.RowsAffected())
	if reclaimed > 0 {
		r.logger.Warn("reclaimed stale processing schedules",
			zap.Int("count", reclaimed),
			zap.Time("older_than", olderThan),
		)
	}

	return reclaimed, nil
}

// AppendAttempt records one dispatch attempt. Rows are append-only and
// never mutated afterwards.
func (r *Repository) AppendAttempt(ctx context.Context, a *AttemptLog) error {
	query := `
		INSERT INTO attempt_logs (
			id, schedule_id, payload, status_code, response, attempt
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		a.ID,
		a.ScheduleID,
		a.Payload,
		a.StatusCode,
		a.Response,
		a.Attempt,
	).Scan(&a.CreatedAt)

	if err != nil {
		r.logger.Error("failed to append attempt log",
			zap.Error(err),
			zap.String("schedule_id", a.ScheduleID.String()),
			zap.Int("attempt", a.Attempt),
		)
		return fmt.Errorf("insert attempt log: %w", err)
	}

	return nil
}

// ListAttempts retrieves the attempt history for a schedule, newest first
func (r *Repository) ListAttempts(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*AttemptLog, error) {
	query := `
		SELECT id, schedule_id, payload, status_code, response, attempt, created_at
		FROM attempt_logs
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempt logs: %w", err)
	}
	defer rows.Close()

	var attempts []*AttemptLog
	for rows.Next() {
		var a AttemptLog
		err := rows.Scan(
			&a.ID,
			&a.ScheduleID,
			&a.Payload,
			&a.StatusCode,
			&a.Response,
			&a.Attempt,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt log: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attempts, nil
}
