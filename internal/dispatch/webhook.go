package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumora/postdispatch/internal/circuitbreaker"
	"github.com/lumora/postdispatch/internal/db"
	"github.com/lumora/postdispatch/internal/metrics"
)

// Result classifies one delivery attempt.
type Result struct {
	Success    bool
	StatusCode *int   // nil when no HTTP response was received
	Response   string // response body preview or error text
	AuditErr   error  // attempt log write failure; the classification above still stands
}

// Dispatcher performs one bounded outbound delivery and classifies it.
type Dispatcher interface {
	Deliver(ctx context.Context, s *db.Schedule, payload *WebhookPayload) Result
}

// AttemptStore is the append-only audit sink for dispatch attempts.
type AttemptStore interface {
	AppendAttempt(ctx context.Context, a *db.AttemptLog) error
}

// WebhookDispatcher delivers payloads to the single configured automation
// endpoint. Any 2xx response is success; non-2xx, timeout, and transport
// errors are failures. Exactly one attempt log row is written per call,
// before the result is returned, so a crash after dispatch never loses
// the audit trail for that attempt.
type WebhookDispatcher struct {
	url      string
	client   *http.Client
	attempts AttemptStore
	breaker  *circuitbreaker.CircuitBreaker // nil disables fail-fast
	logger   *zap.Logger
	timeout  time.Duration
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration // per-item delivery timeout
}

// NewWebhookDispatcher creates a dispatcher for the automation endpoint.
func NewWebhookDispatcher(cfg WebhookConfig, attempts AttemptStore, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookDispatcher{
		url:      cfg.URL,
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		breaker:  breaker,
		logger:   logger,
		timeout:  timeout,
	}
}

// Deliver sends the payload and records the attempt.
func (d *WebhookDispatcher) Deliver(ctx context.Context, s *db.Schedule, payload *WebhookPayload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		// Unreachable for a well-formed payload struct, but classify as a
		// plain failure rather than panicking mid-batch.
		res := Result{Response: fmt.Sprintf("marshal payload: %v", err)}
		res.AuditErr = d.recordAttempt(ctx, s, body, res)
		return res
	}

	res := d.send(ctx, s, body)
	res.AuditErr = d.recordAttempt(ctx, s, body, res)
	return res
}

func (d *WebhookDispatcher) send(ctx context.Context, s *db.Schedule, body []byte) Result {
	if d.breaker != nil && !d.breaker.Allow() {
		d.logger.Warn("delivery rejected by circuit breaker",
			zap.String("schedule_id", s.ID.String()),
			zap.String("state", d.breaker.GetState().String()),
		)
		return Result{Response: circuitbreaker.ErrCircuitOpen.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Result{Response: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "postdispatch/1.0")
	req.Header.Set("X-Schedule-ID", s.ID.String())

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.RecordWebhookLatency(time.Since(start))

	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure()
		}
		return Result{Response: fmt.Sprintf("webhook request failed: %v", err)}
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	code := resp.StatusCode

	if code < 200 || code >= 300 {
		if d.breaker != nil {
			d.breaker.RecordFailure()
		}
		d.logger.Warn("webhook returned non-2xx status",
			zap.String("schedule_id", s.ID.String()),
			zap.Int("status_code", code),
			zap.String("response_preview", string(preview)),
		)
		return Result{StatusCode: &code, Response: string(preview)}
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}

	d.logger.Info("webhook delivered",
		zap.String("schedule_id", s.ID.String()),
		zap.Int("status_code", code),
	)

	return Result{Success: true, StatusCode: &code, Response: string(preview)}
}

// recordAttempt appends the audit row. A write failure does not change
// the delivery classification: flipping a delivered post to failed here
// would cause a duplicate external post on retry.
func (d *WebhookDispatcher) recordAttempt(ctx context.Context, s *db.Schedule, body []byte, res Result) error {
	attempt := &db.AttemptLog{
		ID:         uuid.New(),
		ScheduleID: s.ID,
		Payload:    body,
		StatusCode: res.StatusCode,
		Response:   res.Response,
		Attempt:    s.RetryCount,
	}

	if err := d.attempts.AppendAttempt(ctx, attempt); err != nil {
		d.logger.Error("failed to record dispatch attempt",
			zap.Error(err),
			zap.String("schedule_id", s.ID.String()),
			zap.Int("attempt", s.RetryCount),
		)
		return err
	}

	return nil
}
