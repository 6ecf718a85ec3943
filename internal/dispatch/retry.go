package dispatch

import (
	"time"

	"github.com/lumora/postdispatch/internal/db"
)

// RetryPolicy owns the schedule status state machine and the backoff
// curve. Exponential with a ceiling so retries against a degraded
// endpoint spread out instead of storming it.
type RetryPolicy struct {
	Base       time.Duration // delay before the first retry
	Cap        time.Duration // maximum delay between retries
	MaxRetries int           // fallback when a schedule carries no budget
}

// DefaultRetryPolicy matches the production configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       5 * time.Minute,
		Cap:        60 * time.Minute,
		MaxRetries: 3,
	}
}

// Backoff returns the delay before retry attempt n (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}

	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Outcome maps a delivery result onto the next schedule state.
//
//	processing -> posted            on success (terminal)
//	processing -> failed_retryable  on failure with retries left
//	processing -> failed_terminal   on failure at the retry budget (terminal)
//
// retry_count never exceeds max_retries.
func (p RetryPolicy) Outcome(s *db.Schedule, res Result, now time.Time) db.Outcome {
	if res.Success {
		return db.Outcome{
			Status:     db.StatusPosted,
			RetryCount: s.RetryCount,
		}
	}

	errText := res.Response
	newCount := s.RetryCount + 1

	maxRetries := s.MaxRetries
	if maxRetries == 0 {
		maxRetries = p.MaxRetries
	}

	if newCount >= maxRetries {
		return db.Outcome{
			Status:     db.StatusFailedTerminal,
			RetryCount: newCount,
			LastError:  &errText,
		}
	}

	nextRetry := now.Add(p.Backoff(newCount))
	return db.Outcome{
		Status:      db.StatusFailedRetryable,
		RetryCount:  newCount,
		NextRetryAt: &nextRetry,
		LastError:   &errText,
	}
}
