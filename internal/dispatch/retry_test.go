package dispatch

import (
	"testing"
	"time"

	"github.com/lumora/postdispatch/internal/db"
)

func TestBackoffCurve(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Minute, Cap: 60 * time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 40 * time.Minute},
		{5, 60 * time.Minute},
		{10, 60 * time.Minute},
		{0, 5 * time.Minute}, // clamped to the first attempt
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d): expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestOutcomeSuccess(t *testing.T) {
	p := DefaultRetryPolicy()
	s := sampleSchedule()
	s.Status = db.StatusProcessing
	s.RetryCount = 1

	o := p.Outcome(s, Result{Success: true}, time.Now().UTC())

	if o.Status != db.StatusPosted {
		t.Errorf("expected posted, got %s", o.Status)
	}
	if o.RetryCount != 1 {
		t.Errorf("expected retry count unchanged at 1, got %d", o.RetryCount)
	}
	if o.NextRetryAt != nil {
		t.Error("expected no next retry on success")
	}
}

func TestOutcomeFirstFailureSchedulesRetry(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Minute, Cap: 60 * time.Minute}
	s := sampleSchedule()
	s.Status = db.StatusProcessing
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	o := p.Outcome(s, Result{Response: "502 bad gateway"}, now)

	if o.Status != db.StatusFailedRetryable {
		t.Errorf("expected failed_retryable, got %s", o.Status)
	}
	if o.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", o.RetryCount)
	}
	if o.NextRetryAt == nil {
		t.Fatal("expected next retry time")
	}
	if want := now.Add(5 * time.Minute); !o.NextRetryAt.Equal(want) {
		t.Errorf("expected next retry at %v, got %v", want, *o.NextRetryAt)
	}
	if o.LastError == nil || *o.LastError != "502 bad gateway" {
		t.Error("expected last error to carry the response text")
	}
}

func TestOutcomeSecondRetryDoublesBackoff(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Minute, Cap: 60 * time.Minute}
	s := sampleSchedule()
	s.Status = db.StatusProcessing
	s.RetryCount = 1
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	o := p.Outcome(s, Result{Response: "timeout"}, now)

	if o.Status != db.StatusFailedRetryable {
		t.Errorf("expected failed_retryable, got %s", o.Status)
	}
	if want := now.Add(10 * time.Minute); !o.NextRetryAt.Equal(want) {
		t.Errorf("expected next retry at %v, got %v", want, *o.NextRetryAt)
	}
}

func TestOutcomeExhaustsRetryBudget(t *testing.T) {
	p := DefaultRetryPolicy()
	s := sampleSchedule()
	s.Status = db.StatusProcessing
	s.RetryCount = 2
	s.MaxRetries = 3

	o := p.Outcome(s, Result{Response: "500 internal"}, time.Now().UTC())

	if o.Status != db.StatusFailedTerminal {
		t.Errorf("expected failed_terminal on third failure, got %s", o.Status)
	}
	if o.RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", o.RetryCount)
	}
	if o.RetryCount > s.MaxRetries {
		t.Error("retry count must not exceed max retries")
	}
	if o.NextRetryAt != nil {
		t.Error("expected no next retry after terminal failure")
	}
}

func TestOutcomeNeverExceedsMaxRetries(t *testing.T) {
	p := DefaultRetryPolicy()
	s := sampleSchedule()
	s.Status = db.StatusProcessing
	s.MaxRetries = 3

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		o := p.Outcome(s, Result{Response: "down"}, now)
		s.RetryCount = o.RetryCount
		s.Status = o.Status
		if s.RetryCount > s.MaxRetries {
			t.Fatalf("retry count %d exceeded max %d", s.RetryCount, s.MaxRetries)
		}
	}

	if s.Status != db.StatusFailedTerminal {
		t.Errorf("expected terminal after exhausting budget, got %s", s.Status)
	}
}
