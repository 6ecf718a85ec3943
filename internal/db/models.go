package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schedule is one scheduled post. The review fields are an immutable
// snapshot captured when the schedule was created; later edits to the
// source review do not change what gets posted.
type Schedule struct {
	ID       uuid.UUID `json:"id"`
	ReviewID uuid.UUID `json:"review_id"`

	// Review snapshot
	Title          string          `json:"title"`
	VideoURL       string          `json:"video_url"`
	ThumbnailURL   string          `json:"thumbnail_url"`
	ChannelName    string          `json:"channel_name"`
	Summary        string          `json:"summary"`
	Pros           []string        `json:"pros"`
	Cons           []string        `json:"cons"`
	KeyPoints      []string        `json:"key_points"`
	TargetAudience []string        `json:"target_audience"`
	CTA            string          `json:"cta"`
	SEOKeywords    []string        `json:"seo_keywords"`
	AffiliateLinks json.RawMessage `json:"affiliate_links,omitempty"`

	// Scheduling
	ScheduledFor    time.Time `json:"scheduled_for"` // canonical UTC
	DisplayTimezone string    `json:"display_timezone"`

	// Delivery target
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`

	// Pre-rendered post text; assembled from the snapshot when empty.
	Message string `json:"message,omitempty"`

	// State
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status constants
const (
	StatusPending         = "pending"
	StatusProcessing      = "processing"
	StatusPosted          = "posted"
	StatusFailedRetryable = "failed_retryable"
	StatusFailedTerminal  = "failed_terminal"
	StatusCancelled       = "cancelled"
)

// Terminal reports whether no further automatic transition applies.
func Terminal(status string) bool {
	switch status {
	case StatusPosted, StatusFailedTerminal, StatusCancelled:
		return true
	}
	return false
}

// AffiliateLink is one entry of a structured affiliate link list.
type AffiliateLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Price    string `json:"price,omitempty"`
}

// Outcome is the post-dispatch state written back to a claimed schedule.
type Outcome struct {
	Status      string
	RetryCount  int
	NextRetryAt *time.Time
	LastError   *string
}

// AttemptLog is one row per dispatch attempt, append-only.
type AttemptLog struct {
	ID         uuid.UUID       `json:"id"`
	ScheduleID uuid.UUID       `json:"schedule_id"`
	Payload    json.RawMessage `json:"payload"`
	StatusCode *int            `json:"status_code,omitempty"`
	Response   string          `json:"response"`
	Attempt    int             `json:"attempt"`
	CreatedAt  time.Time       `json:"created_at"`
}
