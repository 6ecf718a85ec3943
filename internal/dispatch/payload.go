package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lumora/postdispatch/internal/db"
)

// WebhookPayload is the outbound contract of the automation endpoint.
// Field names are the wire format; do not rename casually.
type WebhookPayload struct {
	ScheduleID           string    `json:"scheduleId"`
	ReviewID             string    `json:"reviewId"`
	TargetType           string    `json:"targetType"`
	TargetID             string    `json:"targetId"`
	TargetName           string    `json:"targetName"`
	Message              string    `json:"message"`
	Link                 string    `json:"link"`
	ImageURL             string    `json:"imageUrl"`
	VideoURL             string    `json:"videoUrl"`
	VideoTitle           string    `json:"videoTitle"`
	ChannelName          string    `json:"channelName"`
	AffiliateLinksText   string    `json:"affiliateLinksText"`
	ReviewSummary        string    `json:"reviewSummary"`
	ReviewPros           []string  `json:"reviewPros"`
	ReviewCons           []string  `json:"reviewCons"`
	ReviewKeyPoints      []string  `json:"reviewKeyPoints"`
	ReviewTargetAudience []string  `json:"reviewTargetAudience"`
	ReviewCta            string    `json:"reviewCta"`
	ReviewSeoKeywords    []string  `json:"reviewSeoKeywords"`
	ScheduledFor         time.Time `json:"scheduledFor"`
	TriggeredAt          time.Time `json:"triggeredAt"`
	RetryAttempt         int       `json:"retryAttempt"`
}

const (
	affiliateHeader      = "Where to buy:"
	affiliatePlaceholder = "Purchase links will be updated soon."
)

const (
	maxMessagePros     = 5
	maxMessageCons     = 3
	maxMessageHashtags = 10
)

// BuildPayload turns a schedule snapshot into the outbound payload.
// Deterministic for a fixed snapshot; only triggeredAt varies per call.
func BuildPayload(s *db.Schedule, triggeredAt time.Time) *WebhookPayload {
	message := s.Message
	if message == "" {
		message = BuildMessage(s)
	}

	return &WebhookPayload{
		ScheduleID:           s.ID.String(),
		ReviewID:             s.ReviewID.String(),
		TargetType:           s.TargetType,
		TargetID:             s.TargetID,
		TargetName:           s.TargetName,
		Message:              message,
		Link:                 s.VideoURL,
		ImageURL:             s.ThumbnailURL,
		VideoURL:             s.VideoURL,
		VideoTitle:           s.Title,
		ChannelName:          s.ChannelName,
		AffiliateLinksText:   FormatAffiliateLinks(s.AffiliateLinks),
		ReviewSummary:        s.Summary,
		ReviewPros:           s.Pros,
		ReviewCons:           s.Cons,
		ReviewKeyPoints:      s.KeyPoints,
		ReviewTargetAudience: s.TargetAudience,
		ReviewCta:            s.CTA,
		ReviewSeoKeywords:    s.SEOKeywords,
		ScheduledFor:         s.ScheduledFor,
		TriggeredAt:          triggeredAt,
		RetryAttempt:         s.RetryCount,
	}
}

// FormatAffiliateLinks renders the affiliate block from raw jsonb. The
// value is either a structured list, an already-rendered free-form string
// (passed through unchanged), or anything else, which degrades to the
// placeholder. Never fails.
func FormatAffiliateLinks(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return affiliatePlaceholder
	}

	var links []db.AffiliateLink
	if err := json.Unmarshal(raw, &links); err == nil {
		if len(links) == 0 {
			return affiliatePlaceholder
		}
		var b strings.Builder
		b.WriteString(affiliateHeader)
		for _, l := range links {
			if l.Price != "" {
				fmt.Fprintf(&b, "\n- %s %s - %s", l.Platform, l.URL, l.Price)
			} else {
				fmt.Fprintf(&b, "\n- %s %s", l.Platform, l.URL)
			}
		}
		return b.String()
	}

	var freeform string
	if err := json.Unmarshal(raw, &freeform); err == nil && strings.TrimSpace(freeform) != "" {
		return freeform
	}

	return affiliatePlaceholder
}

var hashtagStrip = regexp.MustCompile(`\W`)

// BuildMessage assembles the post text from the review snapshot when no
// pre-rendered message exists. Section order is fixed; empty sections are
// omitted entirely rather than emitted blank.
func BuildMessage(s *db.Schedule) string {
	var sections []string

	if s.Title != "" {
		sections = append(sections, s.Title)
	}

	if s.Summary != "" {
		sections = append(sections, s.Summary)
	}

	if len(s.Pros) > 0 {
		sections = append(sections, bulletSection("Pros:", top(s.Pros, maxMessagePros)))
	}

	if len(s.Cons) > 0 {
		sections = append(sections, bulletSection("Cons:", top(s.Cons, maxMessageCons)))
	}

	if len(s.TargetAudience) > 0 {
		sections = append(sections, "Who it's for: "+strings.Join(s.TargetAudience, ", "))
	}

	if s.VideoURL != "" {
		sections = append(sections, "Watch the full review: "+s.VideoURL)
	}

	if s.ChannelName != "" {
		sections = append(sections, "Video by "+s.ChannelName+". All rights belong to the original creator.")
	}

	if tags := hashtags(s.SEOKeywords, maxMessageHashtags); len(tags) > 0 {
		sections = append(sections, strings.Join(tags, " "))
	}

	return strings.Join(sections, "\n\n")
}

func bulletSection(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
	return b.String()
}

func top(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func hashtags(keywords []string, n int) []string {
	var tags []string
	for _, kw := range keywords {
		if len(tags) == n {
			break
		}
		tag := hashtagStrip.ReplaceAllString(kw, "")
		if tag == "" {
			continue
		}
		tags = append(tags, "#"+tag)
	}
	return tags
}
