package dispatch

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumora/postdispatch/internal/db"
)

func sampleSchedule() *db.Schedule {
	return &db.Schedule{
		ID:              uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ReviewID:        uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Title:           "Sony WH-1000XM5 Review",
		VideoURL:        "https://youtube.com/watch?v=abc123",
		ThumbnailURL:    "https://img.youtube.com/vi/abc123/hq.jpg",
		ChannelName:     "TechReviews",
		Summary:         "Great noise cancelling, average battery.",
		Pros:            []string{"noise cancelling", "comfort"},
		Cons:            []string{"price"},
		TargetAudience:  []string{"commuters", "frequent flyers"},
		SEOKeywords:     []string{"sony wh1000xm5", "headphones"},
		ScheduledFor:    time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		DisplayTimezone: "Asia/Ho_Chi_Minh",
		TargetType:      "page",
		TargetID:        "pg-42",
		TargetName:      "Gadget Corner",
		Status:          db.StatusPending,
		MaxRetries:      3,
	}
}

func TestBuildPayloadDeterministic(t *testing.T) {
	s := sampleSchedule()
	triggered := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	p1 := BuildPayload(s, triggered)
	p2 := BuildPayload(s, triggered)

	if !reflect.DeepEqual(p1, p2) {
		t.Error("expected identical payloads for the same snapshot and trigger time")
	}
}

func TestBuildPayloadFieldMapping(t *testing.T) {
	s := sampleSchedule()
	s.RetryCount = 2
	triggered := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	p := BuildPayload(s, triggered)

	if p.ScheduleID != s.ID.String() {
		t.Errorf("expected scheduleId %s, got %s", s.ID, p.ScheduleID)
	}
	if p.Link != s.VideoURL || p.VideoURL != s.VideoURL {
		t.Error("expected link and videoUrl to both carry the video URL")
	}
	if p.ImageURL != s.ThumbnailURL {
		t.Errorf("expected imageUrl %s, got %s", s.ThumbnailURL, p.ImageURL)
	}
	if p.RetryAttempt != 2 {
		t.Errorf("expected retryAttempt 2, got %d", p.RetryAttempt)
	}
	if !p.TriggeredAt.Equal(triggered) {
		t.Errorf("expected triggeredAt %v, got %v", triggered, p.TriggeredAt)
	}
}

func TestBuildPayloadWireFormat(t *testing.T) {
	p := BuildPayload(sampleSchedule(), time.Now().UTC())

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	for _, key := range []string{
		`"scheduleId"`, `"reviewId"`, `"targetType"`, `"targetName"`,
		`"imageUrl"`, `"affiliateLinksText"`, `"scheduledFor"`, `"retryAttempt"`,
	} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected wire key %s in payload JSON", key)
		}
	}
}

func TestBuildPayloadPrefersStoredMessage(t *testing.T) {
	s := sampleSchedule()
	s.Message = "hand-written post text"

	p := BuildPayload(s, time.Now().UTC())

	if p.Message != "hand-written post text" {
		t.Errorf("expected stored message to win, got %q", p.Message)
	}
}

func TestFormatAffiliateLinks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty",
			raw:  "",
			want: affiliatePlaceholder,
		},
		{
			name: "json null",
			raw:  "null",
			want: affiliatePlaceholder,
		},
		{
			name: "empty list",
			raw:  "[]",
			want: affiliatePlaceholder,
		},
		{
			name: "single link with price",
			raw:  `[{"platform":"Shopee","url":"https://shopee.vn/x","price":"100k"}]`,
			want: "Where to buy:\n- Shopee https://shopee.vn/x - 100k",
		},
		{
			name: "link without price",
			raw:  `[{"platform":"Lazada","url":"https://lazada.vn/y"}]`,
			want: "Where to buy:\n- Lazada https://lazada.vn/y",
		},
		{
			name: "freeform string passes through",
			raw:  `"Buy here: https://example.com"`,
			want: "Buy here: https://example.com",
		},
		{
			name: "malformed degrades to placeholder",
			raw:  `{"not":"a list"}`,
			want: affiliatePlaceholder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAffiliateLinks(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildMessageSectionOrder(t *testing.T) {
	s := sampleSchedule()

	msg := BuildMessage(s)

	order := []string{
		"Sony WH-1000XM5 Review",
		"Great noise cancelling",
		"Pros:",
		"Cons:",
		"Who it's for: commuters, frequent flyers",
		"Watch the full review: https://youtube.com/watch?v=abc123",
		"Video by TechReviews. All rights belong to the original creator.",
		"#sonywh1000xm5 #headphones",
	}

	last := -1
	for _, part := range order {
		idx := strings.Index(msg, part)
		if idx < 0 {
			t.Fatalf("expected message to contain %q\n%s", part, msg)
		}
		if idx < last {
			t.Errorf("section %q out of order", part)
		}
		last = idx
	}
}

func TestBuildMessageOmitsEmptySections(t *testing.T) {
	s := &db.Schedule{
		Title:    "Bare Title",
		VideoURL: "https://youtube.com/watch?v=z",
	}

	msg := BuildMessage(s)

	if strings.Contains(msg, "Pros:") || strings.Contains(msg, "Cons:") {
		t.Error("expected empty list sections to be omitted")
	}
	if strings.Contains(msg, "Who it's for") {
		t.Error("expected empty audience section to be omitted")
	}
	if strings.Contains(msg, "\n\n\n") {
		t.Error("expected no blank sections in output")
	}
}

func TestBuildMessageCapsLists(t *testing.T) {
	s := sampleSchedule()
	s.Pros = []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	s.Cons = []string{"c1", "c2", "c3", "c4"}

	msg := BuildMessage(s)

	if strings.Contains(msg, "p6") || strings.Contains(msg, "p7") {
		t.Error("expected pros capped at 5")
	}
	if strings.Contains(msg, "- c4") {
		t.Error("expected cons capped at 3")
	}
}

func TestHashtagSanitizing(t *testing.T) {
	tags := hashtags([]string{"sony wh-1000xm5", "noise cancelling!", "   ", "ok"}, 10)

	want := []string{"#sonywh1000xm5", "#noisecancelling", "#ok"}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("expected %v, got %v", want, tags)
	}
}
