package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTerminalFailureAlert_Marshal(t *testing.T) {
	alert := TerminalFailureAlert{
		ScheduleID: uuid.New().String(),
		ReviewID:   uuid.New().String(),
		Title:      "Robot Vacuum X200 Review",
		TargetName: "Smart Home Deals",
		RetryCount: 3,
		LastError:  "webhook returned non-2xx status: 503",
		FailedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("failed to marshal alert: %v", err)
	}

	var decoded TerminalFailureAlert
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal alert: %v", err)
	}

	if decoded.ScheduleID != alert.ScheduleID {
		t.Errorf("ScheduleID mismatch: got %s, want %s", decoded.ScheduleID, alert.ScheduleID)
	}
	if decoded.RetryCount != 3 {
		t.Errorf("RetryCount mismatch: got %d, want 3", decoded.RetryCount)
	}
	if decoded.LastError != alert.LastError {
		t.Errorf("LastError mismatch: got %s, want %s", decoded.LastError, alert.LastError)
	}
}
