package trigger

import (
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	start := time.Now().Add(time.Hour)
	tr := New("user-1", "agent", "payload", start, "daily", "")

	if tr.ID == "" {
		t.Error("Expected a generated ID")
	}
	if tr.Status != StatusActive {
		t.Errorf("Expected active, got %s", tr.Status)
	}
	if tr.Timezone != DefaultTimezone {
		t.Errorf("Expected default timezone %s, got %s", DefaultTimezone, tr.Timezone)
	}
	if tr.NextTrigger == nil || !tr.NextTrigger.Equal(start) {
		t.Errorf("Expected next trigger %v, got %v", start, tr.NextTrigger)
	}
	if tr.Metadata.ExecutionCount != 0 {
		t.Errorf("Expected zero executions, got %d", tr.Metadata.ExecutionCount)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"active", "Paused", " COMPLETED "} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) failed: %v", s, err)
		}
	}

	for _, s := range []string{"", "running", "done"} {
		if _, err := ParseStatus(s); !IsValidation(err) {
			t.Errorf("ParseStatus(%q) should return a validation error", s)
		}
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	tr := New("user-1", "agent", "payload", now.Add(-time.Minute), "", "UTC")

	if !tr.Due(now) {
		t.Error("Trigger with past next should be due")
	}

	tr.NextTrigger = nil
	if tr.Due(now) {
		t.Error("Trigger without next must not be due")
	}

	future := now.Add(time.Hour)
	tr.NextTrigger = &future
	if tr.Due(now) {
		t.Error("Trigger with future next must not be due")
	}

	past := now.Add(-time.Minute)
	tr.NextTrigger = &past
	tr.Status = StatusPaused
	if tr.Due(now) {
		t.Error("Paused trigger must not be due")
	}
}

func TestLocation_InvalidZone(t *testing.T) {
	tr := New("user-1", "agent", "payload", time.Now(), "", "UTC")
	tr.Timezone = "Not/A_Zone"

	if _, err := tr.Location(); err == nil {
		t.Error("Expected error for unknown timezone")
	}
}

func TestPayloadPreview(t *testing.T) {
	tr := New("user-1", "agent", strings.Repeat("x", 100), time.Now(), "", "UTC")

	preview := tr.PayloadPreview(80)
	if len(preview) != 80 {
		t.Errorf("Expected 80 chars, got %d", len(preview))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Error("Truncated preview should end with ellipsis")
	}

	tr.Payload = "short"
	if got := tr.PayloadPreview(80); got != "short" {
		t.Errorf("Short payload should pass through, got %q", got)
	}
}
