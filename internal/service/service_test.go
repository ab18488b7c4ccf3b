package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"triggerd/internal/logger"
	"triggerd/internal/store"
	"triggerd/internal/timeparse"
	"triggerd/internal/trigger"
)

var frozenNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) *Service {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := New(store.NewWithClient(client), timeparse.New(nil), "UTC", &logger.NoOpLogger{})
	svc.SetClock(func() time.Time { return frozenNow })
	return svc
}

func validParams() CreateParams {
	return CreateParams{
		UserID:         "user-1",
		AgentName:      "digest-agent",
		Payload:        "summarize inbox",
		StartTimeText:  "2024-06-02T09:00:00Z",
		RecurrenceRule: "daily",
	}
}

func TestCreate_FutureOneTime(t *testing.T) {
	svc := setupService(t)

	p := validParams()
	p.RecurrenceRule = ""
	tr, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if tr.Status != trigger.StatusActive {
		t.Errorf("Expected active, got %s", tr.Status)
	}
	want := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	if tr.NextTrigger == nil || !tr.NextTrigger.Equal(want) {
		t.Errorf("Expected next %v, got %v", want, tr.NextTrigger)
	}
}

func TestCreate_PastOneTimeRejected(t *testing.T) {
	svc := setupService(t)

	p := validParams()
	p.RecurrenceRule = ""
	p.StartTimeText = "2024-05-01T09:00:00Z"
	if _, err := svc.Create(context.Background(), p); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error for past one-time start, got %v", err)
	}

	// The same instant with a recurrence rule is accepted; the dispatcher
	// fires it on the next poll
	p.RecurrenceRule = "hourly"
	if _, err := svc.Create(context.Background(), p); err != nil {
		t.Errorf("Past start with recurrence should succeed, got %v", err)
	}
}

func TestCreate_ValidationFailures(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"empty user", func(p *CreateParams) { p.UserID = " " }},
		{"empty agent", func(p *CreateParams) { p.AgentName = "" }},
		{"empty payload", func(p *CreateParams) { p.Payload = "" }},
		{"bad rule", func(p *CreateParams) { p.RecurrenceRule = "every banana hours" }},
		{"bad timezone", func(p *CreateParams) { p.Timezone = "Mars/Olympus" }},
		{"unresolvable start", func(p *CreateParams) { p.StartTimeText = "whenever" }},
		{"empty start", func(p *CreateParams) { p.StartTimeText = "" }},
	}

	for _, tc := range cases {
		p := validParams()
		tc.mutate(&p)
		if _, err := svc.Create(ctx, p); !trigger.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreate_DefaultTimezoneApplied(t *testing.T) {
	svc := setupService(t)

	tr, err := svc.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tr.Timezone != "UTC" {
		t.Errorf("Expected service default timezone, got %s", tr.Timezone)
	}
}

func TestCreate_BareClockResolvesInZone(t *testing.T) {
	svc := setupService(t)

	p := validParams()
	p.Timezone = "America/Chicago"
	p.StartTimeText = "09:00"
	tr, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	chicago, _ := time.LoadLocation("America/Chicago")
	local := tr.NextTrigger.In(chicago)
	if local.Hour() != 9 || local.Minute() != 0 {
		t.Errorf("Expected 09:00 Chicago time, got %v", local)
	}
	if !tr.NextTrigger.After(frozenNow) {
		t.Errorf("Bare clock should resolve to a future instant, got %v", tr.NextTrigger)
	}
}

func TestUpdate_StatusTransitions(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	originalNext := *tr.NextTrigger

	paused := trigger.StatusPaused
	got, err := svc.Update(ctx, tr.ID, UpdateParams{Status: &paused})
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got.Status != trigger.StatusPaused {
		t.Errorf("Expected paused, got %s", got.Status)
	}
	if got.NextTrigger == nil || !got.NextTrigger.Equal(originalNext) {
		t.Errorf("Pause must preserve next trigger, got %v", got.NextTrigger)
	}

	active := trigger.StatusActive
	got, err = svc.Update(ctx, tr.ID, UpdateParams{Status: &active})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got.Status != trigger.StatusActive {
		t.Errorf("Expected active, got %s", got.Status)
	}
	if got.NextTrigger == nil || !got.NextTrigger.Equal(originalNext) {
		t.Errorf("Resume must preserve next trigger, got %v", got.NextTrigger)
	}

	completed := trigger.StatusCompleted
	if _, err := svc.Update(ctx, tr.ID, UpdateParams{Status: &completed}); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error setting completed, got %v", err)
	}
}

func TestUpdate_RuleChangeRecomputesSchedule(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rule := "every 2 hours"
	got, err := svc.Update(ctx, tr.ID, UpdateParams{RecurrenceRule: &rule})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.RecurrenceRule != rule {
		t.Errorf("Expected rule %q, got %q", rule, got.RecurrenceRule)
	}
	want := frozenNow.Add(2 * time.Hour)
	if got.NextTrigger == nil || !got.NextTrigger.Equal(want) {
		t.Errorf("Expected recomputed next %v, got %v", want, got.NextTrigger)
	}
}

func TestUpdate_BadRuleRejected(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	bad := "every banana hours"
	if _, err := svc.Update(ctx, tr.ID, UpdateParams{RecurrenceRule: &bad}); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}

	// The stored trigger is untouched
	got, err := svc.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RecurrenceRule != "daily" {
		t.Errorf("Rule should be unchanged, got %q", got.RecurrenceRule)
	}
}

func TestUpdate_PayloadOnlyKeepsSchedule(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	originalNext := *tr.NextTrigger

	payload := "new instructions"
	got, err := svc.Update(ctx, tr.ID, UpdateParams{Payload: &payload})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Payload != payload {
		t.Errorf("Expected payload updated, got %q", got.Payload)
	}
	if got.NextTrigger == nil || !got.NextTrigger.Equal(originalNext) {
		t.Errorf("Payload update must not move the schedule, got %v", got.NextTrigger)
	}

	empty := "  "
	if _, err := svc.Update(ctx, tr.ID, UpdateParams{Payload: &empty}); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error for empty payload, got %v", err)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	svc := setupService(t)

	payload := "x"
	if _, err := svc.Update(context.Background(), "missing", UpdateParams{Payload: &payload}); !trigger.IsNotFound(err) {
		t.Errorf("Expected not-found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, tr.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := svc.Delete(ctx, tr.ID); !trigger.IsNotFound(err) {
		t.Errorf("Expected not-found on second delete, got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, validParams()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other := validParams()
	other.UserID = "user-2"
	if _, err := svc.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mine, err := svc.ListByUser(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("Expected 1 trigger for user-1, got %d", len(mine))
	}
}
