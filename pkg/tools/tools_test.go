package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"triggerd/internal/logger"
	"triggerd/internal/service"
	"triggerd/internal/store"
	"triggerd/internal/timeparse"
	"triggerd/internal/trigger"
)

func setupToolkit(t *testing.T, userID string) (*Toolkit, *service.Service) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := service.New(store.NewWithClient(client), timeparse.New(nil), "UTC", &logger.NoOpLogger{})
	return New(svc, userID), svc
}

func futureStart() string {
	return time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
}

func TestToolkit_CreateAndList(t *testing.T) {
	tk, _ := setupToolkit(t, "user-1")
	ctx := context.Background()

	created, err := tk.CreateTrigger(ctx, CreateTriggerRequest{
		AgentName:      "digest-agent",
		Payload:        "compile the morning digest with all unread items from every feed the user follows",
		StartTime:      futureStart(),
		RecurrenceRule: "daily",
	})
	if err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	if created.TriggerID == "" {
		t.Fatal("Expected a trigger ID")
	}
	if created.NextTrigger == "" {
		t.Error("Expected a next trigger time")
	}

	list, err := tk.ListTriggers(ctx, ListTriggersRequest{})
	if err != nil {
		t.Fatalf("ListTriggers failed: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("Expected 1 trigger, got %d", list.Count)
	}
	summary := list.Triggers[0]
	if summary.ID != created.TriggerID {
		t.Errorf("Expected ID %s, got %s", created.TriggerID, summary.ID)
	}
	if len(summary.PayloadPreview) > 80 {
		t.Errorf("Payload preview exceeds 80 chars: %d", len(summary.PayloadPreview))
	}
	if summary.Status != "active" {
		t.Errorf("Expected active status, got %s", summary.Status)
	}
}

func TestToolkit_ListFiltersByStatus(t *testing.T) {
	tk, _ := setupToolkit(t, "user-1")
	ctx := context.Background()

	created, err := tk.CreateTrigger(ctx, CreateTriggerRequest{
		AgentName: "a", Payload: "p1", StartTime: futureStart(), RecurrenceRule: "hourly",
	})
	if err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	if _, err := tk.CreateTrigger(ctx, CreateTriggerRequest{
		AgentName: "b", Payload: "p2", StartTime: futureStart(),
	}); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}

	paused := "paused"
	if _, err := tk.UpdateTrigger(ctx, UpdateTriggerRequest{TriggerID: created.TriggerID, Status: &paused}); err != nil {
		t.Fatalf("UpdateTrigger failed: %v", err)
	}

	list, err := tk.ListTriggers(ctx, ListTriggersRequest{Status: "paused"})
	if err != nil {
		t.Fatalf("ListTriggers failed: %v", err)
	}
	if list.Count != 1 || list.Triggers[0].ID != created.TriggerID {
		t.Errorf("Expected only the paused trigger, got %+v", list.Triggers)
	}

	all, err := tk.ListTriggers(ctx, ListTriggersRequest{Status: "all"})
	if err != nil {
		t.Fatalf("ListTriggers failed: %v", err)
	}
	if all.Count != 2 {
		t.Errorf("Expected 2 triggers for status=all, got %d", all.Count)
	}
}

func TestToolkit_UpdateAndDelete(t *testing.T) {
	tk, _ := setupToolkit(t, "user-1")
	ctx := context.Background()

	created, err := tk.CreateTrigger(ctx, CreateTriggerRequest{
		AgentName: "reminder", Payload: "old text", StartTime: futureStart(),
	})
	if err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}

	newPayload := "new text"
	updated, err := tk.UpdateTrigger(ctx, UpdateTriggerRequest{TriggerID: created.TriggerID, Payload: &newPayload})
	if err != nil {
		t.Fatalf("UpdateTrigger failed: %v", err)
	}
	if updated.Status != "active" {
		t.Errorf("Payload update should not change status, got %s", updated.Status)
	}

	deleted, err := tk.DeleteTrigger(ctx, DeleteTriggerRequest{TriggerID: created.TriggerID})
	if err != nil {
		t.Fatalf("DeleteTrigger failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Expected deleted=true")
	}

	if _, err := tk.DeleteTrigger(ctx, DeleteTriggerRequest{TriggerID: created.TriggerID}); !trigger.IsNotFound(err) {
		t.Errorf("Expected not-found on second delete, got %v", err)
	}
}

func TestToolkit_ForeignTriggerLooksMissing(t *testing.T) {
	tk, svc := setupToolkit(t, "user-1")
	ctx := context.Background()

	other, err := svc.Create(ctx, service.CreateParams{
		UserID:        "user-2",
		AgentName:     "secret-agent",
		Payload:       "not yours",
		StartTimeText: futureStart(),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := tk.DeleteTrigger(ctx, DeleteTriggerRequest{TriggerID: other.ID}); !trigger.IsNotFound(err) {
		t.Errorf("Expected not-found for foreign trigger, got %v", err)
	}

	list, err := tk.ListTriggers(ctx, ListTriggersRequest{})
	if err != nil {
		t.Fatalf("ListTriggers failed: %v", err)
	}
	if list.Count != 0 {
		t.Errorf("Foreign triggers must not be listed, got %d", list.Count)
	}
}

func TestToolkit_CallDispatch(t *testing.T) {
	tk, _ := setupToolkit(t, "user-1")
	ctx := context.Background()

	args := fmt.Sprintf(`{"agent_name":"echo","payload":"hi","start_time":%q,"recurrence_rule":"every 10 minutes"}`, futureStart())
	raw, err := tk.Call(ctx, ToolCreateTrigger, json.RawMessage(args))
	if err != nil {
		t.Fatalf("Call(create_trigger) failed: %v", err)
	}

	var created CreateTriggerResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.TriggerID == "" {
		t.Fatal("Expected a trigger ID")
	}

	raw, err = tk.Call(ctx, ToolListTriggers, nil)
	if err != nil {
		t.Fatalf("Call(list_triggers) failed: %v", err)
	}
	var list ListTriggersResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("Expected 1 trigger, got %d", list.Count)
	}

	if _, err := tk.Call(ctx, "explode_trigger", nil); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error for unknown tool, got %v", err)
	}

	if _, err := tk.Call(ctx, ToolUpdateTrigger, json.RawMessage(`{"trigger_id":`)); !trigger.IsValidation(err) {
		t.Errorf("Expected validation error for malformed args, got %v", err)
	}
}
