package result

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupBackend(t *testing.T, maxRecords int) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisBackend(client, time.Hour, 24*time.Hour, maxRecords), mr
}

func sampleRecord(triggerID string, n int, success bool) *FireRecord {
	rec := &FireRecord{
		FireID:         fmt.Sprintf("fire-%d", n),
		TriggerID:      triggerID,
		AgentName:      "agent",
		FiredAt:        time.Date(2024, 6, 1, 12, 0, n, 0, time.UTC),
		Duration:       250 * time.Millisecond,
		Success:        success,
		ExecutionCount: n,
	}
	if !success {
		rec.Error = "agent unreachable"
	}
	return rec
}

func TestRecordAndHistory(t *testing.T) {
	b, _ := setupBackend(t, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := b.Record(ctx, sampleRecord("trig-1", i, true)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	records, err := b.History(ctx, "trig-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	// Newest first
	if records[0].FireID != "fire-3" || records[2].FireID != "fire-1" {
		t.Errorf("Wrong order: %s ... %s", records[0].FireID, records[2].FireID)
	}
	if !records[0].FiredAt.Equal(time.Date(2024, 6, 1, 12, 0, 3, 0, time.UTC)) {
		t.Errorf("FiredAt mismatch: %v", records[0].FiredAt)
	}
	if records[0].Duration != 250*time.Millisecond {
		t.Errorf("Duration mismatch: %v", records[0].Duration)
	}
}

func TestHistory_LimitAndIsolation(t *testing.T) {
	b, _ := setupBackend(t, 10)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := b.Record(ctx, sampleRecord("trig-1", i, true)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := b.Record(ctx, sampleRecord("trig-2", 1, true)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	records, err := b.History(ctx, "trig-1", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(records))
	}

	other, err := b.History(ctx, "trig-2", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("Histories must be per-trigger, got %d", len(other))
	}
}

func TestRecord_CapsListLength(t *testing.T) {
	b, _ := setupBackend(t, 3)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if err := b.Record(ctx, sampleRecord("trig-1", i, true)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	records, err := b.History(ctx, "trig-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected cap of 3, got %d", len(records))
	}
	// Oldest records were trimmed
	if records[0].FireID != "fire-6" || records[2].FireID != "fire-4" {
		t.Errorf("Wrong window after trim: %s ... %s", records[0].FireID, records[2].FireID)
	}
}

func TestRecord_FailureRecordsCarryError(t *testing.T) {
	b, _ := setupBackend(t, 10)
	ctx := context.Background()

	if err := b.Record(ctx, sampleRecord("trig-1", 1, false)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	records, err := b.History(ctx, "trig-1", 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if records[0].Success {
		t.Error("Expected a failed record")
	}
	if records[0].Error != "agent unreachable" {
		t.Errorf("Expected error message, got %q", records[0].Error)
	}
}

func TestHistory_UnknownTriggerIsEmpty(t *testing.T) {
	b, _ := setupBackend(t, 10)

	records, err := b.History(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}
