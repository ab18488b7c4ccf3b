package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle status of a trigger
type Status string

const (
	// StatusActive indicates the trigger is eligible to fire at its next due instant
	StatusActive Status = "active"
	// StatusPaused indicates the trigger is suspended; its next fire instant is preserved
	StatusPaused Status = "paused"
	// StatusCompleted indicates the trigger is terminal and will never fire again
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the closed set of trigger statuses
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status, validating it against the
// closed set. Status strings arriving from any boundary (HTTP, tool calls,
// Redis) must pass through here rather than being cast directly.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", &ValidationError{Reason: fmt.Sprintf("invalid status %q (must be active, paused, or completed)", s)}
	}
	return status, nil
}

// DefaultTimezone is the IANA zone used when a trigger is created without one
const DefaultTimezone = "America/Chicago"

// Metadata carries the execution bookkeeping attached to a trigger
type Metadata struct {
	// ExecutionCount is the number of fire attempts, successful or not
	ExecutionCount int `json:"execution_count"`
	// LastExecutionAt is when the most recent fire attempt finished (nullable)
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	// CreatedBy records which surface created the trigger (tool call, API, ...)
	CreatedBy string `json:"created_by,omitempty"`
}

// Trigger is a user-registered scheduled task: spawn an execution agent with
// a payload at computed future instants, once or repeatedly.
type Trigger struct {
	// ID is the unique identifier for the trigger, immutable after creation
	ID string `json:"id"`
	// UserID is the owner; all queries are scoped to it
	UserID string `json:"user_id"`
	// AgentName is an opaque label identifying which execution agent to spawn
	AgentName string `json:"agent_name"`
	// Payload is free-text instructions passed verbatim to the execution agent
	Payload string `json:"payload"`
	// StartTime is the first intended fire instant, timezone-resolved
	StartTime time.Time `json:"start_time"`
	// NextTrigger is the next instant the trigger is due; nil once terminal
	NextTrigger *time.Time `json:"next_trigger,omitempty"`
	// RecurrenceRule is empty for one-time triggers, otherwise a rule string
	// in the supported recurrence grammar
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
	// Timezone is the IANA zone name used for all rule evaluation
	Timezone string `json:"timezone"`
	// Status is the current lifecycle status
	Status Status `json:"status"`
	// LastError is the most recent execution failure message, or empty
	LastError string `json:"last_error,omitempty"`
	// Metadata is the execution bookkeeping
	Metadata Metadata `json:"metadata"`
	// CreatedAt is when the trigger was created
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the trigger was last mutated
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an active trigger whose next fire instant is its start time.
// The timezone defaults to DefaultTimezone when empty; callers are expected
// to have validated it beforehand.
func New(userID, agentName, payload string, startTime time.Time, recurrenceRule, timezone string) *Trigger {
	if timezone == "" {
		timezone = DefaultTimezone
	}

	now := time.Now()
	next := startTime
	return &Trigger{
		ID:             uuid.New().String(),
		UserID:         userID,
		AgentName:      agentName,
		Payload:        payload,
		StartTime:      startTime,
		NextTrigger:    &next,
		RecurrenceRule: recurrenceRule,
		Timezone:       timezone,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Recurring reports whether the trigger has a recurrence rule
func (t *Trigger) Recurring() bool {
	return t.RecurrenceRule != ""
}

// Location resolves the trigger's IANA timezone
func (t *Trigger) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", t.Timezone, err)
	}
	return loc, nil
}

// Due reports whether the trigger is active with a fire instant at or before now
func (t *Trigger) Due(now time.Time) bool {
	return t.Status == StatusActive && t.NextTrigger != nil && !t.NextTrigger.After(now)
}

// PayloadPreview returns the payload truncated for listings
func (t *Trigger) PayloadPreview(max int) string {
	if max <= 0 || len(t.Payload) <= max {
		return t.Payload
	}
	return t.Payload[:max-3] + "..."
}
