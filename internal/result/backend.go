// Package result records the outcome of every trigger fire so users can ask
// what actually happened to a schedule.
package result

import (
	"context"
	"time"
)

// FireRecord is one fire attempt's outcome
type FireRecord struct {
	// FireID uniquely identifies this attempt
	FireID string `json:"fire_id"`
	// TriggerID is the trigger that fired
	TriggerID string `json:"trigger_id"`
	// AgentName is the execution agent that was spawned
	AgentName string `json:"agent_name"`
	// FiredAt is when the fire attempt started
	FiredAt time.Time `json:"fired_at"`
	// Duration is how long the agent invocation took
	Duration time.Duration `json:"duration"`
	// Success reports whether the agent invocation succeeded
	Success bool `json:"success"`
	// Error is the failure message when Success is false
	Error string `json:"error,omitempty"`
	// ExecutionCount is the trigger's attempt counter after this fire
	ExecutionCount int `json:"execution_count"`
}

// Backend stores and retrieves fire history
type Backend interface {
	// Record appends a fire record to the trigger's history
	Record(ctx context.Context, rec *FireRecord) error

	// History returns the trigger's most recent fire records, newest first.
	// Returns an empty slice when the trigger has no (unexpired) history.
	History(ctx context.Context, triggerID string, limit int) ([]*FireRecord, error)

	// Close releases any connections used by the backend
	Close() error
}
