package trigger

import (
	"fmt"
	"time"
)

// The state machine is pure: every function here mutates only the trigger
// record handed to it and never touches storage or the clock. The dispatcher
// computes the next occurrence before applying an outcome, so recurrence
// never rewinds past the fire it was computed from.

// ApplyFireSuccess records a successful fire. A one-time trigger becomes
// completed with no next fire instant; a recurring trigger stays active and
// advances to next.
func ApplyFireSuccess(t *Trigger, now time.Time, next *time.Time) error {
	if t.Status != StatusActive {
		return &ValidationError{Reason: fmt.Sprintf("cannot apply fire result to %s trigger %s", t.Status, t.ID)}
	}

	t.Metadata.ExecutionCount++
	t.Metadata.LastExecutionAt = &now
	t.LastError = ""
	t.UpdatedAt = now

	if !t.Recurring() {
		t.Status = StatusCompleted
		t.NextTrigger = nil
		return nil
	}

	if next == nil {
		return fmt.Errorf("recurring trigger %s fired without a recomputed next occurrence", t.ID)
	}
	t.NextTrigger = next
	return nil
}

// ApplyFireFailure records a failed fire attempt. The error is metadata, not
// a state: a recurring trigger stays active and retries at its next natural
// occurrence. A failed one-time trigger completes terminally and is not
// resurrected.
func ApplyFireFailure(t *Trigger, now time.Time, next *time.Time, errMsg string) error {
	if t.Status != StatusActive {
		return &ValidationError{Reason: fmt.Sprintf("cannot apply fire result to %s trigger %s", t.Status, t.ID)}
	}

	t.Metadata.ExecutionCount++
	t.Metadata.LastExecutionAt = &now
	t.LastError = errMsg
	t.UpdatedAt = now

	if !t.Recurring() {
		t.Status = StatusCompleted
		t.NextTrigger = nil
		return nil
	}

	if next == nil {
		return fmt.Errorf("recurring trigger %s failed without a recomputed next occurrence", t.ID)
	}
	t.NextTrigger = next
	return nil
}

// Pause suspends an active trigger. NextTrigger is preserved unchanged so a
// later resume picks up exactly where the schedule left off.
func Pause(t *Trigger, now time.Time) error {
	if t.Status != StatusActive {
		return &ValidationError{Reason: fmt.Sprintf("cannot pause %s trigger %s", t.Status, t.ID)}
	}
	t.Status = StatusPaused
	t.UpdatedAt = now
	return nil
}

// Resume reactivates a paused trigger. NextTrigger is preserved; if it is
// already in the past the dispatcher fires it on its next poll.
func Resume(t *Trigger, now time.Time) error {
	if t.Status != StatusPaused {
		return &ValidationError{Reason: fmt.Sprintf("cannot resume %s trigger %s", t.Status, t.ID)}
	}
	t.Status = StatusActive
	t.UpdatedAt = now
	return nil
}

// ApplyUserStatus applies a user-requested status change. Only the
// active ⇄ paused transitions are legal from the user surface; completed is
// dispatcher-only.
func ApplyUserStatus(t *Trigger, to Status, now time.Time) error {
	switch to {
	case StatusActive:
		if t.Status == StatusActive {
			return nil
		}
		return Resume(t, now)
	case StatusPaused:
		if t.Status == StatusPaused {
			return nil
		}
		return Pause(t, now)
	case StatusCompleted:
		return &ValidationError{Reason: "status cannot be set to completed directly; it is reached only by firing"}
	default:
		return &ValidationError{Reason: fmt.Sprintf("invalid status %q", to)}
	}
}
