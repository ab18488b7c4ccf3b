// Package service orchestrates validation, the trigger state machine, and
// the store behind the create/list/update/delete contract consumed by the
// API and tool layers.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"triggerd/internal/logger"
	"triggerd/internal/recurrence"
	"triggerd/internal/timeparse"
	"triggerd/internal/trigger"
)

// Store is the persistence the service needs; implemented by store.RedisStore
type Store interface {
	Insert(ctx context.Context, t *trigger.Trigger) error
	Get(ctx context.Context, id string) (*trigger.Trigger, error)
	Update(ctx context.Context, t *trigger.Trigger) error
	Delete(ctx context.Context, id string) error
	FindByUser(ctx context.Context, userID string, status *trigger.Status) ([]*trigger.Trigger, error)
}

// Service exposes the trigger management operations
type Service struct {
	store           Store
	resolver        *timeparse.StartTimeResolver
	defaultTimezone string
	log             logger.Logger
	clock           func() time.Time
}

// New creates a trigger service. defaultTimezone is used when a create
// request carries no zone; empty falls back to trigger.DefaultTimezone.
func New(store Store, resolver *timeparse.StartTimeResolver, defaultTimezone string, log logger.Logger) *Service {
	if defaultTimezone == "" {
		defaultTimezone = trigger.DefaultTimezone
	}
	return &Service{
		store:           store,
		resolver:        resolver,
		defaultTimezone: defaultTimezone,
		log:             log.WithComponent(logger.ComponentService),
		clock:           time.Now,
	}
}

// SetClock overrides the service's notion of now (for testing)
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// CreateParams are the inputs to Create
type CreateParams struct {
	UserID         string
	AgentName      string
	Payload        string
	StartTimeText  string
	RecurrenceRule string
	Timezone       string
	CreatedBy      string
}

// Create validates and persists a new trigger. One-time triggers must start
// strictly in the future; recurring triggers may start in the past, in which
// case the dispatcher fires them on its next poll.
func (s *Service) Create(ctx context.Context, p CreateParams) (*trigger.Trigger, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, &trigger.ValidationError{Reason: "user id cannot be empty"}
	}
	if strings.TrimSpace(p.AgentName) == "" {
		return nil, &trigger.ValidationError{Reason: "agent name cannot be empty"}
	}
	if strings.TrimSpace(p.Payload) == "" {
		return nil, &trigger.ValidationError{Reason: "payload cannot be empty"}
	}

	tz := p.Timezone
	if tz == "" {
		tz = s.defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &trigger.ValidationError{Reason: fmt.Sprintf("invalid timezone %q", tz)}
	}

	if p.RecurrenceRule != "" {
		if err := recurrence.Validate(p.RecurrenceRule); err != nil {
			return nil, &trigger.ValidationError{Reason: err.Error()}
		}
	}

	now := s.clock()
	startTime, err := s.resolver.Resolve(p.StartTimeText, now, loc)
	if err != nil {
		return nil, err
	}

	if p.RecurrenceRule == "" && !startTime.After(now) {
		return nil, &trigger.ValidationError{
			Reason: fmt.Sprintf("start time %s is in the past for a one-time trigger", startTime.Format(time.RFC3339)),
		}
	}

	t := trigger.New(p.UserID, p.AgentName, p.Payload, startTime, p.RecurrenceRule, tz)
	t.Metadata.CreatedBy = p.CreatedBy

	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "Trigger created",
		"trigger_id", t.ID,
		"user_id", t.UserID,
		"agent_name", t.AgentName,
		"next_trigger", startTime.Format(time.RFC3339),
		"recurrence_rule", t.RecurrenceRule)

	return t, nil
}

// Get loads a single trigger by ID
func (s *Service) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns the user's triggers ordered by next fire instant
// ascending, terminal triggers last. status nil means no filter.
func (s *Service) ListByUser(ctx context.Context, userID string, status *trigger.Status) ([]*trigger.Trigger, error) {
	return s.store.FindByUser(ctx, userID, status)
}

// UpdateParams are the optional mutations applied by Update; nil fields are
// left unchanged
type UpdateParams struct {
	Payload        *string
	RecurrenceRule *string
	Timezone       *string
	Status         *trigger.Status
}

// Update applies user mutations to a trigger. Status changes are restricted
// to active ⇄ paused; a recurrence-rule or timezone change is revalidated
// and recomputes the next fire instant from the current moment.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*trigger.Trigger, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock()

	if p.Status != nil {
		if err := trigger.ApplyUserStatus(t, *p.Status, now); err != nil {
			return nil, err
		}
	}

	if p.Payload != nil {
		if strings.TrimSpace(*p.Payload) == "" {
			return nil, &trigger.ValidationError{Reason: "payload cannot be empty"}
		}
		t.Payload = *p.Payload
	}

	scheduleChanged := false

	if p.Timezone != nil {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return nil, &trigger.ValidationError{Reason: fmt.Sprintf("invalid timezone %q", *p.Timezone)}
		}
		if *p.Timezone != t.Timezone {
			t.Timezone = *p.Timezone
			scheduleChanged = true
		}
	}

	if p.RecurrenceRule != nil && *p.RecurrenceRule != t.RecurrenceRule {
		if t.Status == trigger.StatusCompleted {
			return nil, &trigger.ValidationError{Reason: "cannot change the schedule of a completed trigger"}
		}
		if *p.RecurrenceRule != "" {
			if err := recurrence.Validate(*p.RecurrenceRule); err != nil {
				return nil, &trigger.ValidationError{Reason: err.Error()}
			}
		}
		t.RecurrenceRule = *p.RecurrenceRule
		scheduleChanged = true
	}

	if scheduleChanged && t.Status != trigger.StatusCompleted && t.Recurring() {
		loc, err := t.Location()
		if err != nil {
			return nil, &trigger.ValidationError{Reason: err.Error()}
		}
		next, err := recurrence.Next(t.RecurrenceRule, now, loc)
		if err != nil {
			return nil, &trigger.ValidationError{Reason: err.Error()}
		}
		t.NextTrigger = &next
	}

	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "Trigger updated", "trigger_id", t.ID, "status", string(t.Status))
	return t, nil
}

// Delete hard-deletes a trigger. A missing ID is reported as not-found, not
// as a fatal fault, so callers can treat deletion as idempotent.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "Trigger deleted", "trigger_id", id)
	return nil
}
