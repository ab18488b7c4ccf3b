// Package tools exposes trigger management as a small set of named,
// JSON-argument operations suitable for an LLM tool-calling layer. A Toolkit
// is bound to one user; every operation is scoped to that user's triggers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"triggerd/internal/service"
	"triggerd/internal/trigger"
)

// Tool names accepted by Call
const (
	ToolCreateTrigger = "create_trigger"
	ToolListTriggers  = "list_triggers"
	ToolUpdateTrigger = "update_trigger"
	ToolDeleteTrigger = "delete_trigger"
)

const payloadPreviewLen = 80

// Toolkit is a user-scoped facade over the trigger service
type Toolkit struct {
	svc    *service.Service
	userID string
}

// New creates a toolkit bound to the given user
func New(svc *service.Service, userID string) *Toolkit {
	return &Toolkit{svc: svc, userID: userID}
}

// CreateTriggerRequest is the argument schema for create_trigger
type CreateTriggerRequest struct {
	AgentName      string `json:"agent_name"`
	Payload        string `json:"payload"`
	StartTime      string `json:"start_time"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// CreateTriggerResponse is returned by create_trigger
type CreateTriggerResponse struct {
	TriggerID      string `json:"trigger_id"`
	AgentName      string `json:"agent_name"`
	NextTrigger    string `json:"next_trigger"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
}

// CreateTrigger schedules a new trigger for the bound user
func (tk *Toolkit) CreateTrigger(ctx context.Context, req CreateTriggerRequest) (*CreateTriggerResponse, error) {
	t, err := tk.svc.Create(ctx, service.CreateParams{
		UserID:         tk.userID,
		AgentName:      req.AgentName,
		Payload:        req.Payload,
		StartTimeText:  req.StartTime,
		RecurrenceRule: req.RecurrenceRule,
		Timezone:       req.Timezone,
		CreatedBy:      "tool",
	})
	if err != nil {
		return nil, err
	}

	return &CreateTriggerResponse{
		TriggerID:      t.ID,
		AgentName:      t.AgentName,
		NextTrigger:    formatOptionalTime(t.NextTrigger),
		RecurrenceRule: t.RecurrenceRule,
	}, nil
}

// ListTriggersRequest is the argument schema for list_triggers.
// Status filters by trigger state; empty or "all" returns everything.
type ListTriggersRequest struct {
	Status string `json:"status,omitempty"`
}

// TriggerSummary is one row in a list_triggers response
type TriggerSummary struct {
	ID             string `json:"id"`
	AgentName      string `json:"agent_name"`
	PayloadPreview string `json:"payload_preview"`
	NextTrigger    string `json:"next_trigger,omitempty"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
	Status         string `json:"status"`
}

// ListTriggersResponse is returned by list_triggers
type ListTriggersResponse struct {
	Count    int              `json:"count"`
	Triggers []TriggerSummary `json:"triggers"`
}

// ListTriggers returns the bound user's triggers, soonest first
func (tk *Toolkit) ListTriggers(ctx context.Context, req ListTriggersRequest) (*ListTriggersResponse, error) {
	var status *trigger.Status
	if req.Status != "" && req.Status != "all" {
		parsed, err := trigger.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		status = &parsed
	}

	triggers, err := tk.svc.ListByUser(ctx, tk.userID, status)
	if err != nil {
		return nil, err
	}

	resp := &ListTriggersResponse{
		Count:    len(triggers),
		Triggers: make([]TriggerSummary, 0, len(triggers)),
	}
	for _, t := range triggers {
		resp.Triggers = append(resp.Triggers, TriggerSummary{
			ID:             t.ID,
			AgentName:      t.AgentName,
			PayloadPreview: t.PayloadPreview(payloadPreviewLen),
			NextTrigger:    formatOptionalTime(t.NextTrigger),
			RecurrenceRule: t.RecurrenceRule,
			Status:         string(t.Status),
		})
	}
	return resp, nil
}

// UpdateTriggerRequest is the argument schema for update_trigger.
// Omitted fields are left unchanged; status accepts "active" or "paused".
type UpdateTriggerRequest struct {
	TriggerID      string  `json:"trigger_id"`
	Payload        *string `json:"payload,omitempty"`
	RecurrenceRule *string `json:"recurrence_rule,omitempty"`
	Status         *string `json:"status,omitempty"`
}

// UpdateTriggerResponse is returned by update_trigger
type UpdateTriggerResponse struct {
	TriggerID   string `json:"trigger_id"`
	Status      string `json:"status"`
	NextTrigger string `json:"next_trigger,omitempty"`
}

// UpdateTrigger modifies one of the bound user's triggers
func (tk *Toolkit) UpdateTrigger(ctx context.Context, req UpdateTriggerRequest) (*UpdateTriggerResponse, error) {
	if err := tk.checkOwnership(ctx, req.TriggerID); err != nil {
		return nil, err
	}

	params := service.UpdateParams{
		Payload:        req.Payload,
		RecurrenceRule: req.RecurrenceRule,
	}
	if req.Status != nil {
		parsed, err := trigger.ParseStatus(*req.Status)
		if err != nil {
			return nil, err
		}
		params.Status = &parsed
	}

	t, err := tk.svc.Update(ctx, req.TriggerID, params)
	if err != nil {
		return nil, err
	}

	return &UpdateTriggerResponse{
		TriggerID:   t.ID,
		Status:      string(t.Status),
		NextTrigger: formatOptionalTime(t.NextTrigger),
	}, nil
}

// DeleteTriggerRequest is the argument schema for delete_trigger
type DeleteTriggerRequest struct {
	TriggerID string `json:"trigger_id"`
}

// DeleteTriggerResponse is returned by delete_trigger
type DeleteTriggerResponse struct {
	TriggerID string `json:"trigger_id"`
	Deleted   bool   `json:"deleted"`
}

// DeleteTrigger removes one of the bound user's triggers
func (tk *Toolkit) DeleteTrigger(ctx context.Context, req DeleteTriggerRequest) (*DeleteTriggerResponse, error) {
	if err := tk.checkOwnership(ctx, req.TriggerID); err != nil {
		return nil, err
	}

	if err := tk.svc.Delete(ctx, req.TriggerID); err != nil {
		return nil, err
	}
	return &DeleteTriggerResponse{TriggerID: req.TriggerID, Deleted: true}, nil
}

// Call dispatches a named tool invocation with raw JSON arguments, returning
// the response marshaled back to JSON. Unknown tool names and malformed
// arguments are validation errors.
func (tk *Toolkit) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	var (
		resp interface{}
		err  error
	)

	switch name {
	case ToolCreateTrigger:
		var req CreateTriggerRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		resp, err = tk.CreateTrigger(ctx, req)
	case ToolListTriggers:
		var req ListTriggersRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		resp, err = tk.ListTriggers(ctx, req)
	case ToolUpdateTrigger:
		var req UpdateTriggerRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		resp, err = tk.UpdateTrigger(ctx, req)
	case ToolDeleteTrigger:
		var req DeleteTriggerRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		resp, err = tk.DeleteTrigger(ctx, req)
	default:
		return nil, &trigger.ValidationError{Reason: fmt.Sprintf("unknown tool %q", name)}
	}

	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool response: %w", err)
	}
	return out, nil
}

// checkOwnership rejects access to triggers owned by other users. The reply
// is a not-found so tool callers cannot probe foreign trigger IDs.
func (tk *Toolkit) checkOwnership(ctx context.Context, id string) error {
	if id == "" {
		return &trigger.ValidationError{Reason: "trigger_id is required"}
	}
	t, err := tk.svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.UserID != tk.userID {
		return &trigger.NotFoundError{ID: id}
	}
	return nil
}

func unmarshalArgs(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return &trigger.ValidationError{Reason: fmt.Sprintf("malformed tool arguments: %v", err)}
	}
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
