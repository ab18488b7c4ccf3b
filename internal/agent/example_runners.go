package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"triggerd/internal/logger"
)

// LogRunner records invocations without doing any work. It is the default
// fallback in development deployments.
type LogRunner struct {
	log logger.Logger
}

// NewLogRunner creates a runner that only logs
func NewLogRunner(log logger.Logger) *LogRunner {
	return &LogRunner{log: log.WithComponent(logger.ComponentAgent).WithSource(logger.LogSourceFire)}
}

func (r *LogRunner) Spawn(ctx context.Context, agentName, payload string) error {
	r.log.InfoContext(ctx, "Agent spawned", "agent_name", agentName, "payload_bytes", len(payload))
	return nil
}

// WebhookRunner spawns agents by POSTing the invocation to an agent-runtime
// endpoint. Any non-2xx response is an execution failure.
type WebhookRunner struct {
	endpoint string
	client   *http.Client
	log      logger.Logger
}

// invocation is the wire envelope sent to the agent runtime
type invocation struct {
	AgentName string    `json:"agent_name"`
	Payload   string    `json:"payload"`
	FiredAt   time.Time `json:"fired_at"`
}

// NewWebhookRunner creates a runner that forwards invocations over HTTP. The
// client carries no timeout of its own; the dispatcher's deadline governs.
func NewWebhookRunner(endpoint string, log logger.Logger) *WebhookRunner {
	return &WebhookRunner{
		endpoint: endpoint,
		client:   &http.Client{},
		log:      log.WithComponent(logger.ComponentAgent).WithSource(logger.LogSourceFire),
	}
}

func (r *WebhookRunner) Spawn(ctx context.Context, agentName, payload string) error {
	body, err := json.Marshal(&invocation{
		AgentName: agentName,
		Payload:   payload,
		FiredAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent runtime unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent runtime returned %d: %s", resp.StatusCode, string(snippet))
	}

	r.log.DebugContext(ctx, "Agent invocation delivered", "agent_name", agentName, "status", resp.StatusCode)
	return nil
}
