// Package agent is the seam to the execution-agent runtime: the external
// system that actually performs a trigger's work when it fires.
package agent

import (
	"context"
	"fmt"
	"sync"
)

// Runner spawns an execution agent with a payload. Implementations must
// respect ctx: the dispatcher bounds every invocation with a deadline and a
// timeout is treated identically to a failure.
type Runner interface {
	Spawn(ctx context.Context, agentName, payload string) error
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, agentName, payload string) error

func (f RunnerFunc) Spawn(ctx context.Context, agentName, payload string) error {
	return f(ctx, agentName, payload)
}

// Registry routes agent names to runners, with an optional fallback for
// names that have no dedicated runner. Agent names are opaque labels; the
// registry is the only place that interprets them.
type Registry struct {
	mu       sync.RWMutex
	runners  map[string]Runner
	fallback Runner
}

// NewRegistry creates an empty runner registry
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register routes an agent name to a runner
func (r *Registry) Register(agentName string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[agentName] = runner
}

// SetFallback sets the runner used for agent names with no dedicated runner
func (r *Registry) SetFallback(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = runner
}

// Get retrieves the runner for an agent name, falling back if configured
func (r *Registry) Get(agentName string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if runner, exists := r.runners[agentName]; exists {
		return runner, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Count returns the number of dedicated runners
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Spawn invokes the runner routed to agentName. An unroutable agent name is
// an execution failure, recorded on the trigger like any other.
func (r *Registry) Spawn(ctx context.Context, agentName, payload string) error {
	runner, exists := r.Get(agentName)
	if !exists {
		return fmt.Errorf("no runner registered for agent %q", agentName)
	}
	return runner.Spawn(ctx, agentName, payload)
}
