// Package agent implements the named worker units coordinated by the
// orchestrator. Each agent is a generic Runner lifecycle wrapper around a
// task function, composed by name into the orchestrator's agent map.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dragon-ia/dragond/internal/bus"
)

// State is an agent's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
)

// ChannelStatus is the bus channel carrying agent status transitions.
const ChannelStatus = "agent:status"

// StatusEvent is published on ChannelStatus for every state transition.
type StatusEvent struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Status    State  `json:"status"`
}

// TaskError wraps a failure raised by an agent's task function.
type TaskError struct {
	Agent string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TaskFunc is the agent-specific task body.
type TaskFunc func(ctx context.Context, task Task) (any, error)

// Runner owns one agent's lifecycle: the status state machine, last-run
// bookkeeping, and status/terminal event publication. Overlapping Run calls
// on the same Runner are serialized.
type Runner struct {
	id      string
	name    string
	bus     *bus.Bus
	exec    TaskFunc
	timeout time.Duration

	runMu sync.Mutex // serializes runs

	mu         sync.Mutex // guards the fields below
	status     State
	lastRun    *time.Time
	lastResult any
}

// NewRunner creates an idle runner for the named agent.
func NewRunner(name string, b *bus.Bus, exec TaskFunc) *Runner {
	return &Runner{
		id:     uuid.NewString(),
		name:   name,
		bus:    b,
		exec:   exec,
		status: StateIdle,
	}
}

// SetTimeout bounds each run of an external-I/O-bound task. Zero disables.
func (r *Runner) SetTimeout(d time.Duration) { r.timeout = d }

// Name returns the agent's stable name.
func (r *Runner) Name() string { return r.name }

// ID returns the agent's instance id.
func (r *Runner) ID() string { return r.id }

// Status returns the current state.
func (r *Runner) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot is the serializable view of an agent for dashboards.
type Snapshot struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     State      `json:"status"`
	LastRun    *time.Time `json:"lastRun"`
	LastResult any        `json:"lastResult"`
}

// Snapshot returns an immutable view of the agent, safe to serialize.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:         r.id,
		Name:       r.name,
		Status:     r.status,
		LastRun:    r.lastRun,
		LastResult: r.lastResult,
	}
}

// Run executes the agent's task. The state machine is
// idle → running → idle on success and running → error on failure; error is
// recovered by the next Run. Failures are returned as *TaskError and also
// published on the agent's error channel.
func (r *Runner) Run(ctx context.Context, task Task) (any, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.setStatus(StateRunning)

	result, err := r.exec(ctx, task)
	if err != nil {
		r.setStatus(StateError)
		r.bus.Publish(r.name+":error", map[string]any{
			"agentId":   r.id,
			"agentName": r.name,
			"message":   err.Error(),
		})
		return nil, &TaskError{Agent: r.name, Err: err}
	}

	now := time.Now()
	r.mu.Lock()
	r.lastResult = result
	r.lastRun = &now
	r.mu.Unlock()

	r.setStatus(StateIdle)
	r.bus.Publish(r.name+":report", result)
	return result, nil
}

func (r *Runner) setStatus(s State) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
	r.bus.Publish(ChannelStatus, StatusEvent{AgentID: r.id, AgentName: r.name, Status: s})
}
