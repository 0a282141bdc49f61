// Package orchestrator owns the fixed agent set, runs agents on demand, and
// aggregates their results for dashboards. It is the single synchronization
// boundary: HTTP and WebSocket handlers never touch an agent directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
)

// Bus channels republished by the orchestrator for the realtime layer.
const (
	ChannelReport     = "report"
	ChannelAgentError = "agent-error"
)

const (
	maxReports       = 500
	dashboardReports = 20
)

// ErrUnknownAgent is returned when a caller references a name outside the
// fixed agent set.
var ErrUnknownAgent = errors.New("unknown agent")

// independentAgents are the agents RunAll executes concurrently. Chat is
// excluded: its task is session-bound, not batch analysis.
var independentAgents = []string{"repo", "test", "sec", "analytics"}

// Report is the stored, immutable result of one agent run.
type Report struct {
	ID       string    `json:"id"`
	Agent    string    `json:"agent"`
	Result   any       `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
	StoredAt time.Time `json:"storedAt"`
}

// AgentErrorEvent is published on ChannelAgentError when a run fails.
type AgentErrorEvent struct {
	Agent string `json:"agent"`
	Error string `json:"error"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Bus       *bus.Bus
	ChatStore *chat.Store
	Recorder  *agent.Recorder
	ScanRules agent.ScanRules
}

// Orchestrator coordinates the agents and accumulates their reports.
type Orchestrator struct {
	bus      *bus.Bus
	agents   map[string]*agent.Runner
	chat     *chat.Store
	recorder *agent.Recorder

	mu      sync.Mutex
	reports []Report
}

// New constructs the orchestrator and its fixed agent set.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		bus:      cfg.Bus,
		chat:     cfg.ChatStore,
		recorder: cfg.Recorder,
	}
	if o.recorder == nil {
		o.recorder = agent.NewRecorder()
	}

	chatRunner := agent.NewRunner("chat", cfg.Bus, func(ctx context.Context, task agent.Task) (any, error) {
		t, ok := task.(agent.ChatTask)
		if !ok {
			return nil, fmt.Errorf("chat agent: unexpected task type %T", task)
		}
		return o.chat.Chat(ctx, t.SessionID, t.Message, chat.Options{Role: t.Role, Model: t.Model}), nil
	})
	chatRunner.SetTimeout(2 * time.Minute)

	o.agents = map[string]*agent.Runner{
		"repo":      agent.NewRepoRunner(cfg.Bus),
		"test":      agent.NewTestRunner(cfg.Bus),
		"sec":       agent.NewSecRunner(cfg.Bus, cfg.ScanRules),
		"analytics": agent.NewAnalyticsRunner(cfg.Bus, o.recorder),
		"chat":      chatRunner,
	}

	// Completed chat turns feed the analytics recorder.
	cfg.Bus.Subscribe(chat.ChannelChat, func(ev bus.Event) {
		o.recorder.Record("chat", map[string]any{"event": ev.Payload})
	})

	return o
}

// Recorder exposes the shared analytics recorder (used by HTTP middleware).
func (o *Orchestrator) Recorder() *agent.Recorder { return o.recorder }

// ChatStore exposes the chat session store for the chat routes.
func (o *Orchestrator) ChatStore() *chat.Store { return o.chat }

// AgentNames returns the fixed agent set.
func (o *Orchestrator) AgentNames() []string {
	return []string{"repo", "test", "sec", "analytics", "chat"}
}

// RunAgent runs one agent and stores its report. An unknown name fails with
// ErrUnknownAgent; a task failure is recorded, republished as an agent-error
// event, and returned to the caller without storing a report.
func (o *Orchestrator) RunAgent(ctx context.Context, name string, task agent.Task) (Report, error) {
	runner, ok := o.agents[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}

	result, err := runner.Run(ctx, task)
	if err != nil {
		o.recorder.Record("error", map[string]any{
			"message": fmt.Sprintf("Agent error [%s]: %v", name, err),
		})
		o.bus.Publish(ChannelAgentError, AgentErrorEvent{Agent: name, Error: err.Error()})
		return Report{}, err
	}

	report := Report{
		ID:       uuid.NewString(),
		Agent:    name,
		Result:   result,
		StoredAt: time.Now(),
	}
	o.storeReport(report)
	o.bus.Publish(ChannelReport, report)
	return report, nil
}

// RunAll runs every independent agent concurrently against the unified
// payload. A failing agent yields an error-bearing entry; the batch itself
// always completes with one entry per agent.
func (o *Orchestrator) RunAll(ctx context.Context, payload agent.Payload) map[string]Report {
	results := make([]Report, len(independentAgents))

	var wg sync.WaitGroup
	for i, name := range independentAgents {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()

			task, err := payload.Task(name)
			if err == nil {
				var report Report
				report, err = o.RunAgent(ctx, name, task)
				if err == nil {
					results[i] = report
					return
				}
			}
			results[i] = Report{
				ID:       uuid.NewString(),
				Agent:    name,
				Error:    err.Error(),
				StoredAt: time.Now(),
			}
		}(i, name)
	}
	wg.Wait()

	out := make(map[string]Report, len(results))
	for _, r := range results {
		out[r.Agent] = r
	}
	return out
}

// StatusSnapshot is a pure read of current agent states.
func (o *Orchestrator) StatusSnapshot() map[string]agent.State {
	out := make(map[string]agent.State, len(o.agents))
	for name, runner := range o.agents {
		out[name] = runner.Status()
	}
	return out
}

// AgentSnapshots returns the serializable per-agent views.
func (o *Orchestrator) AgentSnapshots() map[string]agent.Snapshot {
	out := make(map[string]agent.Snapshot, len(o.agents))
	for name, runner := range o.agents {
		out[name] = runner.Snapshot()
	}
	return out
}

// Dashboard aggregates statuses, recent reports, and session summaries.
type Dashboard struct {
	Timestamp      time.Time              `json:"timestamp"`
	AgentStatuses  map[string]agent.State `json:"agentStatuses"`
	RecentReports  []Report               `json:"recentReports"`
	ActiveSessions []chat.Summary         `json:"activeSessions"`
}

// DashboardSnapshot builds the read-only dashboard view.
func (o *Orchestrator) DashboardSnapshot() Dashboard {
	return Dashboard{
		Timestamp:      time.Now(),
		AgentStatuses:  o.StatusSnapshot(),
		RecentReports:  o.recentReports(dashboardReports),
		ActiveSessions: o.chat.ListSessions(),
	}
}

// Reports returns a copy of the stored report history, oldest first.
func (o *Orchestrator) Reports() []Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Report, len(o.reports))
	copy(out, o.reports)
	return out
}

func (o *Orchestrator) recentReports(n int) []Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.reports) {
		n = len(o.reports)
	}
	out := make([]Report, n)
	copy(out, o.reports[len(o.reports)-n:])
	return out
}

func (o *Orchestrator) storeReport(r Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
	if len(o.reports) > maxReports {
		o.reports = o.reports[1:]
	}
}
