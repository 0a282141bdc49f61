package agent

import (
	"encoding/json"
	"fmt"
)

// File is a named file submitted for analysis.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Dependency is a pinned package reference.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Task is the tagged union of per-agent payloads. Each agent accepts
// exactly one concrete task type.
type Task interface {
	agentTask()
}

// RepoTask drives the repository analyzer.
type RepoTask struct {
	Repo  string `json:"repo,omitempty"`
	Files []File `json:"files,omitempty"`
}

// TestTask drives the test/lint agent.
type TestTask struct {
	EntryFile string `json:"entryFile,omitempty"`
	SkipLint  bool   `json:"skipLint,omitempty"`
	Files     []File `json:"files,omitempty"`
	JSONFiles []File `json:"jsonFiles,omitempty"`
}

// SecTask drives the security scanner.
type SecTask struct {
	Headers      map[string]string `json:"headers,omitempty"`
	Files        []File            `json:"files,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
}

// AnalyticsTask drives the analytics reporter.
type AnalyticsTask struct {
	Metrics    map[string]any `json:"metrics,omitempty"`
	AdSafeMode *bool          `json:"adSafeMode,omitempty"`
}

// ChatTask drives the chat agent.
type ChatTask struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Role      string `json:"role,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (RepoTask) agentTask()      {}
func (TestTask) agentTask()      {}
func (SecTask) agentTask()       {}
func (AnalyticsTask) agentTask() {}
func (ChatTask) agentTask()      {}

// Payload is the unified analyze request body. Each agent extracts the
// typed view it understands; fields it does not know are ignored.
type Payload struct {
	Repo         string            `json:"repo,omitempty"`
	Files        []File            `json:"files,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	JSONFiles    []File            `json:"jsonFiles,omitempty"`
	EntryFile    string            `json:"entryFile,omitempty"`
	SkipLint     bool              `json:"skipLint,omitempty"`
	Metrics      map[string]any    `json:"metrics,omitempty"`
	AdSafeMode   *bool             `json:"adSafeMode,omitempty"`
}

// Task returns the typed task for the named agent.
func (p Payload) Task(agent string) (Task, error) {
	switch agent {
	case "repo":
		return RepoTask{Repo: p.Repo, Files: p.Files}, nil
	case "test":
		return TestTask{EntryFile: p.EntryFile, SkipLint: p.SkipLint, Files: p.Files, JSONFiles: p.JSONFiles}, nil
	case "sec":
		return SecTask{Headers: p.Headers, Files: p.Files, Dependencies: p.Dependencies}, nil
	case "analytics":
		return AnalyticsTask{Metrics: p.Metrics, AdSafeMode: p.AdSafeMode}, nil
	default:
		return nil, fmt.Errorf("no task mapping for agent %q", agent)
	}
}

// DecodeTask parses a raw JSON body into the named agent's task type.
// An empty body yields the agent's zero task.
func DecodeTask(agent string, raw []byte) (Task, error) {
	if agent == "chat" {
		var t ChatTask
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, fmt.Errorf("decode chat task: %w", err)
			}
		}
		return t, nil
	}

	var p Payload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s task: %w", agent, err)
		}
	}
	return p.Task(agent)
}
