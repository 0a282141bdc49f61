package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dragon-ia/dragond/internal/bus"
)

// CheckResult is the outcome of one test-agent check.
type CheckResult struct {
	Task   string `json:"task"`
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}

// TestReport is the test agent's result.
type TestReport struct {
	Agent     string        `json:"agent"`
	Timestamp time.Time     `json:"timestamp"`
	Results   []CheckResult `json:"results"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
}

// NewTestRunner builds the test/lint agent.
func NewTestRunner(b *bus.Bus) *Runner {
	return NewRunner("test", b, func(_ context.Context, task Task) (any, error) {
		t, ok := task.(TestTask)
		if !ok {
			return nil, fmt.Errorf("test agent: unexpected task type %T", task)
		}
		return runChecks(t), nil
	})
}

func runChecks(t TestTask) TestReport {
	report := TestReport{
		Agent:     "test",
		Timestamp: time.Now(),
		Results:   []CheckResult{},
	}

	if !t.SkipLint {
		report.Results = append(report.Results, checkEntryFile(t))
	}
	for _, f := range t.JSONFiles {
		report.Results = append(report.Results, lintJSON(f))
	}

	for _, r := range report.Results {
		if r.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report
}

// checkEntryFile verifies the declared entry file was submitted with content.
func checkEntryFile(t TestTask) CheckResult {
	entry := t.EntryFile
	if entry == "" {
		entry = "server/index.js"
	}
	for _, f := range t.Files {
		if f.Name == entry {
			if f.Content == "" {
				return CheckResult{Task: "entry-check", Passed: false, Output: "Entry file is empty: " + entry}
			}
			return CheckResult{Task: "entry-check", Passed: true, Output: "Entry file OK"}
		}
	}
	return CheckResult{Task: "entry-check", Passed: false, Output: "Entry file not found in payload: " + entry}
}

func lintJSON(f File) CheckResult {
	var v any
	if err := json.Unmarshal([]byte(f.Content), &v); err != nil {
		return CheckResult{Task: "json-lint:" + f.Name, Passed: false, Output: err.Error()}
	}
	return CheckResult{Task: "json-lint:" + f.Name, Passed: true, Output: "Valid JSON"}
}
