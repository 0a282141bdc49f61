package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dragon-ia/dragond/internal/bus"
)

// RepoFinding is a single issue found in a submitted file.
type RepoFinding struct {
	Type    string `json:"type"` // info | warning | critical
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// Patch is a suggested fix for a finding.
type Patch struct {
	File       string `json:"file"`
	Suggestion string `json:"suggestion"`
	Automated  bool   `json:"automated"`
}

// RepoReport is the repository analyzer's result.
type RepoReport struct {
	Agent     string        `json:"agent"`
	Timestamp time.Time     `json:"timestamp"`
	Repo      string        `json:"repo"`
	Findings  []RepoFinding `json:"findings"`
	Patches   []Patch       `json:"patches"`
	Score     int           `json:"score"`
}

var (
	reConsoleLog   = regexp.MustCompile(`console\.log\s*\(`)
	reEval         = regexp.MustCompile(`eval\s*\(`)
	reChildProcess = regexp.MustCompile(`require\s*\(\s*['"]child_process['"]\s*\)`)
)

// NewRepoRunner builds the repository analysis agent.
func NewRepoRunner(b *bus.Bus) *Runner {
	return NewRunner("repo", b, func(_ context.Context, task Task) (any, error) {
		t, ok := task.(RepoTask)
		if !ok {
			return nil, fmt.Errorf("repo agent: unexpected task type %T", task)
		}
		return analyzeRepo(t), nil
	})
}

func analyzeRepo(t RepoTask) RepoReport {
	report := RepoReport{
		Agent:     "repo",
		Timestamp: time.Now(),
		Repo:      t.Repo,
		Findings:  []RepoFinding{},
		Patches:   []Patch{},
	}
	if report.Repo == "" {
		report.Repo = "unknown"
	}

	if len(t.Files) == 0 {
		report.Findings = append(report.Findings, RepoFinding{
			Type:    "info",
			Message: "No files provided for analysis.",
		})
		report.Score = scoreRepo(report.Findings)
		return report
	}

	for _, f := range t.Files {
		if f.Name == "" {
			continue
		}
		if strings.Contains(f.Content, "TODO") || strings.Contains(f.Content, "FIXME") {
			report.Findings = append(report.Findings, RepoFinding{
				Type: "warning", File: f.Name, Message: "TODO/FIXME comment found.",
			})
		}
		if reConsoleLog.MatchString(f.Content) {
			report.Findings = append(report.Findings, RepoFinding{
				Type: "warning", File: f.Name, Message: "console.log detected in production code.",
			})
		}
		if reEval.MatchString(f.Content) {
			report.Findings = append(report.Findings, RepoFinding{
				Type: "critical", File: f.Name, Message: "eval() usage detected – potential security risk.",
			})
		}
		if reChildProcess.MatchString(f.Content) {
			report.Findings = append(report.Findings, RepoFinding{
				Type: "warning", File: f.Name, Message: "child_process usage detected – review carefully.",
			})
		}
	}

	report.Patches = generatePatches(report.Findings)
	report.Score = scoreRepo(report.Findings)
	return report
}

func generatePatches(findings []RepoFinding) []Patch {
	patches := []Patch{}
	for _, f := range findings {
		if f.Type == "info" {
			continue
		}
		file := f.File
		if file == "" {
			file = "unknown"
		}
		patches = append(patches, Patch{
			File:       file,
			Suggestion: "Fix: " + f.Message,
			Automated:  f.Type != "critical",
		})
	}
	return patches
}

func scoreRepo(findings []RepoFinding) int {
	score := 100
	for _, f := range findings {
		switch f.Type {
		case "critical":
			score -= 20
		case "warning":
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
