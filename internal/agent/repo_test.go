package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeRepo_NoFiles(t *testing.T) {
	report := analyzeRepo(RepoTask{Repo: "demo"})

	assert.Equal(t, "repo", report.Agent)
	assert.Equal(t, "demo", report.Repo)
	assert.Equal(t, 100, report.Score)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "info", report.Findings[0].Type)
	assert.Empty(t, report.Patches)
}

func TestAnalyzeRepo_DetectsIssues(t *testing.T) {
	report := analyzeRepo(RepoTask{
		Files: []File{
			{Name: "app.js", Content: "eval(userInput)"},
			{Name: "util.js", Content: "// TODO clean up\nconsole.log('dbg')"},
		},
	})

	assert.Equal(t, "unknown", report.Repo)
	// one critical (eval) and two warnings (TODO, console.log)
	assert.Equal(t, 100-20-5-5, report.Score)
	require.Len(t, report.Findings, 3)
	require.Len(t, report.Patches, 3)

	for _, p := range report.Patches {
		if p.File == "app.js" {
			assert.False(t, p.Automated)
		} else {
			assert.True(t, p.Automated)
		}
	}
}

func TestAnalyzeRepo_ChildProcessWarning(t *testing.T) {
	report := analyzeRepo(RepoTask{
		Files: []File{{Name: "run.js", Content: `const cp = require('child_process')`}},
	})

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "warning", report.Findings[0].Type)
	assert.Equal(t, 95, report.Score)
}

func TestAnalyzeRepo_ScoreFloorsAtZero(t *testing.T) {
	files := make([]File, 6)
	for i := range files {
		files[i] = File{Name: "f.js", Content: "eval(x)"}
	}
	report := analyzeRepo(RepoTask{Files: files})
	assert.Equal(t, 0, report.Score)
}

func TestAnalyzeRepo_SkipsUnnamedFiles(t *testing.T) {
	report := analyzeRepo(RepoTask{
		Files: []File{{Name: "", Content: "eval(x)"}},
	})
	assert.Empty(t, report.Findings)
	assert.Equal(t, 100, report.Score)
}
