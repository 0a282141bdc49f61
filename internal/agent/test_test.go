package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunChecks_EntryFilePresent(t *testing.T) {
	report := runChecks(TestTask{
		Files: []File{{Name: "server/index.js", Content: "require('express')"}},
	})

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Passed)
	assert.Equal(t, "entry-check", report.Results[0].Task)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 0, report.Failed)
}

func TestRunChecks_EntryFileMissing(t *testing.T) {
	report := runChecks(TestTask{EntryFile: "main.js"})

	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Passed)
	assert.Contains(t, report.Results[0].Output, "main.js")
	assert.Equal(t, 1, report.Failed)
}

func TestRunChecks_EntryFileEmpty(t *testing.T) {
	report := runChecks(TestTask{
		EntryFile: "app.js",
		Files:     []File{{Name: "app.js", Content: ""}},
	})

	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Passed)
	assert.Contains(t, report.Results[0].Output, "empty")
}

func TestRunChecks_JSONLint(t *testing.T) {
	report := runChecks(TestTask{
		SkipLint: true,
		JSONFiles: []File{
			{Name: "package.json", Content: `{"name":"demo"}`},
			{Name: "broken.json", Content: `{oops`},
		},
	})

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Passed)
	assert.Equal(t, "json-lint:package.json", report.Results[0].Task)
	assert.False(t, report.Results[1].Passed)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
}
