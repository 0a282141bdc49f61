package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)

	store, err := chat.NewStore(chat.StoreConfig{Bus: b, EncryptKey: "test-key"})
	require.NoError(t, err)

	return New(Config{
		Bus:       b,
		ChatStore: store,
		ScanRules: agent.DefaultScanRules(),
	}), b
}

func TestOrchestrator_AgentSet(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	assert.ElementsMatch(t, []string{"repo", "test", "sec", "analytics", "chat"}, o.AgentNames())

	for name, state := range o.StatusSnapshot() {
		assert.Equal(t, agent.StateIdle, state, name)
	}
}

func TestOrchestrator_RunAgentStoresReport(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	report, err := o.RunAgent(context.Background(), "repo", agent.RepoTask{Repo: "demo"})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "repo", report.Agent)
	assert.False(t, report.StoredAt.IsZero())

	repoReport := report.Result.(agent.RepoReport)
	assert.Equal(t, "demo", repoReport.Repo)
	assert.Equal(t, 100, repoReport.Score)

	require.Len(t, o.Reports(), 1)
}

func TestOrchestrator_RunAgentUnknown(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.RunAgent(context.Background(), "ghost", agent.RepoTask{})
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, o.Reports())
}

func TestOrchestrator_RunAgentFailurePublishesError(t *testing.T) {
	o, b := newTestOrchestrator(t)

	var mu sync.Mutex
	var errEvents []AgentErrorEvent
	b.Subscribe(ChannelAgentError, func(ev bus.Event) {
		mu.Lock()
		errEvents = append(errEvents, ev.Payload.(AgentErrorEvent))
		mu.Unlock()
	})

	// a chat task handed to the repo agent fails the type check
	_, err := o.RunAgent(context.Background(), "repo", agent.ChatTask{})
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errEvents, 1)
	assert.Equal(t, "repo", errEvents[0].Agent)

	// failed runs store no report
	assert.Empty(t, o.Reports())
}

func TestOrchestrator_RunAllCompleteBatch(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	results := o.RunAll(context.Background(), agent.Payload{
		Repo:  "demo",
		Files: []agent.File{{Name: "server/index.js", Content: "const x = 1"}},
	})

	require.Len(t, results, 4)
	for _, name := range []string{"repo", "test", "sec", "analytics"} {
		r, ok := results[name]
		require.True(t, ok, name)
		assert.Empty(t, r.Error, name)
		assert.NotNil(t, r.Result, name)
		assert.False(t, r.StoredAt.IsZero(), name)
	}

	// every successful run is also stored
	assert.Len(t, o.Reports(), 4)
}

func TestOrchestrator_RunAllPublishesReports(t *testing.T) {
	o, b := newTestOrchestrator(t)

	var mu sync.Mutex
	var reports []Report
	b.Subscribe(ChannelReport, func(ev bus.Event) {
		mu.Lock()
		reports = append(reports, ev.Payload.(Report))
		mu.Unlock()
	})

	o.RunAll(context.Background(), agent.Payload{})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reports, 4)
}

func TestOrchestrator_ChatAgent(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	report, err := o.RunAgent(context.Background(), "chat", agent.ChatTask{
		SessionID: "s1",
		Message:   "Hello",
	})
	require.NoError(t, err)

	reply := report.Result.(chat.Reply)
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, "[gpt-4] Echo: Hello", reply.Reply)

	sessions := o.ChatStore().ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].MessageCount)
}

func TestOrchestrator_ChatFeedsRecorder(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.RunAgent(context.Background(), "chat", agent.ChatTask{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	report, err := o.RunAgent(context.Background(), "analytics", agent.AnalyticsTask{})
	require.NoError(t, err)
	analytics := report.Result.(agent.AnalyticsReport)
	assert.GreaterOrEqual(t, analytics.EventCount, 1)
}

func TestOrchestrator_DashboardSnapshot(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.RunAgent(context.Background(), "sec", agent.SecTask{})
	require.NoError(t, err)
	o.ChatStore().AppendTurn("s1", "user", "hi")

	dash := o.DashboardSnapshot()
	assert.False(t, dash.Timestamp.IsZero())
	assert.Len(t, dash.AgentStatuses, 5)
	require.Len(t, dash.RecentReports, 1)
	assert.Equal(t, "sec", dash.RecentReports[0].Agent)
	require.Len(t, dash.ActiveSessions, 1)
	assert.Equal(t, "s1", dash.ActiveSessions[0].ID)
}

func TestOrchestrator_ReportRingCap(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	for i := 0; i < maxReports+5; i++ {
		o.storeReport(Report{ID: "x", Agent: "repo", StoredAt: time.Now()})
	}
	assert.Len(t, o.Reports(), maxReports)
}
