package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
	"github.com/dragon-ia/dragond/internal/orchestrator"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server, *bus.Bus) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)

	store, err := chat.NewStore(chat.StoreConfig{Bus: b, EncryptKey: "test-key"})
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{
		Bus:       b,
		ChatStore: store,
		ScanRules: agent.DefaultScanRules(),
	})

	s := New(cfg, orch, b, nil)
	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return s, ts, b
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, url string, payload any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_Health(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["agents"], 5)
}

func TestServer_Status(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := getJSON(t, ts.URL+"/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	statuses := body["statuses"].(map[string]any)
	assert.Equal(t, "idle", statuses["repo"])
	assert.Equal(t, "idle", statuses["chat"])
}

func TestServer_Agents(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	postJSON(t, ts.URL+"/api/repo", map[string]any{"repo": "demo"})

	code, body := getJSON(t, ts.URL+"/api/agents")
	require.Equal(t, http.StatusOK, code)

	agents := body["agents"].(map[string]any)
	require.Len(t, agents, 5)
	repo := agents["repo"].(map[string]any)
	assert.Equal(t, "repo", repo["name"])
	assert.NotEmpty(t, repo["id"])
	assert.NotNil(t, repo["lastRun"])
}

func TestServer_BearerAuth(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{APIKey: "sekrit"})

	code, body := getJSON(t, ts.URL+"/api/status")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["ok"])

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// health stays open
	code, _ = getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_RunAgent(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := postJSON(t, ts.URL+"/api/repo", map[string]any{
		"repo":  "demo",
		"files": []map[string]string{{"name": "a.js", "content": "eval(x)"}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	report := body["report"].(map[string]any)
	assert.Equal(t, "repo", report["agent"])
	result := report["result"].(map[string]any)
	assert.Equal(t, float64(80), result["score"])
}

func TestServer_RunAgentUnknown(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := postJSON(t, ts.URL+"/api/ghost", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["ok"])
}

func TestServer_Analyze(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := postJSON(t, ts.URL+"/api/analyze", map[string]any{
		"files": []map[string]string{{"name": "server/index.js", "content": "const x = 1"}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	results := body["results"].(map[string]any)
	assert.Len(t, results, 4)
	for _, name := range []string{"repo", "test", "sec", "analytics"} {
		assert.Contains(t, results, name)
	}
}

func TestServer_Reports(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	postJSON(t, ts.URL+"/api/sec", map[string]any{})

	code, body := getJSON(t, ts.URL+"/api/reports")
	require.Equal(t, http.StatusOK, code)
	reports := body["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, "sec", reports[0].(map[string]any)["agent"])
}

func TestServer_Events(t *testing.T) {
	_, ts, b := newTestServer(t, Config{})

	b.Publish("agent:status", map[string]any{"agentName": "repo", "status": "running"})
	time.Sleep(50 * time.Millisecond)

	code, body := getJSON(t, ts.URL+"/api/events?limit=10")
	require.Equal(t, http.StatusOK, code)

	events := body["events"].([]any)
	require.NotEmpty(t, events)
	assert.Equal(t, "agent:status", events[0].(map[string]any)["channel"])
}

func TestServer_Dashboard(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := getJSON(t, ts.URL+"/api/dashboard")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "agentStatuses")
	assert.Contains(t, body, "recentReports")
	assert.Contains(t, body, "activeSessions")
}

func TestServer_AnalyticsEventAndReport(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, _ := postJSON(t, ts.URL+"/api/analytics/event", map[string]any{
		"type": "error",
		"data": map[string]any{"message": "synthetic"},
	})
	require.Equal(t, http.StatusOK, code)

	code, body := getJSON(t, ts.URL+"/api/analytics/report?adSafeMode=false")
	require.Equal(t, http.StatusOK, code)

	report := body["report"].(map[string]any)
	result := report["result"].(map[string]any)
	assert.Equal(t, false, result["adSafeMode"])
	assert.GreaterOrEqual(t, result["errorCount"].(float64), float64(1))
}

func TestServer_ChatMessage(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := postJSON(t, ts.URL+"/chat/message", map[string]any{
		"sessionId": "s1",
		"message":   "Hello",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "s1", body["sessionId"])
	assert.Equal(t, "[gpt-4] Echo: Hello", body["reply"])
}

func TestServer_ChatMessageValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	code, body := postJSON(t, ts.URL+"/chat/message", map[string]any{"sessionId": "s1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["ok"])

	code, _ = postJSON(t, ts.URL+"/chat/message", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_ChatSessionsAndHistory(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	postJSON(t, ts.URL+"/chat/message", map[string]any{"sessionId": "s1", "message": "Hello"})

	code, body := getJSON(t, ts.URL+"/chat/sessions")
	require.Equal(t, http.StatusOK, code)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, float64(2), sessions[0].(map[string]any)["messageCount"])

	code, body = getJSON(t, ts.URL+"/chat/history/s1")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["encrypted"])

	code, _ = getJSON(t, ts.URL+"/chat/history/ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ChatClear(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	postJSON(t, ts.URL+"/chat/message", map[string]any{"sessionId": "s1", "message": "Hello"})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/chat/sessions/s1", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RunAgentBadJSON(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{})

	resp, err := http.Post(ts.URL+"/api/repo", "application/json", bytes.NewReader([]byte("{oops")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CORSHeader(t *testing.T) {
	_, ts, _ := newTestServer(t, Config{AllowedOrigin: "https://app.example"})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
