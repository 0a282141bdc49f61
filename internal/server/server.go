// Package server exposes the orchestrator over REST routes and a WebSocket
// realtime channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/audit"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
	"github.com/dragon-ia/dragond/internal/orchestrator"
)

// Config configures the Server.
type Config struct {
	Port          int
	AllowedOrigin string
	// APIKey guards /api and /chat with a bearer token when set.
	APIKey string
}

// Server is the HTTP API and realtime broadcaster.
type Server struct {
	cfg   Config
	orch  *orchestrator.Orchestrator
	bus   *bus.Bus
	audit *audit.Log

	wsMu    sync.Mutex
	wsConns map[*wsConn]bool
	unsubs  []func()

	mux *http.ServeMux
	srv *http.Server
}

// New creates the server, registers routes, and subscribes the broadcaster
// to the bus channel families it fans out.
func New(cfg Config, orch *orchestrator.Orchestrator, b *bus.Bus, auditLog *audit.Log) *Server {
	s := &Server{
		cfg:     cfg,
		orch:    orch,
		bus:     b,
		audit:   auditLog,
		wsConns: make(map[*wsConn]bool),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.mux.HandleFunc("GET /api/status", s.withAPI(s.handleStatus))
	s.mux.HandleFunc("GET /api/agents", s.withAPI(s.handleAgents))
	s.mux.HandleFunc("GET /api/dashboard", s.withAPI(s.handleDashboard))
	s.mux.HandleFunc("GET /api/reports", s.withAPI(s.handleReports))
	s.mux.HandleFunc("GET /api/events", s.withAPI(s.handleEvents))
	s.mux.HandleFunc("POST /api/analyze", s.withAPI(s.handleAnalyze))
	s.mux.HandleFunc("POST /api/analytics/event", s.withAPI(s.handleAnalyticsEvent))
	s.mux.HandleFunc("GET /api/analytics/report", s.withAPI(s.handleAnalyticsReport))
	s.mux.HandleFunc("POST /api/{agent}", s.withAPI(s.handleRunAgent))

	s.mux.HandleFunc("POST /chat/message", s.withAPI(s.handleChatMessage))
	s.mux.HandleFunc("GET /chat/sessions", s.withAPI(s.handleChatSessions))
	s.mux.HandleFunc("DELETE /chat/sessions/{sessionId}", s.withAPI(s.handleChatClear))
	s.mux.HandleFunc("GET /chat/history/{sessionId}", s.withAPI(s.handleChatHistory))

	// Broadcaster subscriptions: every event on these families is fanned
	// out to all connected clients.
	s.subscribe(agent.ChannelStatus, "status")
	s.subscribe(orchestrator.ChannelReport, "report")
	s.subscribe(orchestrator.ChannelAgentError, "agent-error")
	s.subscribe(chat.ChannelChat, "chat")

	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.mux,
	}

	log.Printf("[Server] ✅ HTTP API → http://localhost:%d", s.cfg.Port)
	log.Printf("[Server] ✅ WebSocket → ws://localhost:%d/ws", s.cfg.Port)

	go s.pingLoop(ctx)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully and drops all realtime clients.
func (s *Server) Stop() {
	s.closeAllWS()
	for _, unsub := range s.unsubs {
		unsub()
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
	}
}

// --- Middleware ---

// statusWriter captures the response code for auditing.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withAPI applies bearer auth (when configured), CORS, and request auditing.
func (s *Server) withAPI(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		}
		if s.cfg.APIKey != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.cfg.APIKey {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(sw, r)

		elapsed := time.Since(start)
		if s.audit != nil {
			s.audit.Record(audit.RequestEntry{
				Time:       start,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     sw.status,
				DurationMS: elapsed.Milliseconds(),
				Remote:     r.RemoteAddr,
			})
		}
		s.orch.Recorder().Record("request", map[string]any{
			"path":       r.URL.Path,
			"status":     sw.status,
			"durationMs": elapsed.Milliseconds(),
		})
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "agents": s.orch.AgentNames()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"ok":       true,
		"statuses": s.orch.StatusSnapshot(),
		"ts":       time.Now(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "agents": s.orch.AgentSnapshots()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orch.DashboardSnapshot())
}

func (s *Server) handleReports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"reports": s.orch.Reports()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, map[string]any{"ok": true, "events": s.bus.History(limit)})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload agent.Payload
	if err := decodeBody(r, &payload); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	results := s.orch.RunAll(r.Context(), payload)
	writeJSON(w, map[string]any{"ok": true, "results": results})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("agent")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, "body too large", http.StatusBadRequest)
		return
	}

	task, err := agent.DecodeTask(name, raw)
	if err != nil {
		if strings.Contains(err.Error(), "no task mapping") && name != "chat" {
			writeJSONError(w, "unknown agent: "+name, http.StatusNotFound)
		} else {
			writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		}
		return
	}

	report, err := s.orch.RunAgent(r.Context(), name, task)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownAgent) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "report": report})
}

func (s *Server) handleAnalyticsEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.Type == "" {
		body.Type = "event"
	}
	s.orch.Recorder().Record(body.Type, body.Data)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleAnalyticsReport(w http.ResponseWriter, r *http.Request) {
	adSafe := true
	switch strings.ToLower(r.URL.Query().Get("adSafeMode")) {
	case "false", "0", "no", "off":
		adSafe = false
	}
	report, err := s.orch.RunAgent(r.Context(), "analytics", agent.AnalyticsTask{AdSafeMode: &adSafe})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "report": report})
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
		Role      string `json:"role"`
		Model     string `json:"model"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" || body.Message == "" {
		writeJSONError(w, "sessionId and message are required", http.StatusBadRequest)
		return
	}

	report, err := s.orch.RunAgent(r.Context(), "chat", agent.ChatTask{
		SessionID: body.SessionID,
		Message:   body.Message,
		Role:      body.Role,
		Model:     body.Model,
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	reply, _ := report.Result.(chat.Reply)
	writeJSON(w, map[string]any{
		"ok":        true,
		"sessionId": reply.SessionID,
		"reply":     reply.Reply,
		"model":     reply.Model,
	})
}

func (s *Server) handleChatSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "sessions": s.orch.ChatStore().ListSessions()})
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if !s.orch.ChatStore().Clear(id) {
		writeJSONError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	encrypted, err := s.orch.ChatStore().EncryptedHistory(id)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeJSONError(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "encrypted": encrypted})
}

// --- Helpers ---

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
