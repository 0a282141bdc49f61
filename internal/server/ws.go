package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/bus"
)

const (
	wsReadDeadline = 90 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WriteJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) WriteCloseSafe(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text))
}

// wsMessage is the server→client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// subscribe registers a server-level bus handler that fans events out to
// every connected client under the given frame type.
func (s *Server) subscribe(channel, frameType string) {
	unsub := s.bus.Subscribe(channel, func(ev bus.Event) {
		s.broadcast(wsMessage{Type: frameType, Payload: ev.Payload})
	})
	s.unsubs = append(s.unsubs, unsub)
}

// broadcast sends a frame to every connected client, dropping dead ones.
func (s *Server) broadcast(msg wsMessage) {
	s.wsMu.Lock()
	conns := make([]*wsConn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()

	var dead []*wsConn
	for _, c := range conns {
		if err := c.WriteJSONSafe(msg); err != nil {
			dead = append(dead, c)
		}
	}
	s.dropConns(dead)
}

// handleWS upgrades the connection and serves the realtime protocol.
//
// Protocol:
//
//	server → client: {"type": "connected"|"status"|"report"|"agent-error"|"chat"|"pong", "payload": {...}}
//	client → server: {"type": "run-all", "payload": {...}}
//	client → server: {"type": "chat", "sessionId": "...", "message": "...", "options": {...}}
//	client → server: {"type": "ping"}
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] ⚠️ Upgrade failed: %v", err)
		return
	}

	conn := &wsConn{Conn: raw}
	clientID := uuid.NewString()
	log.Printf("[WS] 🔗 Client connected: %s", clientID)

	s.wsMu.Lock()
	s.wsConns[conn] = true
	s.wsMu.Unlock()

	defer func() {
		raw.Close()
		s.wsMu.Lock()
		delete(s.wsConns, conn)
		s.wsMu.Unlock()
		log.Printf("[WS] 🔌 Client disconnected: %s", clientID)
	}()

	// Joining clients get the current statuses immediately.
	conn.WriteJSONSafe(map[string]any{
		"type":     "connected",
		"clientId": clientID,
		"statuses": s.orch.StatusSnapshot(),
	})

	raw.SetReadDeadline(time.Now().Add(wsReadDeadline))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		_, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] ⚠️ Error: %v", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(wsReadDeadline))
		s.handleClientMessage(conn, clientID, message)
	}
}

// clientCommand is the client→server frame. Malformed or unrecognized
// commands are dropped; the connection stays open.
type clientCommand struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"sessionId"`
	Message   string          `json:"message"`
	Options   struct {
		Role  string `json:"role"`
		Model string `json:"model"`
	} `json:"options"`
}

func (s *Server) handleClientMessage(conn *wsConn, clientID string, raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Printf("[WS] dropping malformed command from %s: %v", clientID, err)
		return
	}

	switch cmd.Type {
	case "run-all":
		var payload agent.Payload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
				log.Printf("[WS] dropping run-all with bad payload from %s: %v", clientID, err)
				return
			}
		}
		go s.orch.RunAll(context.Background(), payload)

	case "chat":
		sessionID := cmd.SessionID
		if sessionID == "" {
			sessionID = clientID
		}
		go func() {
			_, err := s.orch.RunAgent(context.Background(), "chat", agent.ChatTask{
				SessionID: sessionID,
				Message:   cmd.Message,
				Role:      cmd.Options.Role,
				Model:     cmd.Options.Model,
			})
			if err != nil {
				log.Printf("[WS] chat command failed: %v", err)
			}
		}()

	case "ping":
		conn.WriteJSONSafe(wsMessage{Type: "pong"})

	default:
		log.Printf("[WS] dropping unknown command %q from %s", cmd.Type, clientID)
	}
}

// pingLoop keeps connections alive and reaps dead ones.
func (s *Server) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsMu.Lock()
			conns := make([]*wsConn, 0, len(s.wsConns))
			for c := range s.wsConns {
				conns = append(conns, c)
			}
			s.wsMu.Unlock()

			var dead []*wsConn
			for _, c := range conns {
				if err := c.WritePing(); err != nil {
					dead = append(dead, c)
				}
			}
			s.dropConns(dead)
		}
	}
}

func (s *Server) dropConns(dead []*wsConn) {
	if len(dead) == 0 {
		return
	}
	s.wsMu.Lock()
	for _, c := range dead {
		delete(s.wsConns, c)
		c.Close()
	}
	s.wsMu.Unlock()
}

// closeAllWS closes all WebSocket connections (called on shutdown).
func (s *Server) closeAllWS() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for c := range s.wsConns {
		c.WriteCloseSafe(websocket.CloseGoingAway, "server shutdown")
		c.Close()
		delete(s.wsConns, c)
	}
}

// WSConnectionCount returns the number of active WebSocket connections.
func (s *Server) WSConnectionCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsConns)
}
