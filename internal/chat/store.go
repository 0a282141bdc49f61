// Package chat implements the session store: per-session encrypted history,
// LLM delegation with a deterministic offline fallback, and best-effort
// persistence after each turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/providers"
)

const (
	// DefaultModel is assigned to sessions that never picked one.
	DefaultModel = "gpt-4"

	// historyCap bounds each session's retained history (sliding window).
	historyCap = 100

	// historyWindow bounds how many trailing turns are sent to the backend.
	historyWindow = 20

	// DefaultSessionCap bounds live sessions; least-recently-used sessions
	// are evicted when full.
	DefaultSessionCap = 256
)

// ErrSessionNotFound is returned for history lookups on unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// ChannelChat is the bus channel carrying completed chat turns.
const ChannelChat = "chat"

// Turn is one message in a session's history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Session is a chat conversation's identity and bounded history.
type Session struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Model     string    `json:"model"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"createdAt"`

	lastUsed time.Time
}

// Summary is the content-free session view used by dashboards.
type Summary struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Model        string `json:"model"`
	MessageCount int    `json:"messageCount"`
}

// Options tune a single chat call.
type Options struct {
	Role  string
	Model string
}

// Reply is the result of one chat call.
type Reply struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Model     string `json:"model"`
}

// ChatEvent is published on ChannelChat after each completed turn.
type ChatEvent struct {
	SessionID      string `json:"sessionId"`
	UserMessage    string `json:"userMessage"`
	AssistantReply string `json:"assistantReply"`
	Model          string `json:"model"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Bus        *bus.Bus
	Provider   providers.LLMProvider
	EncryptKey string
	// PersistPath is the best-effort session file; empty disables persistence.
	PersistPath string
	SessionCap  int
}

// Store owns all live chat sessions.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	bus         *bus.Bus
	provider    providers.LLMProvider
	cipher      *Cipher
	persistPath string
	sessionCap  int
}

// NewStore creates the session store, reloading the session file if present.
func NewStore(cfg StoreConfig) (*Store, error) {
	cipher, err := NewCipher(cfg.EncryptKey)
	if err != nil {
		return nil, fmt.Errorf("chat store: %w", err)
	}
	cap := cfg.SessionCap
	if cap < 1 {
		cap = DefaultSessionCap
	}
	s := &Store{
		sessions:    make(map[string]*Session),
		bus:         cfg.Bus,
		provider:    cfg.Provider,
		cipher:      cipher,
		persistPath: cfg.PersistPath,
		sessionCap:  cap,
	}
	s.load()
	return s, nil
}

// GetOrCreate returns the session for id, creating it lazily. A new session
// may evict the least-recently-used one when the store is full.
func (s *Store) GetOrCreate(sessionID, role string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID, role)
}

func (s *Store) getOrCreateLocked(sessionID, role string) *Session {
	if sess, ok := s.sessions[sessionID]; ok {
		sess.lastUsed = time.Now()
		return sess
	}

	if len(s.sessions) >= s.sessionCap {
		s.evictOldestLocked()
	}

	if role == "" {
		role = "user"
	}
	sess := &Session{
		ID:        sessionID,
		Role:      role,
		Model:     DefaultModel,
		CreatedAt: time.Now(),
		lastUsed:  time.Now(),
	}
	s.sessions[sessionID] = sess
	return sess
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.lastUsed.Before(oldest) {
			oldestID = id
			oldest = sess.lastUsed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		log.Printf("[Chat] evicted idle session %s", oldestID)
	}
}

// AppendTurn appends one history entry, dropping the oldest entries past
// the retention cap.
func (s *Store) AppendTurn(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(sessionID, "")
	appendTurnLocked(sess, role, content)
}

func appendTurnLocked(sess *Session, role, content string) {
	sess.History = append(sess.History, Turn{Role: role, Content: content, Timestamp: time.Now()})
	if len(sess.History) > historyCap {
		sess.History = sess.History[len(sess.History)-historyCap:]
	}
	sess.lastUsed = time.Now()
}

// Chat runs one conversation turn. The backend's failure is never surfaced:
// an offline echo reply is substituted so the caller always gets a reply.
func (s *Store) Chat(ctx context.Context, sessionID, message string, opts Options) Reply {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	sess := s.getOrCreateLocked(sessionID, opts.Role)
	if opts.Model != "" {
		sess.Model = opts.Model
	}
	model := sess.Model
	window := historyMessages(sess, historyWindow)
	s.mu.Unlock()

	reply := s.callBackend(ctx, model, window, message)

	s.mu.Lock()
	appendTurnLocked(sess, "user", message)
	appendTurnLocked(sess, "assistant", reply)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(ChannelChat, ChatEvent{
			SessionID:      sessionID,
			UserMessage:    message,
			AssistantReply: reply,
			Model:          model,
		})
	}
	s.persist()

	return Reply{SessionID: sessionID, Reply: reply, Model: model}
}

func historyMessages(sess *Session, n int) []providers.Message {
	start := 0
	if len(sess.History) > n {
		start = len(sess.History) - n
	}
	out := make([]providers.Message, 0, len(sess.History)-start)
	for _, t := range sess.History[start:] {
		out = append(out, providers.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func (s *Store) callBackend(ctx context.Context, model string, window []providers.Message, message string) string {
	if s.provider != nil {
		msgs := append(window, providers.Message{Role: "user", Content: message})
		resp, err := s.provider.Chat(ctx, providers.ChatRequest{Messages: msgs, Model: model})
		if err == nil {
			return resp.Content
		}
		if !errors.Is(err, providers.ErrNotConfigured) {
			log.Printf("[Chat] backend error, falling back to echo: %v", err)
		}
	}
	return fmt.Sprintf("[%s] Echo: %s", model, message)
}

// EncryptedHistory serializes and encrypts a session's history.
func (s *Store) EncryptedHistory(sessionID string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var history []Turn
	if ok {
		history = append(history, sess.History...)
	}
	s.mu.Unlock()

	if !ok {
		return "", ErrSessionNotFound
	}
	plain, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	return s.cipher.Encrypt(plain)
}

// Decrypt reverses EncryptedHistory, yielding the exact turn sequence.
func (s *Store) Decrypt(blob string) ([]Turn, error) {
	plain, err := s.cipher.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var history []Turn
	if err := json.Unmarshal(plain, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

// Clear removes a session. It reports whether the session existed.
func (s *Store) Clear(sessionID string) bool {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		s.persist()
	}
	return ok
}

// ListSessions returns content-free summaries of every live session.
func (s *Store) ListSessions() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			ID:           sess.ID,
			Role:         sess.Role,
			Model:        sess.Model,
			MessageCount: len(sess.History),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
