package chat

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"
)

// persistedSession is the on-disk session record.
type persistedSession struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Model     string    `json:"model"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"createdAt"`
}

// persist writes the session map to the session file. Best-effort: failures
// are logged and never surfaced to chat callers.
func (s *Store) persist() {
	if s.persistPath == "" {
		return
	}

	s.mu.Lock()
	records := make(map[string]persistedSession, len(s.sessions))
	for id, sess := range s.sessions {
		records[id] = persistedSession{
			ID:        sess.ID,
			Role:      sess.Role,
			Model:     sess.Model,
			History:   append([]Turn(nil), sess.History...),
			CreatedAt: sess.CreatedAt,
		}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		log.Printf("[Chat] persist marshal failed: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.persistPath), 0755); err != nil {
		log.Printf("[Chat] persist mkdir failed: %v", err)
		return
	}
	tmp := s.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Printf("[Chat] persist write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, s.persistPath); err != nil {
		log.Printf("[Chat] persist rename failed: %v", err)
	}
}

// load restores sessions from the session file, if any.
func (s *Store) load() {
	if s.persistPath == "" {
		return
	}
	data, err := os.ReadFile(s.persistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Chat] session file read failed: %v", err)
		}
		return
	}

	var records map[string]persistedSession
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("[Chat] session file parse failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range records {
		if len(s.sessions) >= s.sessionCap {
			break
		}
		s.sessions[id] = &Session{
			ID:        rec.ID,
			Role:      rec.Role,
			Model:     rec.Model,
			History:   rec.History,
			CreatedAt: rec.CreatedAt,
			lastUsed:  time.Now(),
		}
	}
	if len(records) > 0 {
		log.Printf("[Chat] restored %d session(s) from %s", len(s.sessions), s.persistPath)
	}
}
