// Package audit provides the best-effort request/event audit trail: an
// append-only JSON-lines file capped by size and rotated by truncation,
// plus an optional Redis mirror of bus events for external readers.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dragon-ia/dragond/internal/bus"
)

const (
	// DefaultMaxBytes caps the audit file before truncation.
	DefaultMaxBytes = 1 << 20 // 1 MiB

	// eventListKey is the Redis list mirroring bus events.
	eventListKey = "dragond:events"

	// eventListCap bounds the mirrored list (LTRIM window).
	eventListCap = 1000

	redisOpTimeout = 3 * time.Second
)

// RequestEntry is one audited API request.
type RequestEntry struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Remote     string    `json:"remote,omitempty"`
}

// Config configures the audit trail.
type Config struct {
	// Path is the audit file; empty disables file auditing.
	Path     string
	MaxBytes int64
	// RedisURL enables the event mirror; empty disables it.
	RedisURL string
}

// Log is the audit sink. All operations are best-effort: failures are
// logged and never propagate to request handling.
type Log struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	rdb      *redis.Client
}

// New creates the audit log. Redis being unreachable is not an error: the
// mirror is silently disabled, matching the rest of the trail's
// best-effort contract.
func New(cfg Config) *Log {
	l := &Log{path: cfg.Path, maxBytes: cfg.MaxBytes}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxBytes
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("[Audit] invalid redis URL, mirror disabled: %v", err)
			return l
		}
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = redisOpTimeout
		opts.WriteTimeout = redisOpTimeout

		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[Audit] redis unreachable, mirror disabled: %v", err)
			client.Close()
		} else {
			l.rdb = client
			log.Println("[Audit] redis event mirror enabled")
		}
	}
	return l
}

// Record appends one request entry to the audit file.
func (l *Log) Record(e RequestEntry) {
	if l.path == "" {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Audit] marshal failed: %v", err)
		return
	}
	l.append(line)
}

// MirrorEvent pushes a bus event onto the capped Redis list. Callers wire
// this as a bus subscriber; when Redis is disabled it is a no-op.
func (l *Log) MirrorEvent(ev bus.Event) {
	if l.rdb == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	pipe := l.rdb.Pipeline()
	pipe.RPush(ctx, eventListKey, data)
	pipe.LTrim(ctx, eventListKey, -eventListCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Audit] redis mirror failed: %v", err)
	}
}

// Close releases the Redis connection, if any.
func (l *Log) Close() {
	if l.rdb != nil {
		l.rdb.Close()
	}
}

// append writes one line, truncating the file first when it would exceed
// the cap. Rotation is by truncation, not file rollover.
func (l *Log) append(line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, err := os.Stat(l.path); err == nil {
		if info.Size()+int64(len(line))+1 > l.maxBytes {
			if err := os.Truncate(l.path, 0); err != nil {
				log.Printf("[Audit] truncate failed: %v", err)
			}
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
			log.Printf("[Audit] mkdir failed: %v", err)
			return
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Printf("[Audit] open failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("[Audit] write failed: %v", err)
	}
}
