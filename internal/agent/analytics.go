package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dragon-ia/dragond/internal/bus"
)

// maxRecordedEvents bounds the recorder's in-memory event window.
const maxRecordedEvents = 1000

type recordedEvent struct {
	Type string
	Data map[string]any
	At   time.Time
}

// Recorder accumulates process events (requests, errors, chat turns) for the
// analytics agent. It is shared with the HTTP layer, which records each
// request through it.
type Recorder struct {
	mu      sync.Mutex
	events  []recordedEvent
	started time.Time
}

// NewRecorder creates a recorder with the process start stamped now.
func NewRecorder() *Recorder {
	return &Recorder{started: time.Now()}
}

// Record appends an event, evicting the oldest once the window is full.
func (r *Recorder) Record(eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data, At: time.Now()})
	if len(r.events) > maxRecordedEvents {
		r.events = r.events[1:]
	}
}

// ErrorSummary is one aggregated error line in the analytics report.
type ErrorSummary struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// AnalyticsReport is the analytics agent's result.
type AnalyticsReport struct {
	Agent              string         `json:"agent"`
	Timestamp          time.Time      `json:"timestamp"`
	UptimeMS           int64          `json:"uptimeMs"`
	UptimeHuman        string         `json:"uptimeHuman"`
	EventCount         int            `json:"eventCount"`
	ErrorCount         int            `json:"errorCount"`
	PerformanceMetrics map[string]any `json:"performanceMetrics"`
	TopErrors          []ErrorSummary `json:"topErrors"`
	AdSafeMode         bool           `json:"adSafeMode"`
}

// NewAnalyticsRunner builds the analytics agent over the shared recorder.
func NewAnalyticsRunner(b *bus.Bus, rec *Recorder) *Runner {
	return NewRunner("analytics", b, func(_ context.Context, task Task) (any, error) {
		t, ok := task.(AnalyticsTask)
		if !ok {
			return nil, fmt.Errorf("analytics agent: unexpected task type %T", task)
		}
		return rec.report(t), nil
	})
}

func (r *Recorder) report(t AnalyticsTask) AnalyticsReport {
	r.mu.Lock()
	events := make([]recordedEvent, len(r.events))
	copy(events, r.events)
	started := r.started
	r.mu.Unlock()

	now := time.Now()
	uptime := now.Sub(started)

	errorCount := 0
	errorMap := map[string]int{}
	for _, e := range events {
		if e.Type != "error" {
			continue
		}
		errorCount++
		msg, _ := e.Data["message"].(string)
		if msg == "" {
			msg = "unknown"
		}
		errorMap[msg]++
	}

	metrics := t.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	adSafe := true
	if t.AdSafeMode != nil {
		adSafe = *t.AdSafeMode
	}

	return AnalyticsReport{
		Agent:              "analytics",
		Timestamp:          now,
		UptimeMS:           uptime.Milliseconds(),
		UptimeHuman:        formatUptime(uptime),
		EventCount:         len(events),
		ErrorCount:         errorCount,
		PerformanceMetrics: metrics,
		TopErrors:          topErrors(errorMap),
		AdSafeMode:         adSafe,
	}
}

func formatUptime(d time.Duration) string {
	s := int64(d.Seconds())
	return fmt.Sprintf("%dh %dm %ds", s/3600, (s/60)%60, s%60)
}

func topErrors(errorMap map[string]int) []ErrorSummary {
	out := make([]ErrorSummary, 0, len(errorMap))
	for msg, count := range errorMap {
		out = append(out, ErrorSummary{Message: msg, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
