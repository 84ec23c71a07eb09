package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexus-trading/gemwatch/internal/pipeline"
)

// FeedStats tracks activity for a single discovery source.
type FeedStats struct {
	Source         pipeline.Source `json:"source"`
	LastEventTime  time.Time       `json:"last_event_time"`
	EventCount     int64           `json:"event_count"`
	EnrichFailures int64           `json:"enrich_failures"`
	MaxLatencyMs   float64         `json:"max_latency_ms"`
	AvgLatencyMs   float64         `json:"avg_latency_ms"`
	StaleAfter     time.Duration   `json:"stale_after"`
	StartTime      time.Time       `json:"start_time"`

	// internal: running sum for avg calculation
	totalLatencyMs float64
}

// Status is the freshness verdict for one source.
type Status struct {
	Source  pipeline.Source `json:"source"`
	Stale   bool            `json:"stale"`
	Message string          `json:"message,omitempty"`
}

// Monitor tracks per-source activity and flags sources that have gone
// quiet for longer than their expected cadence allows.
type Monitor struct {
	mu    sync.RWMutex
	stats map[pipeline.Source]*FeedStats
	now   func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		stats: make(map[pipeline.Source]*FeedStats),
		now:   time.Now,
	}
}

// Expect registers source as one that should produce a decision at least
// every staleAfter. Sources that are never expected are tracked but never
// reported stale.
func (m *Monitor) Expect(source pipeline.Source, staleAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(source).StaleAfter = staleAfter
}

// getOrCreate returns existing stats or initializes new ones.
// Caller must hold m.mu write lock.
func (m *Monitor) getOrCreate(source pipeline.Source) *FeedStats {
	stats, ok := m.stats[source]
	if !ok {
		stats = &FeedStats{Source: source, StartTime: m.now()}
		m.stats[source] = stats
	}
	return stats
}

// Observe implements pipeline.Observer.
func (m *Monitor) Observe(d pipeline.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(d.Source)
	stats.LastEventTime = m.now()
	stats.EventCount++
	if d.Outcome == pipeline.OutcomeEnrichFailed {
		stats.EnrichFailures++
	}

	latencyMs := float64(d.Elapsed.Microseconds()) / 1000
	stats.totalLatencyMs += latencyMs
	stats.AvgLatencyMs = stats.totalLatencyMs / float64(stats.EventCount)
	if latencyMs > stats.MaxLatencyMs {
		stats.MaxLatencyMs = latencyMs
	}
}

// Check reports whether source has been quiet for longer than expected.
// A source that never produced anything counts from when it was expected.
func (m *Monitor) Check(source pipeline.Source) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Source: source}
	stats, ok := m.stats[source]
	if !ok || stats.StaleAfter <= 0 {
		return st
	}

	last := stats.LastEventTime
	if last.IsZero() {
		last = stats.StartTime
	}
	quiet := m.now().Sub(last)
	if quiet > stats.StaleAfter {
		st.Stale = true
		if stats.EventCount == 0 {
			st.Message = fmt.Sprintf("no events for %s since start", quiet.Round(time.Second))
		} else {
			st.Message = fmt.Sprintf("feed stale for >%s (last event %s ago)", stats.StaleAfter, quiet.Round(time.Second))
		}
	}
	return st
}

// Snapshot returns a copy of all current feed stats.
func (m *Monitor) Snapshot() map[pipeline.Source]FeedStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[pipeline.Source]FeedStats, len(m.stats))
	for k, v := range m.stats {
		snap[k] = *v
	}
	return snap
}
