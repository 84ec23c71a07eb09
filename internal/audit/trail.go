package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/nexus-trading/gemwatch/internal/pipeline"
)

// DefaultSize is the journal capacity used when none is configured.
const DefaultSize = 500

// Entry is one recorded pipeline decision.
type Entry struct {
	Address   string           `json:"address"`
	Token     string           `json:"token,omitempty"`
	Source    pipeline.Source  `json:"source"`
	Outcome   pipeline.Outcome `json:"outcome"`
	Check     string           `json:"check,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	AlertID   string           `json:"alert_id,omitempty"`
	Timestamp time.Time        `json:"ts"`
	ElapsedMs float64          `json:"elapsed_ms"`
}

// Trail keeps the most recent decisions that reached the enricher, oldest
// first. Skip outcomes are not recorded; they carry no information beyond
// the counters. Once the buffer is full the oldest entry is discarded.
type Trail struct {
	mu      sync.Mutex
	entries []Entry
	maxBuf  int
	dropped int64
}

// NewTrail creates a trail holding at most maxBuf entries. Non-positive
// sizes fall back to DefaultSize.
func NewTrail(maxBuf int) *Trail {
	if maxBuf <= 0 {
		maxBuf = DefaultSize
	}
	return &Trail{
		entries: make([]Entry, 0, maxBuf),
		maxBuf:  maxBuf,
	}
}

// Observe implements pipeline.Observer.
func (t *Trail) Observe(d pipeline.Decision) {
	switch d.Outcome {
	case pipeline.OutcomeAlerted, pipeline.OutcomeRejected, pipeline.OutcomeEnrichFailed:
	default:
		return
	}
	t.record(Entry{
		Address:   d.Address,
		Token:     d.Token,
		Source:    d.Source,
		Outcome:   d.Outcome,
		Check:     d.Verdict.Check,
		Reason:    d.Verdict.Reason,
		AlertID:   d.AlertID,
		Timestamp: d.At,
		ElapsedMs: float64(d.Elapsed.Microseconds()) / 1000,
	})
}

// Query returns every buffered entry for address, oldest first.
func (t *Trail) Query(address string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if strings.EqualFold(e.Address, address) {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns up to n of the newest entries, newest first. n <= 0
// returns the whole buffer.
func (t *Trail) Recent(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.entries) {
		n = len(t.entries)
	}
	result := make([]Entry, 0, n)
	for i := len(t.entries) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, t.entries[i])
	}
	return result
}

// Alerts returns the buffered alert entries, newest first.
func (t *Trail) Alerts() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Outcome == pipeline.OutcomeAlerted {
			result = append(result, t.entries[i])
		}
	}
	return result
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Dropped returns how many entries were evicted to make room.
func (t *Trail) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *Trail) record(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.maxBuf {
		// Shift left: discard oldest entry.
		copy(t.entries, t.entries[1:])
		t.entries[len(t.entries)-1] = entry
		t.dropped++
		return
	}
	t.entries = append(t.entries, entry)
}
