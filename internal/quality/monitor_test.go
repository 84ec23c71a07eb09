package quality

import (
	"testing"
	"time"

	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestMonitor() (*Monitor, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMonitor()
	m.now = c.now
	return m, c
}

func TestObserve_UpdatesStats(t *testing.T) {
	m, _ := newTestMonitor()

	m.Observe(pipeline.Decision{Source: pipeline.SourceStream, Outcome: pipeline.OutcomeRejected, Elapsed: 10 * time.Millisecond})
	m.Observe(pipeline.Decision{Source: pipeline.SourceStream, Outcome: pipeline.OutcomeEnrichFailed, Elapsed: 30 * time.Millisecond})

	snap := m.Snapshot()
	require.Contains(t, snap, pipeline.SourceStream)
	s := snap[pipeline.SourceStream]
	assert.Equal(t, int64(2), s.EventCount)
	assert.Equal(t, int64(1), s.EnrichFailures)
	assert.Equal(t, 30.0, s.MaxLatencyMs)
	assert.Equal(t, 20.0, s.AvgLatencyMs)
}

func TestCheck_StaleAfterQuietPeriod(t *testing.T) {
	m, c := newTestMonitor()
	m.Expect(pipeline.SourceStream, 10*time.Minute)

	assert.False(t, m.Check(pipeline.SourceStream).Stale)

	m.Observe(pipeline.Decision{Source: pipeline.SourceStream})
	c.t = c.t.Add(9 * time.Minute)
	assert.False(t, m.Check(pipeline.SourceStream).Stale)

	c.t = c.t.Add(2 * time.Minute)
	st := m.Check(pipeline.SourceStream)
	assert.True(t, st.Stale)
	assert.Contains(t, st.Message, "last event 11m0s ago")

	m.Observe(pipeline.Decision{Source: pipeline.SourceStream})
	assert.False(t, m.Check(pipeline.SourceStream).Stale)
}

func TestCheck_NeverProducedCountsFromExpect(t *testing.T) {
	m, c := newTestMonitor()
	m.Expect(pipeline.SourceScout, 30*time.Minute)

	c.t = c.t.Add(31 * time.Minute)
	st := m.Check(pipeline.SourceScout)
	assert.True(t, st.Stale)
	assert.Contains(t, st.Message, "since start")
}

func TestCheck_UnexpectedSourceNeverStale(t *testing.T) {
	m, c := newTestMonitor()
	m.Observe(pipeline.Decision{Source: pipeline.SourceRecheck})
	c.t = c.t.Add(24 * time.Hour)

	assert.False(t, m.Check(pipeline.SourceRecheck).Stale)
	assert.False(t, m.Check(pipeline.SourceScout).Stale)
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	m, _ := newTestMonitor()
	m.Observe(pipeline.Decision{Source: pipeline.SourceScout})

	snap := m.Snapshot()
	s := snap[pipeline.SourceScout]
	s.EventCount = 99

	assert.Equal(t, int64(1), m.Snapshot()[pipeline.SourceScout].EventCount)
}
