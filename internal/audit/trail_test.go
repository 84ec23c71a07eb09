package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decision(addr string, outcome pipeline.Outcome) pipeline.Decision {
	return pipeline.Decision{
		Address: addr,
		Source:  pipeline.SourceStream,
		Outcome: outcome,
		At:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Elapsed: 1500 * time.Microsecond,
	}
}

func TestTrail_RecordsOnlyEvaluatedDecisions(t *testing.T) {
	tr := NewTrail(10)

	tr.Observe(decision("A", pipeline.OutcomeSkippedSeen))
	tr.Observe(decision("A", pipeline.OutcomeSkippedWatched))
	tr.Observe(decision("A", pipeline.OutcomeSkippedBusy))
	assert.Equal(t, 0, tr.Len())

	rej := decision("A", pipeline.OutcomeRejected)
	rej.Token = "Gem (GEM)"
	rej.Verdict = filter.Verdict{Check: filter.CheckLiquidity, Reason: "liquidity 10 < 50000"}
	tr.Observe(rej)
	tr.Observe(decision("B", pipeline.OutcomeEnrichFailed))

	alert := decision("A", pipeline.OutcomeAlerted)
	alert.AlertID = "id-1"
	tr.Observe(alert)

	require.Equal(t, 3, tr.Len())

	entries := tr.Query("a")
	require.Len(t, entries, 2)
	assert.Equal(t, pipeline.OutcomeRejected, entries[0].Outcome)
	assert.Equal(t, filter.CheckLiquidity, entries[0].Check)
	assert.Equal(t, "liquidity 10 < 50000", entries[0].Reason)
	assert.Equal(t, "Gem (GEM)", entries[0].Token)
	assert.Equal(t, 1.5, entries[0].ElapsedMs)
	assert.Equal(t, "id-1", entries[1].AlertID)

	alerts := tr.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "A", alerts[0].Address)
}

func TestTrail_FIFOEviction(t *testing.T) {
	tr := NewTrail(3)
	for i := 0; i < 5; i++ {
		tr.Observe(decision(fmt.Sprintf("addr-%d", i), pipeline.OutcomeRejected))
	}

	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, int64(2), tr.Dropped())
	assert.Empty(t, tr.Query("addr-0"))

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "addr-4", recent[0].Address)
	assert.Equal(t, "addr-3", recent[1].Address)

	assert.Len(t, tr.Recent(0), 3)
	assert.Len(t, tr.Recent(99), 3)
}

func TestTrail_DefaultSize(t *testing.T) {
	tr := NewTrail(0)
	assert.Equal(t, DefaultSize, tr.maxBuf)
}

func TestTrail_ImplementsObserver(t *testing.T) {
	var _ pipeline.Observer = NewTrail(1)
}
