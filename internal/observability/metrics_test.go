package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()

	m.Observe(pipeline.Decision{Source: pipeline.SourceStream, Outcome: pipeline.OutcomeAlerted, Verdict: filter.Verdict{Accepted: true}, Elapsed: 20 * time.Millisecond})
	rejected := pipeline.Decision{Source: pipeline.SourceScout, Outcome: pipeline.OutcomeRejected, Verdict: filter.Verdict{Check: filter.CheckAge}, Elapsed: time.Millisecond}
	m.Observe(rejected)
	m.Observe(rejected)
	m.Observe(pipeline.Decision{Source: pipeline.SourceRecheck, Outcome: pipeline.OutcomeSkippedSeen})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Processed.WithLabelValues("stream", "alerted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Processed.WithLabelValues("scout", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Processed.WithLabelValues("recheck", "skipped_seen")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rejections.WithLabelValues("age")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Rejections.WithLabelValues("sanity")))
}

func TestMetrics_SeriesPrecreated(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 3*len(pipeline.Outcomes), testutil.CollectAndCount(m.Processed))
	assert.Equal(t, len(filter.Checks), testutil.CollectAndCount(m.Rejections))
}

func TestMetrics_FuncCollectorsAndHandler(t *testing.T) {
	m := NewMetrics()
	watching := 3.0
	m.Gauge("state", "watching", "Watch entries.", func() float64 { return watching })
	m.Counter("alert", "delivered_total", "Alerts delivered.", func() float64 { return 7 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "gemwatch_state_watching 3")
	assert.Contains(t, text, "gemwatch_alert_delivered_total 7")
	assert.Contains(t, text, `gemwatch_pipeline_processed_total{outcome="alerted",source="stream"} 0`)
	assert.Contains(t, text, "go_goroutines")
}

func TestMetrics_ImplementsObserver(t *testing.T) {
	var _ pipeline.Observer = NewMetrics()
}

// -----------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------

func staticCheck(status ComponentStatus, msg string) HealthCheck {
	return func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: msg}
	}
}

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	hm := NewHealthMonitor(time.Minute)
	hm.Register("stream", staticCheck(StatusDegraded, "backoff"))
	hm.Register("scout", staticCheck(StatusHealthy, ""))

	h := hm.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "stream", h.Components["stream"].Name)
	assert.Equal(t, "backoff", h.Components["stream"].Message)
	assert.False(t, h.Components["scout"].LastChecked.IsZero())
}

func TestHealthMonitor_EmptyIsHealthy(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewHealthMonitor(0).Check(context.Background()).Status)
}

func TestHealthMonitor_Handler(t *testing.T) {
	status := StatusHealthy
	hm := NewHealthMonitor(time.Minute)
	hm.Register("stream", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status}
	})

	rec := httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var h SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, StatusHealthy, h.Status)

	status = StatusUnhealthy
	rec = httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthMonitor_StartStopsWithContext(t *testing.T) {
	hm := NewHealthMonitor(5 * time.Millisecond)
	calls := make(chan struct{}, 16)
	hm.Register("x", func(context.Context) ComponentHealth {
		select {
		case calls <- struct{}{}:
		default:
		}
		return ComponentHealth{Status: StatusHealthy}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hm.Start(ctx) }()

	<-calls
	<-calls
	cancel()
	assert.NoError(t, <-done)
}
