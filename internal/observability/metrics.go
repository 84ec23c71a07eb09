package observability

import (
	"net/http"

	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gemwatch"

// Metrics holds the Prometheus collectors for the process. Each Metrics
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Processed       *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline collectors plus the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processed_total",
			Help:      "Addresses handled by the pipeline, by source and outcome.",
		}, []string{"source", "outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "rejections_total",
			Help:      "Filter rejections by check.",
		}, []string{"check"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "process_duration_seconds",
			Help:      "Time spent in one Process call, including enrichment.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.Processed,
		m.Rejections,
		m.ProcessDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Pre-create label sets so every series exists from the first scrape.
	for _, src := range []pipeline.Source{pipeline.SourceStream, pipeline.SourceScout, pipeline.SourceRecheck} {
		for _, o := range pipeline.Outcomes {
			m.Processed.WithLabelValues(string(src), string(o))
		}
	}
	for _, c := range filter.Checks {
		m.Rejections.WithLabelValues(c)
	}
	return m
}

// Observe implements pipeline.Observer.
func (m *Metrics) Observe(d pipeline.Decision) {
	m.Processed.WithLabelValues(string(d.Source), string(d.Outcome)).Inc()
	if d.Outcome == pipeline.OutcomeRejected && d.Verdict.Check != "" {
		m.Rejections.WithLabelValues(d.Verdict.Check).Inc()
	}
	m.ProcessDuration.WithLabelValues(string(d.Source)).Observe(d.Elapsed.Seconds())
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Counter registers a counter read from fn at scrape time. fn must be
// monotonic.
func (m *Metrics) Counter(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
