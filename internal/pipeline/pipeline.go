package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/gemwatch/internal/birdeye"
	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/state"
	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/nexus-trading/gemwatch/internal/upstream"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Pipeline: stream, scout and recheck all feed addresses through Process.
// ---------------------------------------------------------------------------

// Source names where an address came from.
type Source string

const (
	SourceStream  Source = "stream"
	SourceScout   Source = "scout"
	SourceRecheck Source = "recheck"
)

// Outcome is the result of one Process call.
type Outcome string

const (
	OutcomeSkippedSeen    Outcome = "skipped_seen"
	OutcomeSkippedBusy    Outcome = "skipped_busy"
	OutcomeSkippedWatched Outcome = "skipped_watched"
	OutcomeEnrichFailed   Outcome = "enrich_failed"
	OutcomeRejected       Outcome = "rejected"
	OutcomeAlerted        Outcome = "alerted"
)

// Outcomes lists every outcome.
var Outcomes = []Outcome{
	OutcomeSkippedSeen, OutcomeSkippedBusy, OutcomeSkippedWatched,
	OutcomeEnrichFailed, OutcomeRejected, OutcomeAlerted,
}

// Enricher resolves an address to merged metrics.
type Enricher interface {
	Enrich(ctx context.Context, address string) (token.Metrics, error)
}

// Evaluator applies the filter checks.
type Evaluator interface {
	Evaluate(m token.Metrics, now time.Time, history filter.AlertHistory) filter.Verdict
}

// Alerter sends an alert without blocking.
type Alerter interface {
	Dispatch(m token.Metrics) string
}

// ListingSource produces new-listing events until ctx is done.
type ListingSource interface {
	Run(ctx context.Context, out chan<- birdeye.Listing) error
	BufferSize() int
}

// TrendingSource returns currently trending addresses in rank order.
type TrendingSource interface {
	Trending(ctx context.Context, topN int) ([]string, error)
}

// Decision describes one finished Process call.
type Decision struct {
	Address string         `json:"address"`
	Token   string         `json:"token,omitempty"`
	Source  Source         `json:"source"`
	Outcome Outcome        `json:"outcome"`
	Verdict filter.Verdict `json:"verdict"`
	AlertID string         `json:"alert_id,omitempty"`
	At      time.Time      `json:"ts"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Observer receives one Decision per Process.
type Observer interface {
	Observe(d Decision)
}

// Observers fans a Decision out to several observers.
type Observers []Observer

func (obs Observers) Observe(d Decision) {
	for _, o := range obs {
		if o != nil {
			o.Observe(d)
		}
	}
}

// RecheckConfig controls re-evaluation of rejected addresses.
type RecheckConfig struct {
	Enabled  bool
	Delay    time.Duration
	Tick     time.Duration
	WatchTTL time.Duration // 0 keeps watch entries until alerted; must exceed Delay
}

// Active reports whether the recheck scheduler runs at all.
func (c RecheckConfig) Active() bool { return c.Enabled && c.Delay > 0 }

// ScoutConfig controls the trending poller.
type ScoutConfig struct {
	Enabled  bool
	Interval time.Duration
	TopN     int
}

// Config configures the pipeline.
type Config struct {
	Recheck RecheckConfig
	Scout   ScoutConfig
	// Goroutines draining the stream channel.
	StreamWorkers int
}

// DefaultConfig mirrors the stock settings: recheck and scout off.
func DefaultConfig() Config {
	return Config{
		Recheck:       RecheckConfig{Tick: 10 * time.Second},
		Scout:         ScoutConfig{Interval: 10 * time.Minute, TopN: 50},
		StreamWorkers: 4,
	}
}

// Deps are the collaborators the pipeline drives. Stream, Trending and
// Observer may be nil.
type Deps struct {
	Store    *state.Store
	Enricher Enricher
	Filter   Evaluator
	Alerter  Alerter
	Stream   ListingSource
	Trending TrendingSource
	Observer Observer
}

// Pipeline owns the address state and runs the discovery tasks.
type Pipeline struct {
	config Config
	deps   Deps
	store  *state.Store
	now    func() time.Time

	sup atomic.Pointer[Supervisor]

	// Stats.
	outcomes    map[Outcome]*atomic.Int64 // fixed keys, read-only map
	scoutRuns   atomic.Int64
	scoutErrors atomic.Int64
	recheckRuns atomic.Int64
	pruned      atomic.Int64
}

// New creates a pipeline. A nil Store gets a fresh one.
func New(config Config, deps Deps) *Pipeline {
	def := DefaultConfig()
	if config.Recheck.Tick <= 0 {
		config.Recheck.Tick = def.Recheck.Tick
	}
	if config.Scout.Interval <= 0 {
		config.Scout.Interval = def.Scout.Interval
	}
	if config.Scout.TopN <= 0 {
		config.Scout.TopN = def.Scout.TopN
	}
	if config.StreamWorkers <= 0 {
		config.StreamWorkers = 1
	}
	if deps.Store == nil {
		deps.Store = state.NewStore()
	}

	outcomes := make(map[Outcome]*atomic.Int64, len(Outcomes))
	for _, o := range Outcomes {
		outcomes[o] = &atomic.Int64{}
	}

	return &Pipeline{
		config:   config,
		deps:     deps,
		store:    deps.Store,
		now:      time.Now,
		outcomes: outcomes,
	}
}

// Store returns the pipeline's address state.
func (p *Pipeline) Store() *state.Store { return p.store }

// Process runs one address through skip checks, enrichment and the filter,
// then either alerts or parks it in the watch map.
func (p *Pipeline) Process(ctx context.Context, address string, source Source) Outcome {
	start := time.Now()
	d := Decision{Address: address, Source: source}
	d.Outcome = p.process(ctx, address, source, &d)

	p.outcomes[d.Outcome].Add(1)
	if p.deps.Observer != nil {
		d.Elapsed = time.Since(start)
		if d.At.IsZero() {
			d.At = p.now()
		}
		p.deps.Observer.Observe(d)
	}
	return d.Outcome
}

func (p *Pipeline) process(ctx context.Context, address string, source Source, d *Decision) Outcome {
	if p.store.Seen(address) {
		return OutcomeSkippedSeen
	}
	// Watched addresses belong to the recheck scheduler while it runs.
	if source != SourceRecheck && p.config.Recheck.Active() && p.store.Watching(address) {
		return OutcomeSkippedWatched
	}
	if !p.store.Claim(address) {
		return OutcomeSkippedBusy
	}
	defer p.store.Release(address)

	// Another worker may have alerted between the first check and Claim.
	if p.store.Seen(address) {
		return OutcomeSkippedSeen
	}

	m, err := p.deps.Enricher.Enrich(ctx, address)
	if err != nil {
		ev := log.Debug()
		if !errors.Is(err, upstream.ErrNotFound) && ctx.Err() == nil {
			ev = log.Warn()
		}
		ev.Err(err).
			Str("address", token.ShortAddress(address)).
			Str("source", string(source)).
			Str("class", upstream.Class(err)).
			Msg("pipeline: enrichment failed")
		return OutcomeEnrichFailed
	}

	now := p.now()
	d.At = now
	d.Token = m.Label()
	d.Verdict = p.deps.Filter.Evaluate(m, now, p.store)
	if !d.Verdict.Accepted {
		if p.config.Recheck.Active() && p.store.Watch(address, now) {
			log.Debug().
				Str("token", m.Label()).
				Str("source", string(source)).
				Str("check", d.Verdict.Check).
				Msg("pipeline: watching for recheck")
		}
		return OutcomeRejected
	}

	p.store.MarkAlerted(address, now)
	id := p.deps.Alerter.Dispatch(m)
	d.AlertID = id

	log.Info().
		Str("alert_id", id).
		Str("token", m.Label()).
		Str("address", address).
		Str("source", string(source)).
		Float64("liquidity", m.Liquidity).
		Float64("fdv", m.FDV).
		Int64("buyers", m.Buyers).
		Msg("pipeline: ALERT")
	return OutcomeAlerted
}

// Run starts every discovery task under one supervisor and blocks until
// ctx is cancelled or a task fails.
func (p *Pipeline) Run(ctx context.Context) error {
	sup := NewSupervisor(ctx)
	p.sup.Store(sup)

	if p.deps.Stream != nil {
		listings := make(chan birdeye.Listing, p.deps.Stream.BufferSize())
		sup.Go("stream", func(ctx context.Context) error {
			return p.deps.Stream.Run(ctx, listings)
		})
		for i := 0; i < p.config.StreamWorkers; i++ {
			sup.Go("stream-worker", func(ctx context.Context) error {
				return p.consume(ctx, listings)
			})
		}
	}
	sup.Go("scout", p.RunScout)
	sup.Go("recheck", p.RunRecheck)
	sup.Go("watch-prune", p.runPrune)

	log.Info().
		Bool("stream", p.deps.Stream != nil).
		Bool("scout", p.config.Scout.Enabled).
		Bool("recheck", p.config.Recheck.Active()).
		Msg("pipeline: running")

	err := sup.Wait()
	log.Info().Err(err).Msg("pipeline: stopped")
	return err
}

// consume drains stream listings until ctx is done.
func (p *Pipeline) consume(ctx context.Context, listings <-chan birdeye.Listing) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-listings:
			p.Process(ctx, l.Address, SourceStream)
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats holds pipeline counters.
type Stats struct {
	Outcomes    map[Outcome]int64 `json:"outcomes"`
	ScoutRuns   int64             `json:"scout_runs"`
	ScoutErrors int64             `json:"scout_errors"`
	RecheckRuns int64             `json:"recheck_runs"`
	Pruned      int64             `json:"watch_pruned"`
	Seen        int               `json:"seen"`
	Watching    int               `json:"watching"`
	InFlight    int               `json:"in_flight"`
	Tasks       map[string]string `json:"tasks,omitempty"`
}

func (p *Pipeline) Stats() Stats {
	outcomes := make(map[Outcome]int64, len(p.outcomes))
	for o, c := range p.outcomes {
		outcomes[o] = c.Load()
	}
	snap := p.store.Snapshot()

	var tasks map[string]string
	if sup := p.sup.Load(); sup != nil {
		tasks = sup.Tasks()
	}

	return Stats{
		Outcomes:    outcomes,
		ScoutRuns:   p.scoutRuns.Load(),
		ScoutErrors: p.scoutErrors.Load(),
		RecheckRuns: p.recheckRuns.Load(),
		Pruned:      p.pruned.Load(),
		Seen:        snap.Seen,
		Watching:    snap.Watching,
		InFlight:    snap.InFlight,
		Tasks:       tasks,
	}
}
