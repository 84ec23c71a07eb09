package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/gemwatch/internal/alert"
	"github.com/nexus-trading/gemwatch/internal/audit"
	"github.com/nexus-trading/gemwatch/internal/birdeye"
	"github.com/nexus-trading/gemwatch/internal/config"
	"github.com/nexus-trading/gemwatch/internal/dexscreener"
	"github.com/nexus-trading/gemwatch/internal/enrich"
	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/observability"
	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/nexus-trading/gemwatch/internal/quality"
	"github.com/nexus-trading/gemwatch/internal/state"
	"github.com/nexus-trading/gemwatch/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	// 2. Load configuration.
	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)
	runID := uuid.NewString()

	fc := cfg.Filter.Engine()
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("run_id", runID).
		Str("environment", cfg.General.Environment).
		Bool("stream", cfg.StreamEnabled()).
		Bool("scout", cfg.Scout.Enabled).
		Bool("recheck", cfg.Recheck.Enabled).
		Bool("telegram", cfg.Notifier().Enabled()).
		Float64("min_liquidity", fc.MinLiquidity).
		Float64("min_fdv", fc.MinFDV).
		Int64("min_buyers", fc.MinBuyers).
		Float64("min_age_min", fc.MinTokenAgeMinutes).
		Strs("greylist", fc.Greylist).
		Int("blacklist_terms", len(fc.Blacklist)).
		Msg("gemwatch: configuration loaded")

	// 3b. Validate configuration.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}
	fc = cfg.Filter.Engine()

	// 4. Upstream clients.
	birdeyeHTTP := upstream.NewClient(cfg.BirdeyeHTTP(), nil)
	dexHTTP := upstream.NewClient(cfg.DexScreenerHTTP(), nil)
	birdeyeClient := birdeye.NewClient(birdeyeHTTP, cfg.Birdeye.OverviewURL, cfg.Birdeye.MetadataURL)
	trending := dexscreener.NewClient(dexHTTP, cfg.DexScreener.TrendingURL)

	// 5. Pipeline components.
	store := state.NewStore()
	enricher := enrich.NewService(birdeyeClient)
	filterEngine := filter.NewEngine(fc)
	listener := birdeye.NewListener(cfg.StreamListener())

	notifier, err := alert.New(cfg.Notifier())
	if err != nil {
		log.Fatal().Err(err).Msg("Notifier setup failed")
	}
	dispatcher := alert.NewDispatcher(notifier, time.Duration(cfg.Telegram.SendTimeoutSeconds)*time.Second)

	metrics := observability.NewMetrics()
	journal := audit.NewTrail(cfg.HTTP.JournalSize)
	feeds := quality.NewMonitor()
	if cfg.StreamEnabled() {
		feeds.Expect(pipeline.SourceStream, time.Duration(cfg.Stream.StaleMinutes)*time.Minute)
	}
	if cfg.Scout.Enabled {
		feeds.Expect(pipeline.SourceScout, 3*time.Duration(cfg.Scout.IntervalMinutes)*time.Minute)
	}
	pipe := pipeline.New(cfg.Pipeline(), pipeline.Deps{
		Store:    store,
		Enricher: enricher,
		Filter:   filterEngine,
		Alerter:  dispatcher,
		Stream:   listener,
		Trending: trending,
		Observer: pipeline.Observers{metrics, journal, feeds},
	})
	registerMetrics(metrics, store, listener, dispatcher, birdeyeHTTP, dexHTTP)
	health := newHealthMonitor(listener, feeds, birdeyeHTTP, dexHTTP)

	// 6. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	if cfg.Telegram.Greeting {
		dispatcher.Announce(alert.Greeting(cfg.General.InstanceID))
	}

	// 7. Start services.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Pipeline stopped with error")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Start(ctx)
	}()

	if cfg.HTTP.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, cfg.HTTP.Addr, buildMux(pipe, enricher, filterEngine, listener, dispatcher, birdeyeHTTP, dexHTTP, metrics, health, journal, feeds))
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.General.StatsIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats("[STATS]", pipe, filterEngine, listener, dispatcher)
			}
		}
	}()

	log.Info().Msg("gemwatch: running")

	// 8. Block until shutdown.
	<-ctx.Done()

	// 9. Graceful shutdown.
	log.Info().Msg("gemwatch: shutting down")
	wg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Alert drain timed out")
	}
	drainCancel()

	logStats("gemwatch: final statistics", pipe, filterEngine, listener, dispatcher)
	log.Info().Msg("gemwatch: shutdown complete")
}

func logStats(msg string, pipe *pipeline.Pipeline, fe *filter.Engine, l *birdeye.Listener, d *alert.Dispatcher) {
	ps := pipe.Stats()
	fs := fe.Stats()
	ss := l.Stats()
	as := d.Stats()
	log.Info().
		Str("stream_state", ss.State).
		Int64("listings", ss.Listings).
		Int64("reconnects", ss.Reconnects).
		Int64("alerted", ps.Outcomes[pipeline.OutcomeAlerted]).
		Int64("rejected", ps.Outcomes[pipeline.OutcomeRejected]).
		Int64("enrich_failed", ps.Outcomes[pipeline.OutcomeEnrichFailed]).
		Int64("filter_checked", fs.TotalChecked).
		Float64("filter_pass_rate", fs.PassRate).
		Int("seen", ps.Seen).
		Int("watching", ps.Watching).
		Int64("alerts_delivered", as.Delivered).
		Int64("alerts_failed", as.Failed).
		Msg(msg)
}

// ---------------------------------------------------------------------------
// Metrics and health
// ---------------------------------------------------------------------------

func registerMetrics(m *observability.Metrics, store *state.Store, l *birdeye.Listener, d *alert.Dispatcher, clients ...*upstream.Client) {
	m.Gauge("state", "watching", "Addresses waiting for recheck.", func() float64 {
		return float64(store.WatchLen())
	})
	m.Gauge("state", "seen", "Addresses alerted since start.", func() float64 {
		return float64(store.Snapshot().Seen)
	})
	m.Gauge("stream", "state", "Listing stream state (0 disconnected, 1 connecting, 2 subscribed, 3 streaming, 4 backoff).", func() float64 {
		return float64(l.State())
	})
	m.Counter("stream", "listings_total", "Listings received from the stream.", func() float64 {
		return float64(l.Stats().Listings)
	})
	m.Counter("stream", "reconnects_total", "Stream reconnect attempts.", func() float64 {
		return float64(l.Stats().Reconnects)
	})
	m.Counter("stream", "stalls_total", "Listing hand-offs that waited for a free pipeline worker.", func() float64 {
		return float64(l.Stats().Stalls)
	})
	m.Counter("alert", "delivered_total", "Alerts delivered.", func() float64 {
		return float64(d.Stats().Delivered)
	})
	m.Counter("alert", "failed_total", "Alert deliveries that failed.", func() float64 {
		return float64(d.Stats().Failed)
	})
	for _, c := range clients {
		c := c
		m.Counter("upstream", c.Name()+"_requests_total", "Requests sent to "+c.Name()+".", func() float64 {
			return float64(c.Stats().Requests)
		})
		m.Counter("upstream", c.Name()+"_failures_total", "Failed requests to "+c.Name()+".", func() float64 {
			return float64(c.Stats().Failures)
		})
	}
}

func newHealthMonitor(l *birdeye.Listener, feeds *quality.Monitor, clients ...*upstream.Client) *observability.HealthMonitor {
	hm := observability.NewHealthMonitor(30 * time.Second)

	hm.Register("stream", func(context.Context) observability.ComponentHealth {
		if !l.Enabled() {
			return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "no credentials, polling only"}
		}
		st := l.State()
		h := observability.ComponentHealth{Details: map[string]any{"state": st.String()}}
		switch st {
		case birdeye.StateStreaming, birdeye.StateSubscribed:
			h.Status = observability.StatusHealthy
		default:
			h.Status = observability.StatusDegraded
			h.Message = "stream " + st.String()
		}
		return h
	})

	for _, c := range clients {
		c := c
		hm.Register(c.Name(), func(context.Context) observability.ComponentHealth {
			s := c.Stats()
			h := observability.ComponentHealth{
				Status:  observability.StatusHealthy,
				Details: map[string]any{"breaker": s.Breaker, "requests": s.Requests, "failures": s.Failures},
			}
			if s.Breaker == "open" || s.Breaker == "half-open" {
				h.Status = observability.StatusDegraded
				h.Message = "circuit " + s.Breaker
			}
			return h
		})
	}

	for _, src := range []pipeline.Source{pipeline.SourceStream, pipeline.SourceScout} {
		src := src
		hm.Register("feed:"+string(src), func(context.Context) observability.ComponentHealth {
			st := feeds.Check(src)
			if st.Stale {
				return observability.ComponentHealth{Status: observability.StatusDegraded, Message: st.Message}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}
	return hm
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func buildMux(
	pipe *pipeline.Pipeline,
	enricher *enrich.Service,
	fe *filter.Engine,
	l *birdeye.Listener,
	d *alert.Dispatcher,
	birdeyeHTTP, dexHTTP *upstream.Client,
	metrics *observability.Metrics,
	health *observability.HealthMonitor,
	journal *audit.Trail,
	feeds *quality.Monitor,
) *http.ServeMux {
	mux := http.NewServeMux()

	// ── Health ──
	mux.Handle("/health", health.Handler())

	// ── Stats ──
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"pipeline":    pipe.Stats(),
			"filter":      fe.Stats(),
			"enrich":      enricher.Stats(),
			"stream":      l.Stats(),
			"alerts":      d.Stats(),
			"birdeye":     birdeyeHTTP.Stats(),
			"dexscreener": dexHTTP.Stats(),
			"feeds":       feeds.Snapshot(),
			"journal":     map[string]any{"entries": journal.Len(), "dropped": journal.Dropped()},
		})
	})

	// ── Watch list ──
	mux.HandleFunc("/watch", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, pipe.Store().Snapshot())
	})

	// ── Decisions ──
	// ?address=<mint> filters to one token, ?limit=N caps the newest entries.
	mux.HandleFunc("/decisions", func(w http.ResponseWriter, r *http.Request) {
		if addr := r.URL.Query().Get("address"); addr != "" {
			writeJSON(w, journal.Query(addr))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		writeJSON(w, journal.Recent(limit))
	})

	// ── Metrics ──
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("HTTP server started (health + stats + metrics)")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
		log.Error().Err(srvErr).Msg("HTTP server error")
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "gemwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "gemwatch").
			Str("instance", general.InstanceID).Logger()
	}
}
