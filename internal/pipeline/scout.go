package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunScout polls the trending list immediately and then every
// Scout.Interval. Fetch errors are logged; the loop only ends with ctx.
func (p *Pipeline) RunScout(ctx context.Context) error {
	if !p.config.Scout.Enabled || p.deps.Trending == nil {
		log.Info().Msg("scout: disabled")
		return nil
	}

	log.Info().
		Dur("interval", p.config.Scout.Interval).
		Int("top_n", p.config.Scout.TopN).
		Msg("scout: polling trending pairs")

	ticker := time.NewTicker(p.config.Scout.Interval)
	defer ticker.Stop()

	for {
		p.scoutOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) scoutOnce(ctx context.Context) {
	p.scoutRuns.Add(1)

	addrs, err := p.deps.Trending.Trending(ctx, p.config.Scout.TopN)
	if err != nil {
		if ctx.Err() == nil {
			p.scoutErrors.Add(1)
			log.Warn().Err(err).Msg("scout: trending fetch failed")
		}
		return
	}

	counts := make(map[Outcome]int)
	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}
		counts[p.Process(ctx, addr, SourceScout)]++
	}

	log.Debug().
		Int("pairs", len(addrs)).
		Int("alerted", counts[OutcomeAlerted]).
		Int("rejected", counts[OutcomeRejected]).
		Int("skipped", counts[OutcomeSkippedSeen]+counts[OutcomeSkippedWatched]+counts[OutcomeSkippedBusy]).
		Msg("scout: pass complete")
}
