package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// pruneInterval is how often stale watch entries are swept.
const pruneInterval = time.Minute

// RunRecheck re-evaluates watched addresses once Recheck.Delay has passed
// since they were added or last checked.
func (p *Pipeline) RunRecheck(ctx context.Context) error {
	if !p.config.Recheck.Active() {
		log.Info().Msg("recheck: disabled")
		return nil
	}

	log.Info().
		Dur("delay", p.config.Recheck.Delay).
		Dur("tick", p.config.Recheck.Tick).
		Msg("recheck: scheduler started")

	ticker := time.NewTicker(p.config.Recheck.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.recheckOnce(ctx)
		}
	}
}

func (p *Pipeline) recheckOnce(ctx context.Context) {
	due := p.store.DueForRecheck(p.now(), p.config.Recheck.Delay)
	if len(due) == 0 {
		return
	}
	p.recheckRuns.Add(1)

	alerted := 0
	for _, addr := range due {
		if ctx.Err() != nil {
			return
		}
		if p.Process(ctx, addr, SourceRecheck) == OutcomeAlerted {
			alerted++
		}
	}
	log.Debug().
		Int("due", len(due)).
		Int("alerted", alerted).
		Int("watching", p.store.WatchLen()).
		Msg("recheck: pass complete")
}

// pruneTTL is the effective watch TTL. Pruning is off unless recheck runs
// and the TTL leaves room for at least one recheck.
func (p *Pipeline) pruneTTL() time.Duration {
	rc := p.config.Recheck
	if !rc.Active() || rc.WatchTTL <= rc.Delay {
		return 0
	}
	return rc.WatchTTL
}

// runPrune drops watch entries older than Recheck.WatchTTL.
func (p *Pipeline) runPrune(ctx context.Context) error {
	ttl := p.pruneTTL()
	if ttl <= 0 {
		if p.config.Recheck.Active() && p.config.Recheck.WatchTTL > 0 {
			log.Warn().
				Dur("ttl", p.config.Recheck.WatchTTL).
				Dur("delay", p.config.Recheck.Delay).
				Msg("recheck: watch ttl not above recheck delay, pruning disabled")
		}
		return nil
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pruneOnce(ttl)
		}
	}
}

func (p *Pipeline) pruneOnce(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if n := p.store.PruneWatch(p.now(), ttl); n > 0 {
		p.pruned.Add(int64(n))
		log.Info().Int("removed", n).Dur("ttl", ttl).Msg("recheck: pruned stale watch entries")
	}
}
