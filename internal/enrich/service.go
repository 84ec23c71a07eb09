package enrich

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/nexus-trading/gemwatch/internal/upstream"
	"github.com/rs/zerolog/log"
)

// Lookup performs the two per-address market-data requests.
type Lookup interface {
	Overview(ctx context.Context, address string) (map[string]any, error)
	Metadata(ctx context.Context, address string) (map[string]any, error)
}

// Service turns an address into merged token metrics.
type Service struct {
	lookup Lookup
	now    func() time.Time

	// Stats.
	attempts     atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	metadataMiss atomic.Int64
}

// NewService creates an enrichment service.
func NewService(lookup Lookup) *Service {
	return &Service{lookup: lookup, now: time.Now}
}

// Enrich fetches the overview (required) and metadata (best effort) for
// address and merges them. An overview failure fails the whole call.
func (s *Service) Enrich(ctx context.Context, address string) (token.Metrics, error) {
	s.attempts.Add(1)

	ov, err := s.lookup.Overview(ctx, address)
	if err != nil {
		s.failed.Add(1)
		return token.Metrics{}, fmt.Errorf("enrich %s: %w", token.ShortAddress(address), err)
	}
	if len(ov) == 0 {
		s.failed.Add(1)
		return token.Metrics{}, fmt.Errorf("enrich %s: empty overview: %w", token.ShortAddress(address), upstream.ErrNotFound)
	}

	md, err := s.lookup.Metadata(ctx, address)
	if err != nil {
		s.metadataMiss.Add(1)
		log.Debug().
			Err(err).
			Str("address", token.ShortAddress(address)).
			Str("class", upstream.Class(err)).
			Msg("enrich: metadata unavailable, continuing with overview only")
		md = map[string]any{}
	}

	s.succeeded.Add(1)
	return token.Build(address, ov, md, s.now()), nil
}

// Stats reports enrichment counters.
type Stats struct {
	Attempts     int64 `json:"attempts"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	MetadataMiss int64 `json:"metadata_miss"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Attempts:     s.attempts.Load(),
		Succeeded:    s.succeeded.Load(),
		Failed:       s.failed.Load(),
		MetadataMiss: s.metadataMiss.Load(),
	}
}
