package dexscreener

import (
	"context"
	"fmt"

	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/nexus-trading/gemwatch/internal/upstream"
)

// DefaultTrendingURL lists currently trending Solana pairs.
const DefaultTrendingURL = "https://api.dexscreener.com/latest/dex/tokens/trending/solana"

// Getter is the slice of upstream.Client the trending lookup needs.
type Getter interface {
	GetJSON(ctx context.Context, url string) (map[string]any, error)
}

// Client reads the trending pair list.
type Client struct {
	http Getter
	url  string
}

// NewClient creates a trending client; an empty url uses the public endpoint.
func NewClient(http Getter, url string) *Client {
	if url == "" {
		url = DefaultTrendingURL
	}
	return &Client{http: http, url: url}
}

// Trending returns base-token addresses of the first topN pairs, in rank
// order. Pairs without an address are skipped; duplicates are collapsed.
func (c *Client) Trending(ctx context.Context, topN int) ([]string, error) {
	obj, err := c.http.GetJSON(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("dexscreener trending: %w", err)
	}

	raw, present := obj["pairs"]
	if !present || raw == nil {
		return nil, nil
	}
	pairs, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("dexscreener trending: pairs is %T: %w", raw, upstream.ErrMalformed)
	}
	if topN > 0 && len(pairs) > topN {
		pairs = pairs[:topN]
	}

	seen := make(map[string]bool, len(pairs))
	addrs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		pair, ok := p.(map[string]any)
		if !ok {
			continue
		}
		addr := pairAddress(pair)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func pairAddress(pair map[string]any) string {
	if base, ok := pair["baseToken"].(map[string]any); ok {
		if addr := token.ToString(base["address"]); addr != "" {
			return addr
		}
	}
	return token.ToString(pair["tokenAddress"])
}
