package birdeye

import (
	"context"
	"fmt"
	"net/url"
)

const (
	DefaultOverviewURL = "https://public-api.birdeye.so/defi/token_overview?address="
	DefaultMetadataURL = "https://public-api.birdeye.so/defi/v3/token/meta-data/single?address="
)

// Getter is the slice of upstream.Client the lookups need.
type Getter interface {
	GetJSON(ctx context.Context, url string) (map[string]any, error)
}

// Client performs the two Birdeye lookups used for enrichment.
type Client struct {
	http        Getter
	overviewURL string
	metadataURL string
}

// NewClient creates a lookup client. Empty URLs fall back to the public API.
func NewClient(http Getter, overviewURL, metadataURL string) *Client {
	if overviewURL == "" {
		overviewURL = DefaultOverviewURL
	}
	if metadataURL == "" {
		metadataURL = DefaultMetadataURL
	}
	return &Client{http: http, overviewURL: overviewURL, metadataURL: metadataURL}
}

// Overview fetches the market overview record for address.
func (c *Client) Overview(ctx context.Context, address string) (map[string]any, error) {
	obj, err := c.http.GetJSON(ctx, c.overviewURL+url.QueryEscape(address))
	if err != nil {
		return nil, fmt.Errorf("birdeye overview: %w", err)
	}
	return obj, nil
}

// Metadata fetches the token metadata record for address.
func (c *Client) Metadata(ctx context.Context, address string) (map[string]any, error) {
	obj, err := c.http.GetJSON(ctx, c.metadataURL+url.QueryEscape(address))
	if err != nil {
		return nil, fmt.Errorf("birdeye metadata: %w", err)
	}
	return obj, nil
}
