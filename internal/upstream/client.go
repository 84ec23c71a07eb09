package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Upstream JSON client with rate limiting and a circuit breaker
// ---------------------------------------------------------------------------

// Config configures an upstream JSON client.
type Config struct {
	Name       string
	APIKey     string // sent as x-api-key when set
	Timeout    time.Duration
	RateRPS    float64
	RateBurst  int
	MaxBodyKB  int
	BreakerMax uint32        // consecutive failures before opening
	BreakerTTL time.Duration // open duration before half-open
}

// DefaultConfig returns sane defaults for public market-data APIs.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		Timeout:    15 * time.Second,
		RateRPS:    10,
		RateBurst:  5,
		MaxBodyKB:  2048,
		BreakerMax: 10,
		BreakerTTL: 30 * time.Second,
	}
}

// Client fetches JSON objects from an HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	requests atomic.Int64
	failures atomic.Int64
}

// NewClient creates a client. A nil httpClient gets one with config.Timeout.
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxBodyKB <= 0 {
		config.MaxBodyKB = 2048
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	var limiter *rate.Limiter
	if config.RateRPS > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateRPS), burst)
	}

	c := &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    limiter,
	}

	if config.BreakerMax > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    config.Name,
			Timeout: config.BreakerTTL,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.BreakerMax
			},
			// Only transport failures count against the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrTransport)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("upstream", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("upstream: circuit breaker state change")
			},
		})
	}

	return c
}

// Name is the upstream name used in logs and errors.
func (c *Client) Name() string { return c.config.Name }

// GetJSON issues a GET and returns the response object. A top-level "data"
// object, when present, replaces the envelope.
func (c *Client) GetJSON(ctx context.Context, url string) (map[string]any, error) {
	c.requests.Add(1)

	call := func() (any, error) { return c.get(ctx, url) }

	var (
		out any
		err error
	)
	if c.breaker != nil {
		out, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s: %w: %v", c.config.Name, ErrTransport, err)
		}
	} else {
		out, err = call()
	}
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	return out.(map[string]any), nil
}

func (c *Client) get(ctx context.Context, url string) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit wait: %w: %v", c.config.Name, ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.config.Name, err)
	}
	req.Header.Set("accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("x-api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: http: %w: %v", c.config.Name, ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.config.MaxBodyKB)*1024))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w: %v", c.config.Name, ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: HTTP %d: %w", c.config.Name, resp.StatusCode, ErrTransport)
	default:
		return nil, fmt.Errorf("%s: HTTP %d: %w", c.config.Name, resp.StatusCode, ErrNotFound)
	}

	return decodeObject(body, c.config.Name)
}

func decodeObject(body []byte, name string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w: %v", name, ErrMalformed, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: body is not an object: %w", name, ErrMalformed)
	}

	if inner, present := obj["data"]; present {
		switch d := inner.(type) {
		case map[string]any:
			if len(d) == 0 {
				return nil, fmt.Errorf("%s: empty data: %w", name, ErrNotFound)
			}
			return d, nil
		case nil:
			return nil, fmt.Errorf("%s: null data: %w", name, ErrNotFound)
		}
	}
	return obj, nil
}

// Stats reports request counters and breaker state.
type Stats struct {
	Requests int64  `json:"requests"`
	Failures int64  `json:"failures"`
	Breaker  string `json:"breaker"`
}

func (c *Client) Stats() Stats {
	state := "disabled"
	if c.breaker != nil {
		state = c.breaker.State().String()
	}
	return Stats{
		Requests: c.requests.Load(),
		Failures: c.failures.Load(),
		Breaker:  state,
	}
}
