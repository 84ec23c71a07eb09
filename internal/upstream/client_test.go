package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig("test")
	cfg.RateRPS = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestClient_UnwrapsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		fmt.Fprint(w, `{"success":true,"data":{"liquidity":12.5,"symbol":"GEM"}}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "secret"
	c := NewClient(cfg, nil)

	obj, err := c.GetJSON(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "GEM", obj["symbol"])
	assert.Equal(t, json.Number("12.5"), obj["liquidity"])
}

func TestClient_ReturnsBareObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"pairs":[]}`)
	}))
	defer srv.Close()

	obj, err := NewClient(testConfig(), nil).GetJSON(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, obj, "pairs")
}

func TestClient_NameAndStats(t *testing.T) {
	c := NewClient(testConfig(), nil)
	assert.Equal(t, "test", c.Name())
	assert.Equal(t, "closed", c.Stats().Breaker)

	cfg := testConfig()
	cfg.BreakerMax = 0
	assert.Equal(t, "disabled", NewClient(cfg, nil).Stats().Breaker)
}

func TestClient_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, `{}`, ErrTransport},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrTransport},
		{"not found", http.StatusNotFound, `{}`, ErrNotFound},
		{"not json", http.StatusOK, `<html>`, ErrMalformed},
		{"array body", http.StatusOK, `[1,2]`, ErrMalformed},
		{"empty data", http.StatusOK, `{"data":{}}`, ErrNotFound},
		{"null data", http.StatusOK, `{"data":null}`, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(), nil).GetJSON(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClient_TransportErrorOnDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(testConfig(), nil).GetJSON(context.Background(), url)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "transport", Class(err))
}

func TestClient_BreakerOpensOnlyOnTransportFailures(t *testing.T) {
	var hits atomic.Int64
	var status atomic.Int64
	status.Store(http.StatusNotFound)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BreakerMax = 2
	cfg.BreakerTTL = time.Minute
	c := NewClient(cfg, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetJSON(ctx, srv.URL)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, "closed", c.Stats().Breaker)

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		_, err := c.GetJSON(ctx, srv.URL)
		assert.ErrorIs(t, err, ErrTransport)
	}
	assert.Equal(t, "open", c.Stats().Breaker)

	before := hits.Load()
	_, err := c.GetJSON(ctx, srv.URL)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, before, hits.Load(), "open breaker must not hit the server")
	assert.Equal(t, int64(8), c.Stats().Requests)
}

func TestClass(t *testing.T) {
	assert.Equal(t, "ok", Class(nil))
	assert.Equal(t, "malformed", Class(fmt.Errorf("x: %w", ErrMalformed)))
	assert.Equal(t, "not_found", Class(ErrNotFound))
	assert.Equal(t, "other", Class(errors.New("boom")))
	assert.False(t, IsTransient(ErrNotFound))
}
