package birdeye

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Stream Listener: Birdeye new-listing websocket
// ---------------------------------------------------------------------------

const subscribeType = "SUBSCRIBE_TOKEN_NEW_LISTING"

// Message types that confirm the subscription; logged, never forwarded.
var ackTypes = map[string]bool{
	"WELCOME":     true,
	"ACK":         true,
	subscribeType: true,
	"SUBSCRIBED":  true,
}

// Message types that carry a new listing.
var listingTypes = map[string]bool{
	"TOKEN_NEW_LISTING":      true,
	"TOKEN_NEW_LISTING_DATA": true,
}

// Address keys inside the event data, in priority order.
var listingAddressKeys = []string{"address", "mint", "id"}

// ErrHeartbeatTimeout is returned when a ping is not answered in time.
var ErrHeartbeatTimeout = errors.New("stream: heartbeat not acknowledged")

// StreamConfig configures the new-listing stream.
type StreamConfig struct {
	URL                 string
	APIKey              string
	Origin              string
	Subprotocol         string
	MemePlatformEnabled bool
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	HandshakeTimeout    time.Duration
	BufferSize          int
}

// DefaultStreamConfig returns defaults for the public Birdeye socket.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Origin:              "https://public-api.birdeye.so",
		Subprotocol:         "echo-protocol",
		MemePlatformEnabled: true,
		BackoffInitial:      time.Second,
		BackoffMax:          60 * time.Second,
		HeartbeatInterval:   15 * time.Second,
		HeartbeatTimeout:    10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		BufferSize:          256,
	}
}

// StreamURL builds the public socket URL for an API key.
func StreamURL(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	return "wss://public-api.birdeye.so/socket/solana?x-api-key=" + apiKey
}

// StreamState is the connection state of the listener.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateBackoff
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Listing is a newly-listed token address seen on the stream.
type Listing struct {
	Address    string    `json:"address"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}

// Listener keeps a subscription to the new-listing stream alive.
type Listener struct {
	config StreamConfig
	dialer *websocket.Dialer

	state atomic.Int32

	// Stats.
	connects          atomic.Int64
	reconnects        atomic.Int64
	messagesRecv      atomic.Int64
	acks              atomic.Int64
	listings          atomic.Int64
	stalls            atomic.Int64
	heartbeatFailures atomic.Int64
}

// NewListener creates a listener. Zero durations take defaults.
func NewListener(config StreamConfig) *Listener {
	def := DefaultStreamConfig()
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = def.BackoffInitial
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = def.BackoffMax
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	if config.Subprotocol != "" {
		dialer.Subprotocols = []string{config.Subprotocol}
	}

	return &Listener{config: config, dialer: dialer}
}

// Enabled reports whether credentials for the stream are configured.
func (l *Listener) Enabled() bool {
	return l.config.URL != "" && l.config.APIKey != ""
}

// BufferSize is the recommended capacity of the output channel.
func (l *Listener) BufferSize() int {
	return l.config.BufferSize
}

// State returns the current connection state.
func (l *Listener) State() StreamState {
	return StreamState(l.state.Load())
}

func (l *Listener) setState(s StreamState) {
	l.state.Store(int32(s))
}

// Run connects, subscribes and forwards listings to out until ctx ends.
// Without credentials it logs once and returns nil so polling keeps going.
func (l *Listener) Run(ctx context.Context, out chan<- Listing) error {
	if !l.Enabled() {
		log.Error().Msg("stream: websocket URL or API key missing, running in polling-only mode")
		return nil
	}

	backoff := NewBackoff(l.config.BackoffInitial, l.config.BackoffMax)
	defer l.setState(StateDisconnected)

	for {
		err := l.session(ctx, out, backoff)
		if ctx.Err() != nil {
			return nil
		}

		l.setState(StateBackoff)
		l.reconnects.Add(1)
		delay := backoff.Next()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("stream: connection lost")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// session runs one connection from dial to failure.
func (l *Listener) session(ctx context.Context, out chan<- Listing, backoff *Backoff) error {
	l.setState(StateConnecting)
	log.Info().Str("endpoint", redactKey(l.config.URL)).Msg("stream: connecting")

	header := http.Header{}
	if l.config.Origin != "" {
		header.Set("Origin", l.config.Origin)
	}
	header.Set("x-api-key", l.config.APIKey)

	conn, _, err := l.dialer.DialContext(ctx, l.config.URL, header)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	if err := l.subscribe(conn); err != nil {
		return err
	}
	l.setState(StateSubscribed)
	l.connects.Add(1)
	backoff.Reset()
	log.Info().Bool("meme_platform", l.config.MemePlatformEnabled).Msg("stream: connected, subscription sent")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongs := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongs <- struct{}{}:
		default:
		}
		return nil
	})

	hbErr := make(chan error, 1)
	go func() {
		hbErr <- l.heartbeat(connCtx, conn, pongs)
	}()
	go func() {
		// Unblocks ReadMessage on shutdown.
		<-connCtx.Done()
		conn.Close()
	}()

	l.setState(StateStreaming)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case herr := <-hbErr:
				if herr != nil {
					return herr
				}
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("stream: closed by server: %w", err)
			}
			return fmt.Errorf("stream: read: %w", err)
		}

		l.messagesRecv.Add(1)
		listing, ok := l.handleMessage(data)
		if !ok {
			continue
		}

		if err := l.forward(ctx, out, listing); err != nil {
			return err
		}
	}
}

// forward hands a listing to the pipeline. A full channel blocks the read
// loop until a worker frees a slot; if that outlasts the heartbeat the
// connection is recycled, but the listing already read is still delivered.
func (l *Listener) forward(ctx context.Context, out chan<- Listing, listing Listing) error {
	select {
	case out <- listing:
		l.listings.Add(1)
		return nil
	default:
	}

	l.stalls.Add(1)
	log.Warn().Str("address", listing.Address).Int("capacity", cap(out)).Msg("stream: listing channel full, waiting for workers")
	select {
	case out <- listing:
		l.listings.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) subscribe(conn *websocket.Conn) error {
	req := map[string]any{
		"type":                  subscribeType,
		"meme_platform_enabled": l.config.MemePlatformEnabled,
	}
	conn.SetWriteDeadline(time.Now().Add(l.config.HeartbeatTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("stream: write subscribe: %w", err)
	}
	return nil
}

// heartbeat pings every interval and closes the connection when a pong does
// not arrive within the timeout. It exits when ctx ends.
func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) error {
	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		select {
		case <-pongs:
		default:
		}

		deadline := time.Now().Add(l.config.HeartbeatTimeout)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			l.heartbeatFailures.Add(1)
			conn.Close()
			return fmt.Errorf("stream: heartbeat ping: %w", err)
		}

		timer := time.NewTimer(l.config.HeartbeatTimeout)
		select {
		case <-pongs:
			timer.Stop()
		case <-timer.C:
			l.heartbeatFailures.Add(1)
			log.Warn().Dur("timeout", l.config.HeartbeatTimeout).Msg("stream: heartbeat timeout, forcing reconnect")
			conn.Close()
			return ErrHeartbeatTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// handleMessage extracts a listing from a raw frame. Malformed payloads,
// acknowledgements and unrelated types return false.
func (l *Listener) handleMessage(data []byte) (Listing, bool) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil || msg == nil {
		return Listing{}, false
	}

	msgType, _ := msg["type"].(string)
	if ackTypes[msgType] {
		l.acks.Add(1)
		log.Info().Str("type", msgType).Msg("stream: subscribed/ack")
		return Listing{}, false
	}
	if !listingTypes[msgType] {
		return Listing{}, false
	}

	payload, _ := msg["data"].(map[string]any)
	for _, key := range listingAddressKeys {
		if addr := token.ToString(payload[key]); addr != "" {
			return Listing{Address: addr, Type: msgType, ReceivedAt: time.Now().UTC()}, true
		}
	}
	return Listing{}, false
}

func redactKey(u string) string {
	if i := strings.Index(u, "x-api-key="); i >= 0 {
		return u[:i] + "x-api-key=***"
	}
	return u
}

// StreamStats reports listener counters.
type StreamStats struct {
	State             string `json:"state"`
	Connects          int64  `json:"connects"`
	Reconnects        int64  `json:"reconnects"`
	MessagesRecv      int64  `json:"messages_recv"`
	Acks              int64  `json:"acks"`
	Listings          int64  `json:"listings"`
	Stalls            int64  `json:"stalls"` // hand-offs that waited on a full channel
	HeartbeatFailures int64  `json:"heartbeat_failures"`
}

func (l *Listener) Stats() StreamStats {
	return StreamStats{
		State:             l.State().String(),
		Connects:          l.connects.Load(),
		Reconnects:        l.reconnects.Load(),
		MessagesRecv:      l.messagesRecv.Load(),
		Acks:              l.acks.Load(),
		Listings:          l.listings.Load(),
		Stalls:            l.stalls.Load(),
		HeartbeatFailures: l.heartbeatFailures.Load(),
	}
}
