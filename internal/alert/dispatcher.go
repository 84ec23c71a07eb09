package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/rs/zerolog/log"
)

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 15 * time.Second

// Dispatcher sends alerts without blocking the caller. Delivery outcome
// never feeds back into pipeline state.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time

	wg sync.WaitGroup

	// Stats.
	dispatched atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
}

// NewDispatcher creates a dispatcher. timeout <= 0 uses DefaultSendTimeout.
func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, now: time.Now}
}

// Dispatch formats m and sends it in the background. Returns the alert id.
func (d *Dispatcher) Dispatch(m token.Metrics) string {
	return d.send(Format(m, d.now()), m.Label(), m.Address)
}

// Announce sends a free-form message in the background.
func (d *Dispatcher) Announce(text string) string {
	return d.send(text, "", "")
}

func (d *Dispatcher) send(text, label, address string) string {
	id := uuid.NewString()
	d.dispatched.Add(1)
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.notifier.Send(ctx, text); err != nil {
			d.failed.Add(1)
			log.Error().
				Err(err).
				Str("alert_id", id).
				Str("token", label).
				Str("address", address).
				Msg("alert: delivery failed")
			return
		}
		d.delivered.Add(1)
		log.Info().
			Str("alert_id", id).
			Str("token", label).
			Dur("latency", time.Since(start)).
			Msg("alert: delivered")
	}()
	return id
}

// Wait blocks until all in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats holds delivery counters.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
	}
}
