// Package heartbeat keeps a session connection provably alive. A monitor
// periodically emits liveness frames and watches for their
// acknowledgements; a connection whose acks stop arriving is reported
// expired so the owner can tear it down.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flealive/flealive/wire"
)

// ErrExpired is returned by Run when no acknowledgement arrived within
// interval + timeout of the last one.
var ErrExpired = errors.New("heartbeat: liveness expired")

// defaultTick is the supervisor cadence; the expiry check runs at least
// this often.
const defaultTick = time.Second

// Monitor owns the heartbeat state for one connection. Create a fresh
// Monitor per connection; it is not reusable after Run returns.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	tick     time.Duration
	mids     *wire.MidGen

	mu       sync.Mutex
	lastSent time.Time
	lastAck  time.Time
	pending  map[string]struct{}
}

// NewMonitor creates a monitor with the given send interval and ack
// timeout.
func NewMonitor(interval, timeout time.Duration) *Monitor {
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		tick:     defaultTick,
		mids:     wire.NewMidGen(),
		pending:  make(map[string]struct{}),
	}
}

// Ack records an acknowledgement for a previously sent heartbeat. Acks
// whose correlation id is not pending (e.g. responses to chat sends, which
// share the same frame shape) are consumed silently.
func (m *Monitor) Ack(mid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[mid]; !ok {
		return
	}
	delete(m.pending, mid)
	m.lastAck = time.Now()
}

// LastAck returns the time of the most recent matched acknowledgement.
func (m *Monitor) LastAck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAck
}

// Run drives the heartbeat loop until ctx is cancelled or liveness
// expires. send is called with a fresh correlation id whenever a liveness
// frame is due; a send failure ends the loop with that error. After Run
// returns, no further sends happen.
func (m *Monitor) Run(ctx context.Context, send func(env *wire.Envelope) error) error {
	now := time.Now()
	m.mu.Lock()
	m.lastSent = now
	m.lastAck = now
	m.mu.Unlock()

	t := time.NewTicker(m.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		m.mu.Lock()
		due := time.Since(m.lastSent) >= m.interval
		expired := time.Since(m.lastAck) > m.interval+m.timeout
		m.mu.Unlock()

		if expired {
			return ErrExpired
		}
		if due {
			mid := m.mids.Next()
			if err := send(wire.Heartbeat(mid)); err != nil {
				return err
			}
			m.mu.Lock()
			m.lastSent = time.Now()
			m.pending[mid] = struct{}{}
			m.mu.Unlock()
		}
	}
}
