package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Liveness is a snapshot of probe activity on the current session.
type Liveness struct {
	LastProbeAt time.Time
	LastPongAt  time.Time
	Probes      int64
	Pongs       int64
}

// Monitor sends a ping every interval while a session is subscribed. With a
// non-zero timeout it calls onTimeout once when no pong has been seen for
// longer than the timeout, then exits.
type Monitor struct {
	clock     clock.Clock
	interval  time.Duration
	timeout   time.Duration
	probe     func() error
	onTimeout func()
	logger    *slog.Logger

	mu      sync.Mutex
	started time.Time
	state   Liveness

	stop chan struct{}
	once sync.Once
}

// NewMonitor creates a Monitor. Start must be called to begin probing.
func NewMonitor(clk clock.Clock, interval, timeout time.Duration, probe func() error, onTimeout func(), logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		clock:     clk,
		interval:  interval,
		timeout:   timeout,
		probe:     probe,
		onTimeout: onTimeout,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start begins the probe loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.started = m.clock.Now()
	m.mu.Unlock()

	if m.interval <= 0 {
		return
	}

	ticker := m.clock.Ticker(m.interval)
	go m.loop(ticker)
}

// Stop ends the probe loop. It does not wait for an in-flight probe.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// RecordPong marks a pong as received.
func (m *Monitor) RecordPong(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastPongAt = at
	m.state.Pongs++
}

// Snapshot returns probe activity so far.
func (m *Monitor) Snapshot() Liveness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) loop(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			if m.expired(now) {
				m.logger.Warn("no pong within probe timeout", "timeout", m.timeout)
				if m.onTimeout != nil {
					m.onTimeout()
				}
				return
			}

			if err := m.probe(); err != nil {
				m.logger.Debug("failed to send ping", "error", err)
				continue
			}
			m.mu.Lock()
			m.state.LastProbeAt = now
			m.state.Probes++
			m.mu.Unlock()
		}
	}
}

// expired reports whether the last pong, or the start if none arrived, is
// older than the timeout.
func (m *Monitor) expired(now time.Time) bool {
	if m.timeout <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.started
	if m.state.LastPongAt.After(last) {
		last = m.state.LastPongAt
	}
	return now.Sub(last) > m.timeout
}
