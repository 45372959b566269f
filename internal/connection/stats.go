package connection

import (
	"log/slog"
	"sync"
	"time"
)

// DurationHistory is the number of session durations kept.
const DurationHistory = 10

// Stats contains connection counters.
type Stats struct {
	Opens                 int64
	Reconnects            int64
	Rotations             int64
	MessagesReceived      int64
	DataMessagesProcessed int64
	Errors                int64
	AuthRejections        int64
	Durations             []time.Duration // Oldest first
}

// StatsCollector accumulates counters and the last DurationHistory session
// durations. It has no effect on control flow.
type StatsCollector struct {
	minSession time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	stats     Stats
	durations [DurationHistory]time.Duration
	next      int
	filled    int
}

// NewStatsCollector creates a collector. Sessions shorter than minSession are
// logged as suspicious.
func NewStatsCollector(minSession time.Duration, logger *slog.Logger) *StatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsCollector{minSession: minSession, logger: logger}
}

func (c *StatsCollector) Opened() { c.add(func(s *Stats) { s.Opens++ }) }
func (c *StatsCollector) Reconnected() { c.add(func(s *Stats) { s.Reconnects++ }) }
func (c *StatsCollector) Rotated() { c.add(func(s *Stats) { s.Rotations++ }) }
func (c *StatsCollector) Received() { c.add(func(s *Stats) { s.MessagesReceived++ }) }
func (c *StatsCollector) Processed() { c.add(func(s *Stats) { s.DataMessagesProcessed++ }) }
func (c *StatsCollector) Failed() { c.add(func(s *Stats) { s.Errors++ }) }
func (c *StatsCollector) AuthRejected() { c.add(func(s *Stats) { s.AuthRejections++ }) }

// SessionEnded records one session duration, evicting the oldest when full.
func (c *StatsCollector) SessionEnded(sessionID string, d time.Duration, cause string) {
	c.mu.Lock()
	c.durations[c.next] = d
	c.next = (c.next + 1) % DurationHistory
	if c.filled < DurationHistory {
		c.filled++
	}
	c.mu.Unlock()

	if c.minSession > 0 && d < c.minSession {
		c.logger.Warn("short session, check credentials, topics or network",
			"session_id", sessionID,
			"duration", d,
			"min", c.minSession,
			"cause", cause,
		)
	}
}

// Snapshot returns a copy of the counters and duration history.
func (c *StatsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Durations = make([]time.Duration, 0, c.filled)
	start := (c.next - c.filled + DurationHistory) % DurationHistory
	for i := 0; i < c.filled; i++ {
		s.Durations = append(s.Durations, c.durations[(start+i)%DurationHistory])
	}
	return s
}

func (c *StatsCollector) add(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
