package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/announce-relay/internal/announce"
	"github.com/rickgao/announce-relay/internal/connection"
	"github.com/rickgao/announce-relay/internal/poller"
	"github.com/rickgao/announce-relay/internal/router"
)

const namespace = "announce_relay"

// StatusSource reports stream connection status. *connection.Controller
// implements it.
type StatusSource interface {
	Status() connection.Status
}

// RouterSource reports router counters.
type RouterSource interface {
	Stats() router.Stats
}

// PipelineSource reports pipeline counters.
type PipelineSource interface {
	Stats() announce.Stats
}

// PollerSource reports poller counters.
type PollerSource interface {
	Stats() poller.Stats
}

// Sources are the components read at scrape time. Nil fields are skipped.
type Sources struct {
	Stream   StatusSource
	Router   RouterSource
	Pipeline PipelineSource
	Poller   PollerSource
}

var states = []connection.State{
	connection.StateIdle,
	connection.StateConnecting,
	connection.StateAuthenticating,
	connection.StateSubscribed,
	connection.StateReconnecting,
	connection.StateClosing,
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

// Collector is a prometheus.Collector over Sources.
type Collector struct {
	src Sources

	state             *prometheus.Desc
	healthy           *prometheus.Desc
	reconnectAttempts *prometheus.Desc
	sessionOpens      *prometheus.Desc
	reconnects        *prometheus.Desc
	rotations         *prometheus.Desc
	streamMessages    *prometheus.Desc
	streamErrors      *prometheus.Desc
	authRejections    *prometheus.Desc
	lastSession       *prometheus.Desc
	probes            *prometheus.Desc
	pongs             *prometheus.Desc

	routerFrames *prometheus.Desc
	routerErrors *prometheus.Desc

	pipelineEvents *prometheus.Desc
	queueLen       *prometheus.Desc
	queueDropped   *prometheus.Desc

	pollCycles    *prometheus.Desc
	pollErrors    *prometheus.Desc
	pollSubmitted *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,

		state:             desc("stream", "state", "1 for the current lifecycle state.", "state"),
		healthy:           desc("stream", "healthy", "1 when the stream is healthy."),
		reconnectAttempts: desc("stream", "reconnect_attempts", "Consecutive failed connection attempts."),
		sessionOpens:      desc("stream", "session_opens_total", "Sessions opened."),
		reconnects:        desc("stream", "reconnects_total", "Reconnect attempts scheduled."),
		rotations:         desc("stream", "rotations_total", "Proactive session rotations."),
		streamMessages:    desc("stream", "messages_total", "Frames received by kind.", "kind"),
		streamErrors:      desc("stream", "errors_total", "Session errors."),
		authRejections:    desc("stream", "auth_rejections_total", "Handshakes or subscriptions rejected."),
		lastSession:       desc("stream", "last_session_seconds", "Duration of the most recent session."),
		probes:            desc("stream", "probes_total", "Liveness probes sent in the current session."),
		pongs:             desc("stream", "pongs_total", "Probe replies in the current session."),

		routerFrames: desc("router", "frames_total", "Frames routed by kind.", "kind"),
		routerErrors: desc("router", "errors_total", "Routing errors by type.", "type"),

		pipelineEvents: desc("pipeline", "announcements_total", "Announcements by outcome.", "outcome"),
		queueLen:       desc("pipeline", "queue_length", "Announcements waiting in the queue."),
		queueDropped:   desc("pipeline", "queue_dropped_total", "Announcements dropped on a full queue."),

		pollCycles:    desc("poller", "cycles_total", "Completed poll cycles."),
		pollErrors:    desc("poller", "errors_total", "Failed catalog requests."),
		pollSubmitted: desc("poller", "submitted_total", "Articles submitted to the pipeline."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.healthy, c.reconnectAttempts, c.sessionOpens, c.reconnects,
		c.rotations, c.streamMessages, c.streamErrors, c.authRejections,
		c.lastSession, c.probes, c.pongs, c.routerFrames, c.routerErrors,
		c.pipelineEvents, c.queueLen, c.queueDropped, c.pollCycles,
		c.pollErrors, c.pollSubmitted,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Stream != nil {
		c.collectStream(ch, c.src.Stream.Status())
	}
	if c.src.Router != nil {
		s := c.src.Router.Stats()
		counter(ch, c.routerFrames, s.ControlAcks, "control_ack")
		counter(ch, c.routerFrames, s.DataPayloads, "data")
		counter(ch, c.routerFrames, s.Unknown, "unknown")
		counter(ch, c.routerErrors, s.ParseErrors, "parse")
		counter(ch, c.routerErrors, s.HandlerErrors, "handler")
	}
	if c.src.Pipeline != nil {
		s := c.src.Pipeline.Stats()
		counter(ch, c.pipelineEvents, s.Received, "received")
		counter(ch, c.pipelineEvents, s.DecodeFails, "decode_failed")
		counter(ch, c.pipelineEvents, s.Duplicates, "duplicate")
		counter(ch, c.pipelineEvents, s.Notified, "notified")
		counter(ch, c.pipelineEvents, s.Failures, "failed")
		gauge(ch, c.queueLen, float64(s.Queue.Len))
		counter(ch, c.queueDropped, s.Queue.Dropped)
	}
	if c.src.Poller != nil {
		s := c.src.Poller.Stats()
		counter(ch, c.pollCycles, s.Cycles)
		counter(ch, c.pollErrors, s.Errors)
		counter(ch, c.pollSubmitted, s.Submitted)
	}
}

func (c *Collector) collectStream(ch chan<- prometheus.Metric, st connection.Status) {
	for _, s := range states {
		gauge(ch, c.state, boolValue(st.State == s), s.String())
	}
	gauge(ch, c.healthy, boolValue(st.Healthy))
	gauge(ch, c.reconnectAttempts, float64(st.ReconnectAttempts))

	s := st.Stats
	counter(ch, c.sessionOpens, s.Opens)
	counter(ch, c.reconnects, s.Reconnects)
	counter(ch, c.rotations, s.Rotations)
	counter(ch, c.streamMessages, s.MessagesReceived, "all")
	counter(ch, c.streamMessages, s.DataMessagesProcessed, "data")
	counter(ch, c.streamErrors, s.Errors)
	counter(ch, c.authRejections, s.AuthRejections)
	if n := len(s.Durations); n > 0 {
		gauge(ch, c.lastSession, s.Durations[n-1].Seconds())
	}
	counter(ch, c.probes, st.Liveness.Probes)
	counter(ch, c.pongs, st.Liveness.Pongs)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v int64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
