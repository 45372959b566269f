package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/rickgao/announce-relay/internal/auth"
	"github.com/rickgao/announce-relay/internal/router"
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State             State
	Connected         bool // A transport is open
	ReconnectAttempts int
	NextDelay         time.Duration // Delay of the pending retry, if any
	Healthy           bool
	SessionID         string
	LastError         error
	Liveness          Liveness
	Stats             Stats
}

type eventKind int

const (
	evDialed eventKind = iota
	evDialFailed
	evSession
	evProbeTimeout
	evRotate
	evRetry
)

// event is posted into the loop. gen identifies the connection attempt that
// produced it.
type event struct {
	kind    eventKind
	gen     uint64
	session Session
	ev      Event
	err     error
}

// run is one Start..Stop lifetime of the event loop.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
	err    error // Terminal error, set before done is closed

	dials  sync.WaitGroup
	reaped chan struct{} // Closed once dials finished and events are drained
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Controller keeps one authenticated, subscribed session open and replaces it
// on failure or before the server's session limit.
type Controller struct {
	cfg    Config
	signer *auth.Signer
	dialer Dialer
	router *router.Router
	times  TimeSource
	clock  clock.Clock
	logger *slog.Logger
	stats  *StatsCollector

	mu        sync.Mutex
	run       *run
	state     State
	shouldRun bool
	attempts  int
	nextDelay time.Duration
	sessionID string
	lastErr   error
	monitor   *Monitor

	// Owned by the event loop.
	gen        uint64
	session    Session
	sessionLog *slog.Logger
	openedAt   time.Time
	rotation   *clock.Timer
	retry      *clock.Timer
	dialCancel context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for timers. Tests pass clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithTimeSource sets where the signing reference time comes from. Without
// one the local clock is used.
func WithTimeSource(ts TimeSource) Option {
	return func(c *Controller) {
		c.times = ts
	}
}

// NewController creates a Controller. A nil router counts frames without
// delivering them.
func NewController(cfg Config, signer *auth.Signer, dialer Dialer, rt *router.Router, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:    cfg,
		signer: signer,
		dialer: dialer,
		router: rt,
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.router == nil {
		c.router = router.New(router.DefaultConfig(), nil, logger)
	}
	c.stats = NewStatsCollector(cfg.MinSessionDuration, logger)

	return c
}

// Start begins connecting in the background. It returns ErrAlreadyRunning if
// a previous run has not ended. Starting after exhaustion resets the attempt
// counter.
func (c *Controller) Start(ctx context.Context) error {
	if len(c.cfg.Topics) == 0 {
		return errors.New("at least one topic is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && !c.run.finished() {
		return ErrAlreadyRunning
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:    rctx,
		cancel: cancel,
		events: make(chan event, 64),
		done:   make(chan struct{}),
		reaped: make(chan struct{}),
	}
	c.run = r
	c.shouldRun = true
	c.attempts = 0
	c.nextDelay = 0
	c.lastErr = nil

	c.logger.Info("stream controller started",
		"topics", c.cfg.Topics,
		"ping_interval", c.cfg.PingInterval,
		"rotation_interval", c.cfg.RotationInterval,
		"max_attempts", c.cfg.MaxReconnectAttempts,
	)

	go c.loop(r)
	return nil
}

// Stop cancels any in-flight dial, stops every timer, closes the session and
// waits for the loop to exit. Safe to call in any state.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.shouldRun = false
	c.mu.Unlock()

	if r == nil {
		return nil
	}

	c.logger.Info("stopping stream controller")
	r.cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		c.logger.Warn("stream controller stop timed out")
		return ctx.Err()
	}

	select {
	case <-r.reaped:
	case <-ctx.Done():
		c.logger.Warn("in-flight dial outlived stop deadline")
		return ctx.Err()
	}

	return nil
}

// Wait blocks until the current run ends and returns its terminal error:
// nil after Stop or context cancellation, ErrReconnectsExhausted otherwise.
func (c *Controller) Wait() error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Run starts the controller and blocks until ctx is cancelled or reconnects
// are exhausted.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	err := c.Wait()

	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r != nil {
		<-r.reaped
	}
	return err
}

// Status returns the current status. Safe for concurrent use.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:             c.state,
		Connected:         c.sessionID != "",
		ReconnectAttempts: c.attempts,
		NextDelay:         c.nextDelay,
		Healthy:           !c.shouldRun || c.state == StateSubscribed,
		SessionID:         c.sessionID,
		LastError:         c.lastErr,
	}
	m := c.monitor
	c.mu.Unlock()

	if m != nil {
		st.Liveness = m.Snapshot()
	}
	st.Stats = c.stats.Snapshot()
	return st
}

// Healthy reports whether the controller is either stopped on purpose or
// subscribed.
func (c *Controller) Healthy() bool {
	return c.Status().Healthy
}

// Stats returns connection counters.
func (c *Controller) Stats() Stats {
	return c.stats.Snapshot()
}

func (c *Controller) loop(r *run) {
	defer c.reap(r)
	defer close(r.done)
	defer r.cancel()

	c.connect(r)

	for {
		select {
		case <-r.ctx.Done():
			c.shutdown()
			return
		case ev := <-r.events:
			if c.handle(r, ev) {
				return
			}
		}
	}
}

// reap waits for in-flight dials of an exited run and closes any session
// that was posted after the loop stopped reading.
func (c *Controller) reap(r *run) {
	go func() {
		defer close(r.reaped)
		r.dials.Wait()
		for {
			select {
			case ev := <-r.events:
				if ev.kind == evDialed && ev.session != nil {
					ev.session.Close(websocket.CloseGoingAway, "shutdown")
				}
			default:
				return
			}
		}
	}()
}

// post delivers an event to the loop, giving up once the loop has exited.
// Events that race with loop exit may land in the buffer; reap handles them.
func (c *Controller) post(r *run, ev event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// handle applies one event. It returns true when the loop must exit.
func (c *Controller) handle(r *run, ev event) bool {
	if r.ctx.Err() != nil {
		if ev.kind == evDialed {
			ev.session.Close(websocket.CloseGoingAway, "shutdown")
		}
		c.shutdown()
		return true
	}

	if ev.gen != c.gen {
		if ev.kind == evDialed {
			ev.session.Close(websocket.CloseNormalClosure, "superseded")
		}
		return false
	}

	switch ev.kind {
	case evDialed:
		if c.getState() != StateConnecting {
			ev.session.Close(websocket.CloseNormalClosure, "superseded")
			return false
		}
		return c.opened(r, ev.session)

	case evDialFailed:
		var he *HandshakeError
		if errors.As(ev.err, &he) && he.Rejected() {
			c.stats.AuthRejected()
			c.logger.Error("handshake rejected", "status", he.StatusCode, "error", ev.err)
		}
		return c.fail(r, fmt.Errorf("connect: %w", ev.err))

	case evSession:
		if c.session == nil {
			return false
		}
		return c.sessionEvent(r, ev.ev)

	case evProbeTimeout:
		if c.session == nil || c.getState() != StateSubscribed {
			return false
		}
		return c.fail(r, ErrProbeTimeout)

	case evRotate:
		if c.getState() != StateSubscribed {
			return false
		}
		c.rotate(r)

	case evRetry:
		if c.getState() != StateReconnecting {
			return false
		}
		c.stats.Reconnected()
		c.connect(r)
	}

	return false
}

// connect starts a new attempt: reference time, signature and dial run off
// the loop and report back with evDialed or evDialFailed.
func (c *Controller) connect(r *run) {
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	ctx, cancel := context.WithCancel(r.ctx)
	c.dialCancel = cancel

	// Session events wait until evDialed has been posted.
	ready := make(chan struct{})
	sink := func(e Event) {
		select {
		case <-ready:
		case <-r.done:
			return
		}
		c.post(r, event{kind: evSession, gen: gen, ev: e})
	}

	r.dials.Add(1)
	go func() {
		defer r.dials.Done()
		defer close(ready)

		s, err := c.dial(ctx, sink)
		if err != nil {
			c.post(r, event{kind: evDialFailed, gen: gen, err: err})
			return
		}
		if ctx.Err() != nil {
			s.Close(websocket.CloseGoingAway, "shutdown")
			return
		}
		if !c.post(r, event{kind: evDialed, gen: gen, session: s}) {
			s.Close(websocket.CloseGoingAway, "shutdown")
		}
	}()
}

func (c *Controller) dial(ctx context.Context, sink EventSink) (Session, error) {
	ref := c.clock.Now()
	if c.times != nil {
		t, err := c.times.ServerTime(ctx)
		if err != nil {
			c.logger.Warn("server time unavailable, signing with local clock", "error", err)
		} else {
			ref = t
		}
	}

	a, err := c.signer.Sign(c.cfg.Topics, ref)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return c.dialer.Dial(ctx, a, sink)
}

// opened takes ownership of a new session and subscribes every topic.
func (c *Controller) opened(r *run, s Session) bool {
	c.session = s
	c.openedAt = c.clock.Now()
	c.sessionLog = c.logger.With("session_id", s.ID())
	c.stats.Opened()

	c.mu.Lock()
	c.state = StateAuthenticating
	c.sessionID = s.ID()
	c.mu.Unlock()

	c.sessionLog.Info("connected, subscribing", "topics", c.cfg.Topics)

	for _, topic := range c.cfg.Topics {
		if err := s.Send(Subscribe(topic)); err != nil {
			return c.fail(r, fmt.Errorf("send subscribe %s: %w", topic, err))
		}
	}
	return false
}

func (c *Controller) sessionEvent(r *run, e Event) bool {
	switch e.Kind {
	case EventFrame:
		c.stats.Received()
		f, err := c.router.Route(r.ctx, e.Data, e.At)
		if err != nil {
			c.stats.Failed()
			return false
		}
		switch f.Kind {
		case router.KindControlAck:
			return c.ack(r, f)
		case router.KindDataPayload:
			c.stats.Processed()
		}

	case EventPong:
		c.mu.Lock()
		m := c.monitor
		c.mu.Unlock()
		if m != nil {
			m.RecordPong(e.At)
		}

	case EventClosed:
		return c.fail(r, &CloseError{Code: e.Code, Reason: e.Reason})

	case EventError:
		return c.fail(r, fmt.Errorf("transport: %w", e.Err))
	}

	return false
}

// ack handles a control acknowledgement. The first successful SUBSCRIBE ack
// completes authentication; a failed one is a rejection. Untyped acks only
// answer a subscription while authenticating.
func (c *Controller) ack(r *run, f router.Frame) bool {
	if !f.IsSubscribeAck() {
		c.sessionLog.Debug("control ack", "sub_type", f.SubType, "data", f.Data)
		return false
	}
	if f.SubType == "" && c.getState() != StateAuthenticating {
		c.sessionLog.Warn("ignoring untyped control frame",
			"success", f.Succeeded(),
			"raw", string(f.Raw),
		)
		return false
	}

	if !f.Succeeded() {
		c.stats.AuthRejected()
		c.sessionLog.Error("subscription rejected", "code", f.Code, "data", f.Data)
		return c.fail(r, fmt.Errorf("%w: code %s: %s", ErrSubscribeRejected, f.Code, f.Data))
	}

	if c.getState() != StateAuthenticating {
		c.sessionLog.Debug("subscription acknowledged", "code", f.Code)
		return false
	}

	c.subscribed(r)
	return false
}

// subscribed starts liveness probing, arms rotation and clears backoff.
func (c *Controller) subscribed(r *run) {
	gen := c.gen

	m := NewMonitor(c.clock, c.cfg.PingInterval, c.cfg.ProbeTimeout, c.session.Probe, func() {
		go c.post(r, event{kind: evProbeTimeout, gen: gen})
	}, c.sessionLog)
	m.Start()

	if c.cfg.RotationInterval > 0 {
		c.rotation = c.clock.AfterFunc(c.cfg.RotationInterval, func() {
			c.post(r, event{kind: evRotate, gen: gen})
		})
	}

	c.mu.Lock()
	c.state = StateSubscribed
	c.attempts = 0
	c.nextDelay = 0
	c.lastErr = nil
	c.monitor = m
	c.mu.Unlock()

	c.sessionLog.Info("subscribed", "topics", c.cfg.Topics, "rotation_in", c.cfg.RotationInterval)
}

// rotate replaces a healthy session immediately without touching backoff.
func (c *Controller) rotate(r *run) {
	c.stats.Rotated()
	c.sessionLog.Info("rotating session before server limit")
	c.teardown(websocket.CloseNormalClosure, "rotation", "rotation")
	c.setState(StateReconnecting)
	c.connect(r)
}

// fail tears down the current attempt and schedules a retry, or gives up
// once the attempt ceiling is reached. It returns true when the loop must
// exit.
func (c *Controller) fail(r *run, err error) bool {
	c.stats.Failed()
	c.teardown(websocket.CloseNormalClosure, "reconnecting", err.Error())

	c.mu.Lock()
	attempts := c.attempts + 1
	c.mu.Unlock()

	if max := c.cfg.MaxReconnectAttempts; max > 0 && attempts >= max {
		terminal := fmt.Errorf("%w after %d attempts: %w", ErrReconnectsExhausted, attempts, err)
		c.mu.Lock()
		c.state = StateIdle
		c.attempts = attempts
		c.nextDelay = 0
		c.lastErr = terminal
		c.mu.Unlock()

		r.err = terminal
		c.logger.Error("giving up on stream", "attempts", attempts, "error", err)
		return true
	}

	delay := Backoff(attempts, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	gen := c.gen
	c.retry = c.clock.AfterFunc(delay, func() {
		c.post(r, event{kind: evRetry, gen: gen})
	})

	c.mu.Lock()
	c.state = StateReconnecting
	c.attempts = attempts
	c.nextDelay = delay
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Warn("stream disconnected, reconnecting",
		"attempt", attempts,
		"delay", delay,
		"error", err,
	)
	return false
}

// teardown cancels the dial, stops both timers and the monitor, and closes
// the session, recording its duration.
func (c *Controller) teardown(code int, reason, cause string) {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.rotation != nil {
		c.rotation.Stop()
		c.rotation = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	c.mu.Lock()
	m := c.monitor
	c.monitor = nil
	c.sessionID = ""
	c.mu.Unlock()

	if m != nil {
		m.Stop()
	}

	if c.session == nil {
		return
	}

	s := c.session
	c.session = nil
	if err := s.Close(code, reason); err != nil {
		c.sessionLog.Debug("close session", "error", err)
	}

	d := c.clock.Now().Sub(c.openedAt)
	c.stats.SessionEnded(s.ID(), d, cause)
	c.sessionLog.Info("session ended", "duration", d, "cause", cause)
}

func (c *Controller) shutdown() {
	c.setState(StateClosing)
	c.teardown(websocket.CloseNormalClosure, "shutdown", "shutdown")

	c.mu.Lock()
	c.state = StateIdle
	c.shouldRun = false
	c.nextDelay = 0
	c.mu.Unlock()

	c.logger.Info("stream controller stopped")
}

func (c *Controller) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
