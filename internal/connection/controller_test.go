package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/announce-relay/internal/auth"
	"github.com/rickgao/announce-relay/internal/router"
)

var (
	subscribeOK   = []byte(`{"type":"COMMAND","subType":"SUBSCRIBE","data":"SUCCESS","code":"topicA"}`)
	subscribeFail = []byte(`{"type":"COMMAND","subType":"SUBSCRIBE","data":"FAIL","code":"400"}`)
	dataFrame     = []byte(`{"type":"DATA","topic":"topicA","data":"{\"title\":\"hello\"}"}`)
)

// fakeSession records what the controller does with it. Tests push events
// through emit, which blocks like a real read loop.
type fakeSession struct {
	id   string
	sink EventSink

	mu     sync.Mutex
	sent   []Command
	probes int
	closed bool
	code   int
}

func (s *fakeSession) ID() string { return s.id }
func (s *fakeSession) OpenedAt() time.Time { return time.Time{} }

func (s *fakeSession) Send(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *fakeSession) Probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return nil
}

func (s *fakeSession) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.code = code
	}
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) emit(e Event) { s.sink(e) }

func (s *fakeSession) frame(data []byte) {
	s.emit(Event{Kind: EventFrame, Data: data, At: time.Now()})
}

// fakeDialer hands out fakeSessions. fail decides per dial (1-indexed)
// whether the attempt errors.
type fakeDialer struct {
	block bool
	fail  func(n int) error

	mu       sync.Mutex
	auths    []*auth.Authorization
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, a *auth.Authorization, sink EventSink) (Session, error) {
	d.mu.Lock()
	d.auths = append(d.auths, a)
	n := len(d.auths)
	fail := d.fail
	d.mu.Unlock()

	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	s := &fakeSession{id: fmt.Sprintf("session-%d", n), sink: sink}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.auths)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func alwaysFail(int) error { return errors.New("connection refused") }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Topics = []string{"topicA", "topicB"}
	cfg.MaxReconnectAttempts = 0
	return cfg
}

func newTestController(t *testing.T, cfg Config, d Dialer, h router.Handler, opts ...Option) (*Controller, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	signer := auth.NewSigner(auth.Credentials{Key: "key", Secret: "secret"})
	rt := router.New(router.DefaultConfig(), h, nil)

	opts = append([]Option{WithClock(mock)}, opts...)
	c := NewController(cfg, signer, d, rt, nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Stop(ctx)
	})
	return c, mock
}

func inState(c *Controller, s State) func() bool {
	return func() bool { return c.Status().State == s }
}

// subscribeSession waits for the i-th session to open and acknowledges it.
func subscribeSession(t *testing.T, c *Controller, d *fakeDialer, i int) *fakeSession {
	t.Helper()
	waitFor(t, fmt.Sprintf("session %d", i), func() bool {
		return d.session(i) != nil && c.Status().State == StateAuthenticating
	})
	s := d.session(i)
	s.frame(subscribeOK)
	waitFor(t, "subscribed", inState(c, StateSubscribed))
	return s
}

func TestController_SubscribeAndRoute(t *testing.T) {
	var mu sync.Mutex
	var delivered []router.Frame
	h := router.HandlerFunc(func(_ context.Context, f router.Frame) error {
		mu.Lock()
		delivered = append(delivered, f)
		mu.Unlock()
		return nil
	})

	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, h)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "authenticating", inState(c, StateAuthenticating))
	s := d.session(0)

	s.mu.Lock()
	sent := append([]Command(nil), s.sent...)
	s.mu.Unlock()
	want := []Command{Subscribe("topicA"), Subscribe("topicB")}
	if len(sent) != len(want) {
		t.Fatalf("sent %d commands, want %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, sent[i], want[i])
		}
	}

	st := c.Status()
	if !st.Connected || st.SessionID != s.id {
		t.Errorf("Status() = %+v, want connected with session id", st)
	}
	if st.Healthy {
		t.Error("should be unhealthy before subscription ack")
	}

	s.frame(subscribeOK)
	waitFor(t, "subscribed", inState(c, StateSubscribed))

	s.frame(dataFrame)
	waitFor(t, "data processed", func() bool { return c.Stats().DataMessagesProcessed == 1 })

	mu.Lock()
	n := len(delivered)
	mu.Unlock()
	if n != 1 {
		t.Errorf("delivered %d frames, want 1", n)
	}

	st = c.Status()
	if st.State != StateSubscribed || !st.Healthy || st.ReconnectAttempts != 0 {
		t.Errorf("Status() = %+v", st)
	}
	if st.Stats.MessagesReceived != 2 || st.Stats.Opens != 1 {
		t.Errorf("Stats = %+v", st.Stats)
	}
}

func TestController_StopBeforeOpen(t *testing.T) {
	d := &fakeDialer{block: true}
	c, mock := newTestController(t, testConfig(), d, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "dial", func() bool { return d.dials() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	st := c.Status()
	if st.State != StateIdle || st.Connected || !st.Healthy {
		t.Errorf("Status() after Stop = %+v", st)
	}

	mock.Add(24 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	if d.dials() != 1 {
		t.Errorf("dials = %d after Stop, want 1", d.dials())
	}
	if err := c.Wait(); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestController_StopClosesSession(t *testing.T) {
	d := &fakeDialer{}
	c, mock := newTestController(t, testConfig(), d, nil)

	c.Start(context.Background())
	s := subscribeSession(t, c, d, 0)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !s.isClosed() {
		t.Error("session should be closed after Stop")
	}

	mock.Add(48 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	if d.dials() != 1 {
		t.Errorf("rotation fired after Stop: dials = %d", d.dials())
	}
	if got := len(c.Stats().Durations); got != 1 {
		t.Errorf("Durations = %d, want 1", got)
	}
}

func TestController_StopClosesLateDial(t *testing.T) {
	for i := 0; i < 50; i++ {
		entered := make(chan struct{})
		stopping := make(chan struct{})
		var s *fakeSession

		// The dialer ignores ctx and finishes after Stop has begun.
		d := DialerFunc(func(_ context.Context, _ *auth.Authorization, sink EventSink) (Session, error) {
			close(entered)
			<-stopping
			time.Sleep(time.Duration(i%3) * time.Millisecond)
			s = &fakeSession{id: fmt.Sprintf("late-%d", i), sink: sink}
			return s, nil
		})
		c, _ := newTestController(t, testConfig(), d, nil)

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		<-entered

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		go func() {
			time.Sleep(time.Millisecond)
			close(stopping)
		}()
		if err := c.Stop(ctx); err != nil {
			cancel()
			t.Fatalf("iteration %d: Stop() error = %v", i, err)
		}
		cancel()

		if s == nil || !s.isClosed() {
			t.Fatalf("iteration %d: session left open after Stop", i)
		}
		if st := c.Status(); st.State != StateIdle || st.Connected {
			t.Fatalf("iteration %d: Status() after Stop = %+v", i, st)
		}
	}
}

func TestController_BackoffSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = 5000 * time.Millisecond
	cfg.ReconnectMaxDelay = 30000 * time.Millisecond

	d := &fakeDialer{fail: alwaysFail}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())

	want := []time.Duration{5000, 10000, 20000, 30000, 30000}
	for k, ms := range want {
		delay := ms * time.Millisecond
		attempt := k + 1

		waitFor(t, fmt.Sprintf("attempt %d", attempt), func() bool {
			st := c.Status()
			return st.State == StateReconnecting && st.ReconnectAttempts == attempt
		})
		if got := c.Status().NextDelay; got != delay {
			t.Errorf("attempt %d: NextDelay = %v, want %v", attempt, got, delay)
		}

		mock.Add(delay - time.Millisecond)
		if d.dials() != attempt {
			t.Fatalf("attempt %d: retried early, dials = %d", attempt, d.dials())
		}
		mock.Add(time.Millisecond)
		waitFor(t, "retry dial", func() bool { return d.dials() == attempt+1 })
	}

	if got := c.Stats().Reconnects; got != int64(len(want)) {
		t.Errorf("Reconnects = %d, want %d", got, len(want))
	}
}

func TestController_ReconnectCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = 5 * time.Second
	cfg.ReconnectMaxDelay = 30 * time.Second
	cfg.MaxReconnectAttempts = 10

	d := &fakeDialer{fail: alwaysFail}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())

	for attempt := 1; attempt < 10; attempt++ {
		waitFor(t, fmt.Sprintf("attempt %d", attempt), func() bool {
			st := c.Status()
			return st.State == StateReconnecting && st.ReconnectAttempts == attempt
		})
		mock.Add(c.Status().NextDelay)
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrReconnectsExhausted) {
			t.Fatalf("Wait() error = %v, want ErrReconnectsExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not give up")
	}

	st := c.Status()
	if st.State != StateIdle {
		t.Errorf("State = %v, want idle", st.State)
	}
	if st.ReconnectAttempts != 10 {
		t.Errorf("ReconnectAttempts = %d, want 10", st.ReconnectAttempts)
	}
	if st.Healthy {
		t.Error("exhausted controller should be unhealthy")
	}
	if !errors.Is(st.LastError, ErrReconnectsExhausted) {
		t.Errorf("LastError = %v, want ErrReconnectsExhausted", st.LastError)
	}

	mock.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if d.dials() != 10 {
		t.Errorf("dials = %d, want 10 with no pending timer", d.dials())
	}

	// Only an explicit Start resumes, with a fresh counter.
	d.mu.Lock()
	d.fail = nil
	d.mu.Unlock()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	subscribeSession(t, c, d, 0)
	if got := c.Status().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts after restart = %d, want 0", got)
	}
}

func TestController_SubscribeResetsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = time.Second
	cfg.ReconnectMaxDelay = time.Minute

	d := &fakeDialer{fail: func(n int) error {
		if n <= 2 {
			return errors.New("refused")
		}
		return nil
	}}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())

	for attempt := 1; attempt <= 2; attempt++ {
		waitFor(t, fmt.Sprintf("attempt %d", attempt), func() bool {
			st := c.Status()
			return st.State == StateReconnecting && st.ReconnectAttempts == attempt
		})
		mock.Add(c.Status().NextDelay)
	}

	s := subscribeSession(t, c, d, 0)
	if got := c.Status().ReconnectAttempts; got != 0 {
		t.Fatalf("ReconnectAttempts after subscribe = %d, want 0", got)
	}

	s.emit(Event{Kind: EventClosed, Code: 1006, Reason: "abnormal"})
	waitFor(t, "reconnecting", inState(c, StateReconnecting))

	st := c.Status()
	if st.ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1", st.ReconnectAttempts)
	}
	if st.NextDelay != cfg.ReconnectBaseDelay {
		t.Errorf("NextDelay = %v, want base %v", st.NextDelay, cfg.ReconnectBaseDelay)
	}
	var ce *CloseError
	if !errors.As(st.LastError, &ce) || ce.Code != 1006 {
		t.Errorf("LastError = %v, want CloseError 1006", st.LastError)
	}
}

func TestController_Rotation(t *testing.T) {
	cfg := testConfig()
	cfg.RotationInterval = 23 * time.Hour

	d := &fakeDialer{}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())
	first := subscribeSession(t, c, d, 0)

	mock.Add(23 * time.Hour)
	waitFor(t, "rotation dial", func() bool { return d.dials() == 2 })

	if !first.isClosed() {
		t.Error("rotated session should be closed")
	}

	st := c.Status()
	if st.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after rotation", st.ReconnectAttempts)
	}
	if st.NextDelay != 0 {
		t.Errorf("NextDelay = %v, want 0 after rotation", st.NextDelay)
	}
	if st.Stats.Rotations != 1 {
		t.Errorf("Rotations = %d, want 1", st.Stats.Rotations)
	}
	if len(st.Stats.Durations) != 1 || st.Stats.Durations[0] != 23*time.Hour {
		t.Errorf("Durations = %v, want [23h]", st.Stats.Durations)
	}

	subscribeSession(t, c, d, 1)
}

func TestController_DurationHistory(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = time.Second
	cfg.ReconnectMaxDelay = time.Second

	d := &fakeDialer{}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())

	for i := 0; i < 12; i++ {
		s := subscribeSession(t, c, d, i)
		mock.Add(time.Duration(i+1) * time.Minute)
		s.emit(Event{Kind: EventClosed, Code: 1000})
		waitFor(t, "reconnecting", inState(c, StateReconnecting))

		durations := c.Stats().Durations
		wantLen := i + 1
		if wantLen > DurationHistory {
			wantLen = DurationHistory
		}
		if len(durations) != wantLen {
			t.Fatalf("after %d sessions: len(Durations) = %d, want %d", i+1, len(durations), wantLen)
		}
		if last := durations[len(durations)-1]; last != time.Duration(i+1)*time.Minute {
			t.Errorf("newest duration = %v, want %v", last, time.Duration(i+1)*time.Minute)
		}

		mock.Add(time.Second)
	}

	durations := c.Stats().Durations
	if durations[0] != 3*time.Minute {
		t.Errorf("oldest duration = %v, want 3m after eviction", durations[0])
	}
}

func TestController_SubscriptionRejected(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, nil)

	c.Start(context.Background())
	waitFor(t, "authenticating", func() bool {
		return d.session(0) != nil && c.Status().State == StateAuthenticating
	})
	s := d.session(0)
	s.frame(subscribeFail)
	waitFor(t, "reconnecting", inState(c, StateReconnecting))

	st := c.Status()
	if st.Stats.AuthRejections != 1 {
		t.Errorf("AuthRejections = %d, want 1", st.Stats.AuthRejections)
	}
	if st.ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1", st.ReconnectAttempts)
	}
	if !errors.Is(st.LastError, ErrSubscribeRejected) {
		t.Errorf("LastError = %v, want ErrSubscribeRejected", st.LastError)
	}
	if !s.isClosed() {
		t.Error("rejected session should be closed")
	}
}

func TestController_HandshakeRejected(t *testing.T) {
	d := &fakeDialer{fail: func(n int) error {
		if n == 1 {
			return &HandshakeError{StatusCode: 401, Err: errors.New("bad handshake")}
		}
		return errors.New("connection refused")
	}}
	c, mock := newTestController(t, testConfig(), d, nil)

	c.Start(context.Background())
	waitFor(t, "first failure", func() bool { return c.Status().ReconnectAttempts == 1 })

	mock.Add(c.Status().NextDelay)
	waitFor(t, "second failure", func() bool { return c.Status().ReconnectAttempts == 2 })

	if got := c.Stats().AuthRejections; got != 1 {
		t.Errorf("AuthRejections = %d, want 1", got)
	}
	if got := c.Stats().Errors; got != 2 {
		t.Errorf("Errors = %d, want 2", got)
	}
}

func TestController_UntypedFailureWhileSubscribed(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, nil)

	c.Start(context.Background())
	s := subscribeSession(t, c, d, 0)

	s.frame([]byte(`{"success":false,"msg":"unrelated error"}`))
	s.frame(dataFrame)
	waitFor(t, "data after untyped frame", func() bool {
		return c.Stats().DataMessagesProcessed == 1
	})

	st := c.Status()
	if st.State != StateSubscribed {
		t.Errorf("State = %s, want subscribed", st.State)
	}
	if st.Stats.AuthRejections != 0 || st.ReconnectAttempts != 0 {
		t.Errorf("AuthRejections = %d, ReconnectAttempts = %d, want 0, 0",
			st.Stats.AuthRejections, st.ReconnectAttempts)
	}
	if s.isClosed() {
		t.Error("subscribed session should stay open")
	}
}

func TestController_UntypedFailureWhileAuthenticating(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, nil)

	c.Start(context.Background())
	waitFor(t, "authenticating", func() bool {
		return d.session(0) != nil && c.Status().State == StateAuthenticating
	})
	d.session(0).frame([]byte(`{"success":false}`))
	waitFor(t, "reconnecting", inState(c, StateReconnecting))

	if got := c.Stats().AuthRejections; got != 1 {
		t.Errorf("AuthRejections = %d, want 1", got)
	}
}

func TestController_ProbeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 30 * time.Second
	cfg.ProbeTimeout = 45 * time.Second

	d := &fakeDialer{}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())
	s := subscribeSession(t, c, d, 0)

	mock.Add(30 * time.Second)
	waitFor(t, "first probe", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.probes == 1
	})
	if c.Status().State != StateSubscribed {
		t.Fatal("should still be subscribed after one probe")
	}

	mock.Add(30 * time.Second)
	waitFor(t, "reconnecting", inState(c, StateReconnecting))

	if !errors.Is(c.Status().LastError, ErrProbeTimeout) {
		t.Errorf("LastError = %v, want ErrProbeTimeout", c.Status().LastError)
	}
}

func TestController_PongKeepsSessionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 30 * time.Second
	cfg.ProbeTimeout = 45 * time.Second

	d := &fakeDialer{}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())
	s := subscribeSession(t, c, d, 0)

	for i := 1; i <= 4; i++ {
		mock.Add(30 * time.Second)
		s.emit(Event{Kind: EventPong, At: mock.Now()})
		waitFor(t, "pong recorded", func() bool { return c.Status().Liveness.Pongs == int64(i) })
	}

	if st := c.Status(); st.State != StateSubscribed {
		t.Errorf("State = %v, want subscribed with pongs arriving", st.State)
	}
}

func TestController_HandlerErrorIsolated(t *testing.T) {
	h := router.HandlerFunc(func(context.Context, router.Frame) error {
		return errors.New("consumer down")
	})
	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, h)

	c.Start(context.Background())
	s := subscribeSession(t, c, d, 0)

	s.frame(dataFrame)
	s.frame([]byte(`not json`))
	waitFor(t, "errors counted", func() bool { return c.Stats().Errors == 2 })

	st := c.Status()
	if st.State != StateSubscribed {
		t.Errorf("State = %v, want subscribed", st.State)
	}
	if st.Stats.DataMessagesProcessed != 0 {
		t.Errorf("DataMessagesProcessed = %d, want 0", st.Stats.DataMessagesProcessed)
	}
}

func TestController_StaleSessionIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = time.Second

	d := &fakeDialer{}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())
	old := subscribeSession(t, c, d, 0)
	old.emit(Event{Kind: EventError, Err: errors.New("reset by peer")})
	waitFor(t, "reconnecting", inState(c, StateReconnecting))
	mock.Add(time.Second)
	subscribeSession(t, c, d, 1)

	old.emit(Event{Kind: EventClosed, Code: 1006})
	old.frame(dataFrame)
	time.Sleep(10 * time.Millisecond)

	st := c.Status()
	if st.State != StateSubscribed || st.ReconnectAttempts != 0 {
		t.Errorf("Status() = %+v, stale events must not change state", st)
	}
	if st.Stats.DataMessagesProcessed != 0 {
		t.Errorf("DataMessagesProcessed = %d, want 0", st.Stats.DataMessagesProcessed)
	}
}

func TestController_ServerTime(t *testing.T) {
	t.Run("uses server time", func(t *testing.T) {
		ref := time.UnixMilli(1700000000000)
		d := &fakeDialer{block: true}
		c, _ := newTestController(t, testConfig(), d, nil, WithTimeSource(timeSourceFunc(func(context.Context) (time.Time, error) {
			return ref, nil
		})))

		c.Start(context.Background())
		waitFor(t, "dial", func() bool { return d.dials() == 1 })

		d.mu.Lock()
		a := d.auths[0]
		d.mu.Unlock()
		if !a.Timestamp.Equal(ref) {
			t.Errorf("Timestamp = %v, want %v", a.Timestamp, ref)
		}
		if a.Topic != "topicA|topicB" {
			t.Errorf("Topic = %q, want topicA|topicB", a.Topic)
		}
		if !auth.Verify("secret", a) {
			t.Error("authorization signature invalid")
		}
	})

	t.Run("falls back to local clock", func(t *testing.T) {
		d := &fakeDialer{block: true}
		c, mock := newTestController(t, testConfig(), d, nil, WithTimeSource(timeSourceFunc(func(context.Context) (time.Time, error) {
			return time.Time{}, errors.New("timeout")
		})))

		c.Start(context.Background())
		waitFor(t, "dial", func() bool { return d.dials() == 1 })

		d.mu.Lock()
		a := d.auths[0]
		d.mu.Unlock()
		if !a.Timestamp.Equal(mock.Now()) {
			t.Errorf("Timestamp = %v, want local %v", a.Timestamp, mock.Now())
		}
	})
}

func TestController_FreshAuthorizationPerAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBaseDelay = time.Second

	d := &fakeDialer{fail: alwaysFail}
	c, mock := newTestController(t, cfg, d, nil)

	c.Start(context.Background())
	waitFor(t, "attempt 1", inState(c, StateReconnecting))
	mock.Add(time.Second)
	waitFor(t, "second dial", func() bool { return d.dials() == 2 })

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.auths[0].Nonce == d.auths[1].Nonce {
		t.Error("nonce reused across attempts")
	}
}

func TestController_StartTwice(t *testing.T) {
	d := &fakeDialer{block: true}
	c, _ := newTestController(t, testConfig(), d, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestController_StartWithoutTopics(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig(), &fakeDialer{}, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected error without topics")
	}
}

func TestController_RunReturnsOnCancel(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(t, testConfig(), d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	subscribeSession(t, c, d, 0)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !d.session(0).isClosed() {
		t.Error("session should be closed after Run returns")
	}
}

func TestController_HealthyWhenNotStarted(t *testing.T) {
	c, _ := newTestController(t, testConfig(), &fakeDialer{}, nil)
	if !c.Healthy() {
		t.Error("controller that is not supposed to run should be healthy")
	}
}

type timeSourceFunc func(ctx context.Context) (time.Time, error)

func (fn timeSourceFunc) ServerTime(ctx context.Context) (time.Time, error) {
	return fn(ctx)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateAuthenticating, "authenticating"},
		{StateSubscribed, "subscribed"},
		{StateReconnecting, "reconnecting"},
		{StateClosing, "closing"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
