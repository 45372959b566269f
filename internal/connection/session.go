package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/rickgao/announce-relay/internal/auth"
)

// WSDialer opens websocket sessions to the announcement socket.
type WSDialer struct {
	cfg    DialerConfig
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewDialer creates a websocket Dialer. The proxy URL, if any, is resolved
// once and shared by every attempt.
func NewDialer(cfg DialerConfig, logger *slog.Logger) (*WSDialer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.BufferSize,
		WriteBufferSize:  cfg.BufferSize,
		Proxy:            http.ProxyFromEnvironment,
	}

	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			d.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			pd, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks proxy: %w", err)
			}
			d.Proxy = nil
			if cd, ok := pd.(proxy.ContextDialer); ok {
				d.NetDialContext = cd.DialContext
			} else {
				d.NetDial = pd.Dial
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &WSDialer{cfg: cfg, dialer: d, logger: logger}, nil
}

// Dial opens a session signed by a and starts its read loop.
func (d *WSDialer) Dial(ctx context.Context, a *auth.Authorization, sink EventSink) (Session, error) {
	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set(auth.APIKeyHeader, d.cfg.APIKey)
	}

	conn, resp, err := d.dialer.DialContext(ctx, a.URL(d.cfg.URL), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w", &HandshakeError{StatusCode: resp.StatusCode, Err: err})
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	s := &wsSession{
		id:           uuid.NewString(),
		conn:         conn,
		sink:         sink,
		openedAt:     time.Now(),
		writeTimeout: d.cfg.WriteTimeout,
	}
	s.logger = d.logger.With("session_id", s.id)

	conn.SetPongHandler(func(string) error {
		s.emit(Event{Kind: EventPong, At: time.Now()})
		return nil
	})

	go s.readLoop()

	s.logger.Debug("websocket connected", "url", d.cfg.URL)
	return s, nil
}

// wsSession implements Session over a gorilla websocket connection.
type wsSession struct {
	id           string
	conn         *websocket.Conn
	sink         EventSink
	openedAt     time.Time
	writeTimeout time.Duration
	logger       *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool // Local Close called or terminal event emitted
}

func (s *wsSession) ID() string { return s.id }
func (s *wsSession) OpenedAt() time.Time { return s.openedAt }

// Send writes a command as a JSON text frame.
func (s *wsSession) Send(cmd Command) error {
	if s.isClosed() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteJSON(cmd)
}

// Probe sends an empty ping control frame.
func (s *wsSession) Probe() error {
	if s.isClosed() {
		return ErrNotConnected
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.deadline()))
}

// Close sends a close frame and closes the connection. No events are emitted
// after Close.
func (s *wsSession) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.deadline()),
	); err != nil {
		s.logger.Debug("close frame failed", "code", code, "error", err)
	}
	return s.conn.Close()
}

func (s *wsSession) deadline() time.Duration {
	if s.writeTimeout > 0 {
		return s.writeTimeout
	}
	return time.Second
}

func (s *wsSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit forwards a non-terminal event unless the session is closed.
func (s *wsSession) emit(ev Event) {
	if s.isClosed() {
		return
	}
	s.sink(ev)
}

// finish emits the single terminal event.
func (s *wsSession) finish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.Close()
	s.sink(ev)
}

// readLoop delivers frames in transport order until the connection fails.
func (s *wsSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.logger.Debug("websocket closed by server", "code", ce.Code, "reason", ce.Text)
				s.finish(Event{Kind: EventClosed, Code: ce.Code, Reason: ce.Text, At: receivedAt})
			} else {
				s.finish(Event{Kind: EventError, Err: err, At: receivedAt})
			}
			return
		}

		s.emit(Event{Kind: EventFrame, Data: data, At: receivedAt})
	}
}
