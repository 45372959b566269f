package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/announce-relay/internal/auth"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrAlreadyRunning      = errors.New("controller already running")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
	ErrSubscribeRejected   = errors.New("subscription rejected")
	ErrProbeTimeout        = errors.New("no pong within probe timeout")
)

// CloseError reports a transport closed by the remote side.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d: %s", e.Code, e.Reason)
}

// HandshakeError reports a websocket upgrade refused with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Rejected reports whether the server refused the credentials or signature.
func (e *HandshakeError) Rejected() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Command is a control frame sent to the server.
type Command struct {
	Command string `json:"command"` // "SUBSCRIBE" or "UNSUBSCRIBE"
	Value   string `json:"value"`   // Topic
}

// Subscribe returns the command subscribing to one topic.
func Subscribe(topic string) Command {
	return Command{Command: "SUBSCRIBE", Value: topic}
}

// Unsubscribe returns the command removing one topic.
func Unsubscribe(topic string) Command {
	return Command{Command: "UNSUBSCRIBE", Value: topic}
}

// EventKind identifies a transport event.
type EventKind int

const (
	EventFrame EventKind = iota
	EventPong
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventPong:
		return "pong"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a Session. Each session emits at most one terminal
// event (EventClosed or EventError) and none after a local Close.
type Event struct {
	Kind   EventKind
	Data   []byte    // EventFrame
	At     time.Time // Receive time for frames and pongs
	Code   int       // EventClosed
	Reason string    // EventClosed
	Err    error     // EventError
}

// EventSink receives session events in transport order. It may block.
type EventSink func(Event)

// Session is one open physical connection.
type Session interface {
	// ID returns a unique identifier for logging.
	ID() string

	// OpenedAt returns when the transport handshake completed.
	OpenedAt() time.Time

	// Send writes a command as a text frame.
	Send(cmd Command) error

	// Probe sends an empty ping without waiting for the pong.
	Probe() error

	// Close sends a close frame and releases the transport. Idempotent.
	Close(code int, reason string) error
}

// Dialer opens sessions. Dial returns once the transport is established.
type Dialer interface {
	Dial(ctx context.Context, a *auth.Authorization, sink EventSink) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, a *auth.Authorization, sink EventSink) (Session, error)

// Dial calls fn.
func (fn DialerFunc) Dial(ctx context.Context, a *auth.Authorization, sink EventSink) (Session, error) {
	return fn(ctx, a, sink)
}

// TimeSource provides the reference timestamp for signing.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Config configures a Controller.
type Config struct {
	Topics               []string
	PingInterval         time.Duration
	ProbeTimeout         time.Duration // 0 disables
	RotationInterval     time.Duration // 0 disables
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // <= 0 = unlimited
	MinSessionDuration   time.Duration
}

// DefaultConfig returns defaults sized for the announcement socket, which
// drops sessions after 24 hours.
func DefaultConfig() Config {
	return Config{
		PingInterval:         30 * time.Second,
		RotationInterval:     23 * time.Hour,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		MinSessionDuration:   30 * time.Second,
	}
}

// DialerConfig configures the websocket Dialer.
type DialerConfig struct {
	URL              string // Base address, e.g. wss://api.binance.com/sapi/wss
	APIKey           string // Sent as X-MBX-APIKEY
	ProxyURL         string // http, https, socks5 or socks5h; empty = direct
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // Read and write buffer size in bytes
}

// DefaultDialerConfig returns sensible defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		URL:              "wss://api.binance.com/sapi/wss",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       64 * 1024,
	}
}
