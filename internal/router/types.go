package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrParse is returned when a frame is not valid JSON.
	ErrParse = errors.New("router: parse frame")

	// ErrHandler is returned when the consumer fails or panics on a frame.
	ErrHandler = errors.New("router: handler failed")
)

// Frame types and markers used by the announcement socket.
const (
	TypeCommand      = "COMMAND"
	TypeData         = "DATA"
	TypeAnnouncement = "ANNOUNCEMENT"

	SubTypeSubscribe   = "SUBSCRIBE"
	SubTypeUnsubscribe = "UNSUBSCRIBE"

	SuccessMarker = "SUCCESS"
)

// Kind is the closed set of frame classifications.
type Kind int

const (
	KindUnknown Kind = iota
	KindControlAck
	KindDataPayload
)

func (k Kind) String() string {
	switch k {
	case KindControlAck:
		return "control_ack"
	case KindDataPayload:
		return "data_payload"
	default:
		return "unknown"
	}
}

// Frame is a parsed inbound frame.
type Frame struct {
	Kind    Kind
	Type    string
	SubType string
	Data    string // string payloads are unquoted, other JSON is kept verbatim
	Code    string
	Topic   string
	Success *bool

	Raw        []byte
	ReceivedAt time.Time
}

// IsSubscribeAck reports whether the frame acknowledges a SUBSCRIBE command.
// Untyped success frames count as subscribe acks since they carry no subType;
// the caller decides whether one is expected.
func (f Frame) IsSubscribeAck() bool {
	if f.Kind != KindControlAck {
		return false
	}
	return f.SubType == "" || strings.EqualFold(f.SubType, SubTypeSubscribe)
}

// Succeeded reports whether a control ack signals success.
func (f Frame) Succeeded() bool {
	if f.Success != nil {
		return *f.Success
	}
	return f.Data == SuccessMarker
}

// wireFrame is the JSON shape of every inbound frame.
type wireFrame struct {
	Type    string          `json:"type"`
	SubType string          `json:"subType"`
	Data    json.RawMessage `json:"data"`
	Code    json.RawMessage `json:"code"`
	Topic   string          `json:"topic"`
	Success *bool           `json:"success"`
}

// Parse decodes and classifies a raw frame.
func Parse(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Type:    w.Type,
		SubType: w.SubType,
		Data:    rawString(w.Data),
		Code:    rawString(w.Code),
		Topic:   w.Topic,
		Success: w.Success,
		Raw:     raw,
	}
	f.Kind = classify(f)
	return f, nil
}

func classify(f Frame) Kind {
	switch strings.ToUpper(f.Type) {
	case TypeCommand:
		return KindControlAck
	case TypeData, TypeAnnouncement:
		return KindDataPayload
	}
	if f.Data == SuccessMarker || f.Success != nil {
		return KindControlAck
	}
	return KindUnknown
}

// rawString unquotes JSON strings and returns any other value as text.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Config holds router settings.
type Config struct {
	// DeliverUnknown passes unclassified frames to the handler.
	DeliverUnknown bool
}

// DefaultConfig returns the fail-open configuration.
func DefaultConfig() Config {
	return Config{DeliverUnknown: true}
}

// Stats contains router counters.
type Stats struct {
	Received      int64
	ControlAcks   int64
	DataPayloads  int64
	Unknown       int64
	Delivered     int64
	ParseErrors   int64
	HandlerErrors int64
}
