package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes data payloads. HandleData runs on the caller's goroutine
// and must not block for long.
type Handler interface {
	HandleData(ctx context.Context, f Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Frame) error

// HandleData calls fn.
func (fn HandlerFunc) HandleData(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Router parses frames and hands data payloads to a Handler exactly once.
type Router struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Router. A nil handler counts frames without delivering them.
func New(cfg Config, handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Route classifies one raw frame and dispatches it. The parsed frame is
// returned so the caller can act on control acks.
func (r *Router) Route(ctx context.Context, raw []byte, receivedAt time.Time) (Frame, error) {
	r.count(func(s *Stats) { s.Received++ })

	f, err := Parse(raw)
	if err != nil {
		r.count(func(s *Stats) { s.ParseErrors++ })
		r.logger.Warn("dropping unparseable frame", "error", err, "size", len(raw))
		return Frame{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	f.ReceivedAt = receivedAt

	switch f.Kind {
	case KindControlAck:
		r.count(func(s *Stats) { s.ControlAcks++ })
		return f, nil

	case KindDataPayload:
		r.count(func(s *Stats) { s.DataPayloads++ })
		return f, r.dispatch(ctx, f)

	default:
		r.count(func(s *Stats) { s.Unknown++ })
		if !r.cfg.DeliverUnknown {
			r.logger.Debug("skipping unknown frame", "type", f.Type)
			return f, nil
		}
		return f, r.dispatch(ctx, f)
	}
}

// dispatch delivers a frame, converting handler errors and panics to
// ErrHandler.
func (r *Router) dispatch(ctx context.Context, f Frame) (err error) {
	if r.handler == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandler, p)
		}
		if err != nil {
			r.count(func(s *Stats) { s.HandlerErrors++ })
			r.logger.Error("handler failed", "error", err, "kind", f.Kind.String())
			return
		}
		r.count(func(s *Stats) { s.Delivered++ })
	}()

	if herr := r.handler.HandleData(ctx, f); herr != nil {
		return fmt.Errorf("%w: %w", ErrHandler, herr)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Router) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
