package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds HTTP endpoint settings.
type Config struct {
	Addr string // e.g. ":9090"
	Path string // Prometheus path, default /metrics
}

// Health is the /health response body.
type Health struct {
	Status            string   `json:"status"`
	State             string   `json:"state,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	ReconnectAttempts int      `json:"reconnect_attempts"`
	LastError         string   `json:"last_error,omitempty"`
	Sessions          []string `json:"recent_sessions,omitempty"`
	Extra             any      `json:"build,omitempty"`
}

// Server serves /health and Prometheus metrics.
type Server struct {
	cfg      Config
	src      Sources
	registry *prometheus.Registry
	build    any
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. build is included in /health when non-nil.
func NewServer(cfg Config, src Sources, build any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		cfg:      cfg,
		src:      src,
		registry: registry,
		build:    build,
		logger:   logger,
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	s.logger.Info("metrics server started", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "healthy", Extra: s.build}
	healthy := true

	if s.src.Stream != nil {
		st := s.src.Stream.Status()
		healthy = st.Healthy
		h.State = st.State.String()
		h.SessionID = st.SessionID
		h.ReconnectAttempts = st.ReconnectAttempts
		if st.LastError != nil {
			h.LastError = st.LastError.Error()
		}
		for _, d := range st.Stats.Durations {
			h.Sessions = append(h.Sessions, d.String())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		h.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}
