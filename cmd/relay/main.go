// relay keeps an authenticated announcement stream open, deduplicates what
// it receives against the REST listing and forwards fresh announcements.
//
// Usage: relay -config configs/relay.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/announce-relay/internal/announce"
	"github.com/rickgao/announce-relay/internal/api"
	"github.com/rickgao/announce-relay/internal/auth"
	"github.com/rickgao/announce-relay/internal/config"
	"github.com/rickgao/announce-relay/internal/connection"
	"github.com/rickgao/announce-relay/internal/database"
	"github.com/rickgao/announce-relay/internal/metrics"
	"github.com/rickgao/announce-relay/internal/notify"
	"github.com/rickgao/announce-relay/internal/poller"
	"github.com/rickgao/announce-relay/internal/router"
	"github.com/rickgao/announce-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	logger.Info("starting relay", version.LogAttr(), "config", configPath)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With("instance_id", cfg.Instance.ID)

	logger.Info("configuration loaded",
		"ws_url", cfg.API.WSURL,
		"topics", cfg.Stream.Topics,
		"poller", cfg.Poller.Enabled,
		"webhook", cfg.Notifier.WebhookURL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seen store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Notifier
	var notifier announce.Notifier
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewWebhook(notify.WebhookConfig{
			URL:        cfg.Notifier.WebhookURL,
			Timeout:    cfg.Notifier.Timeout,
			MaxRetries: cfg.Notifier.MaxRetries,
			RetryDelay: cfg.Notifier.RetryDelay,
		}, logger.With("component", "webhook"))
	} else {
		notifier = notify.NewLogNotifier(logger.With("component", "notifier"))
	}

	pipeline := announce.NewPipeline(announce.Config{
		QueueSize: cfg.Notifier.QueueSize,
	}, store, notifier, logger.With("component", "pipeline"))

	// REST client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.APIKey,
		api.WithCMSURL(cfg.API.CMSURL),
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Stream
	creds, err := auth.LoadCredentials(cfg.API.APIKey, cfg.API.APISecret)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	signer := auth.NewSigner(*creds, auth.WithRecvWindow(cfg.Stream.RecvWindow))

	dialer, err := connection.NewDialer(connection.DialerConfig{
		URL:              cfg.API.WSURL,
		APIKey:           creds.Key,
		ProxyURL:         cfg.API.ProxyURL,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		WriteTimeout:     cfg.Stream.WriteTimeout,
		BufferSize:       cfg.Stream.BufferSize * 1024,
	}, logger.With("component", "dialer"))
	if err != nil {
		return fmt.Errorf("create dialer: %w", err)
	}

	rt := router.New(router.DefaultConfig(), pipeline, logger.With("component", "router"))

	controller := connection.NewController(connection.Config{
		Topics:               cfg.Stream.Topics,
		PingInterval:         cfg.Stream.PingInterval,
		ProbeTimeout:         cfg.Stream.ProbeTimeout,
		RotationInterval:     cfg.Stream.RotationInterval,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		MinSessionDuration:   cfg.Stream.MinSessionDuration,
	}, signer, dialer, rt, logger.With("component", "stream"),
		connection.WithTimeSource(apiClient),
	)

	var poll *poller.Poller
	if cfg.Poller.Enabled {
		poll = poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.API.Timeout,
			CatalogIDs:  cfg.Poller.CatalogIDs,
			PageSize:    cfg.Poller.PageSize,
		}, apiClient, pipeline, logger.With("component", "poller"))
	}

	sources := metrics.Sources{Stream: controller, Router: rt, Pipeline: pipeline}
	if poll != nil {
		sources.Poller = poll
	}
	metricsServer := metrics.NewServer(metrics.Config{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Path: cfg.Metrics.Path,
	}, sources, version.Get(), logger.With("component", "metrics"))

	// Start consumers before producers. The pipeline outlives the signal
	// context so Stop can drain it.
	if err := pipeline.Start(context.Background()); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	if poll != nil {
		if err := poll.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx)
	})

	logger.Info("relay running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	runErr := g.Wait()
	if errors.Is(runErr, connection.ErrReconnectsExhausted) {
		logger.Error("stream gave up", "error", runErr)
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if poll != nil {
		poll.Stop(shutdownCtx)
	}
	pipeline.Stop(shutdownCtx)
	metricsServer.Stop(shutdownCtx)

	s := pipeline.Stats()
	logger.Info("relay stopped",
		"received", s.Received,
		"duplicates", s.Duplicates,
		"notified", s.Notified,
		"failures", s.Failures,
	)
	return runErr
}

// openStore selects the Postgres store when a database is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) (database.SeenStore, func(), error) {
	if !cfg.Database.Postgres.Enabled() {
		logger.Warn("no database configured, seen keys are kept in memory only")
		mem, err := database.NewMemoryStore(cfg.Notifier.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}

	db := cfg.Database.Postgres
	logger.Info("connecting to database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)
	pool, err := database.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	pg := database.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if n, err := pg.Count(ctx); err == nil {
		logger.Info("database connected", "seen_keys", n)
	}

	cached, err := database.NewCachedStore(pg, cfg.Notifier.CacheSize)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return cached, pool.Close, nil
}
