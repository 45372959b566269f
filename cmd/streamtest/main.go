// streamtest connects to the announcement stream and prints every frame to
// the console.
// Usage: go run ./cmd/streamtest -config configs/relay.local.yaml
//
// Required environment variables (when referenced from the config):
//
//	BINANCE_API_KEY    - API key from the exchange dashboard
//	BINANCE_API_SECRET - Matching HMAC secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/announce-relay/internal/announce"
	"github.com/rickgao/announce-relay/internal/auth"
	"github.com/rickgao/announce-relay/internal/config"
	"github.com/rickgao/announce-relay/internal/connection"
	"github.com/rickgao/announce-relay/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/relay.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds, err := auth.LoadCredentials(cfg.API.APIKey, cfg.API.APISecret)
	if err != nil {
		logger.Error("API credentials required for the stream", "error", err)
		logger.Info("Set environment variables: BINANCE_API_KEY and BINANCE_API_SECRET")
		os.Exit(1)
	}
	logger.Info("using API credentials", "credentials", creds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer, err := connection.NewDialer(connection.DialerConfig{
		URL:              cfg.API.WSURL,
		APIKey:           creds.Key,
		ProxyURL:         cfg.API.ProxyURL,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		WriteTimeout:     cfg.Stream.WriteTimeout,
		BufferSize:       cfg.Stream.BufferSize * 1024,
	}, logger)
	if err != nil {
		logger.Error("failed to create dialer", "error", err)
		os.Exit(1)
	}

	printer := router.HandlerFunc(func(_ context.Context, f router.Frame) error {
		printFrame(f, *verbose)
		return nil
	})
	rt := router.New(router.DefaultConfig(), printer, logger)

	connCfg := connection.DefaultConfig()
	connCfg.Topics = cfg.Stream.Topics
	connCfg.PingInterval = cfg.Stream.PingInterval
	connCfg.ProbeTimeout = cfg.Stream.ProbeTimeout

	signer := auth.NewSigner(*creds, auth.WithRecvWindow(cfg.Stream.RecvWindow))
	controller := connection.NewController(connCfg, signer, dialer, rt, logger)

	logger.Info("starting stream", "topics", connCfg.Topics)
	if err := controller.Start(ctx); err != nil {
		logger.Error("failed to start stream", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := controller.Status()
				rs := rt.Stats()
				logger.Info("stats",
					"state", st.State,
					"session_id", st.SessionID,
					"opens", st.Stats.Opens,
					"received", rs.Received,
					"data", rs.DataPayloads,
					"parse_errors", rs.ParseErrors,
					"pongs", st.Liveness.Pongs,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	waitErr := make(chan error, 1)
	go func() { waitErr <- controller.Wait() }()

	select {
	case <-ctx.Done():
	case err := <-waitErr:
		logger.Error("stream ended", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	controller.Stop(shutdownCtx)
	logger.Info("shutdown complete", "sessions", controller.Stats().Durations)
}

func printFrame(f router.Frame, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s\n", f.Kind, f.Raw)
		return
	}
	if f.Kind != router.KindDataPayload {
		fmt.Printf("[%s] type=%s subType=%s data=%s\n", f.Kind, f.Type, f.SubType, f.Data)
		return
	}

	a, err := announce.Decode(f.Data)
	if err != nil {
		fmt.Printf("[DATA] topic=%s undecodable: %v\n", f.Topic, err)
		return
	}
	fmt.Printf("[ANNOUNCEMENT] topic=%s catalog=%q published=%s title=%q\n",
		f.Topic, a.CatalogName, a.Published().UTC().Format(time.RFC3339), a.Title)
}
