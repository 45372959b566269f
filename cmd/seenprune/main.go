// seenprune deletes seen-announcement keys older than the configured horizon.
// Usage: go run ./cmd/seenprune -config configs/relay.local.yaml [-dry-run]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/rickgao/announce-relay/internal/config"
	"github.com/rickgao/announce-relay/internal/database"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	horizon := flag.Duration("horizon", 0, "override notifier.seen_horizon")
	dryRun := flag.Bool("dry-run", false, "report the row count without deleting")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Database.Postgres.Enabled() {
		logger.Error("database.postgres.host is required")
		os.Exit(1)
	}

	keep := cfg.Notifier.SeenHorizon
	if *horizon > 0 {
		keep = *horizon
	}
	cutoff := time.Now().Add(-keep)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := database.NewPostgresStore(pool)
	before, err := store.Count(ctx)
	if err != nil {
		logger.Error("failed to count keys", "error", err)
		os.Exit(1)
	}

	if *dryRun {
		logger.Info("dry run", "keys", before, "cutoff", cutoff)
		return
	}

	n, err := store.PruneBefore(ctx, cutoff)
	if err != nil {
		logger.Error("prune failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pruned seen keys",
		"deleted", n,
		"remaining", before-n,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
	)
}
