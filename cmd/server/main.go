// Ward - Real-time fraud decisioning for marketplace checkpoints
package main

import (
	"context"
	"os"

	"github.com/wardlabs/ward/internal/config"
	"github.com/wardlabs/ward/internal/logging"
	"github.com/wardlabs/ward/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting ward",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"eval_workers", cfg.EvalWorkers,
		"lookup_budget", cfg.LookupBudget,
		"simulation_shards", cfg.SimulationShards,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
