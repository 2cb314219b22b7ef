// Command sweep runs a single sweep against the database and prints the
// result as JSON. It suits cron-style deployments without the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/nantokaworks/triad-arena/internal/app"
	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "upper bound for the whole sweep")
	dbPath := flag.String("db", "", "database path (defaults to DB_PATH)")
	flag.Parse()

	logger.Init(false)
	defer logger.Sync()

	env.LoadEnv()
	cfg := env.Value
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	logger.Info("Using database path", zap.String("path", cfg.DBPath))

	a, err := app.Startup(cfg)
	if err != nil {
		logger.Fatal("Failed to start arena services", zap.Error(err))
	}
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := a.Services.Sweep.Run(ctx)
	if err != nil {
		logger.Error("Sweep failed", zap.Error(err))
		a.Shutdown()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("Failed to write result", zap.Error(err))
	}
}
