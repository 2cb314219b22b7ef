package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nantokaworks/triad-arena/internal/app"
	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/version"
	"github.com/nantokaworks/triad-arena/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	logger.Info("Starting triad-arena server", zap.String("version", version.String()))

	a, err := app.Startup(env.Value)
	if err != nil {
		logger.Fatal("Failed to start arena services", zap.Error(err))
	}

	port := 8080
	if env.Value.ServerPort != 0 {
		port = env.Value.ServerPort
	}
	if err := webserver.StartWebServer(port, a.Services); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	if env.Value.SweepInterval > 0 {
		a.Services.Sweep.Start(env.Value.SweepInterval)
	} else {
		logger.Info("Sweep ticker disabled; trigger sweeps via /api/sweep (set SWEEP_INTERVAL_SEC to enable)")
	}

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/", port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	webserver.Shutdown()
	a.Shutdown()
	logger.Info("Server stopped")
}
