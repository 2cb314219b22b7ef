// Package app wires storage, generation and the arena services together.
package app

import (
	"strings"

	"github.com/nantokaworks/triad-arena/internal/chat"
	"github.com/nantokaworks/triad-arena/internal/collector"
	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/evaluator"
	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/moderation"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/reply"
	"github.com/nantokaworks/triad-arena/internal/scheduler"
	"github.com/nantokaworks/triad-arena/internal/settings"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/sweep"
	"github.com/nantokaworks/triad-arena/internal/webserver"
	"go.uber.org/zap"
)

// App owns the long-lived services of one process.
type App struct {
	Services  webserver.Services
	Replies   *reply.Coordinator
	Scheduler *scheduler.Scheduler
	Evaluator *evaluator.Evaluator
}

// Startup opens the database at cfg.DBPath, seeds defaults and builds every
// service. Settings stored in the database win over the environment.
func Startup(cfg env.Env) (*App, error) {
	if _, err := localdb.SetupDB(cfg.DBPath); err != nil {
		return nil, err
	}
	logger.Info("Database initialized", zap.String("path", cfg.DBPath))

	// Environment values are stored before defaults fill the remaining keys.
	manager := settings.NewSettingsManager(localdb.GetDB())
	if err := manager.MigrateFromEnv(); err != nil {
		logger.Warn("Failed to migrate settings from environment", zap.Error(err))
	}
	if err := manager.InitializeDefaultSettings(); err != nil {
		logger.Warn("Failed to initialize default settings", zap.Error(err))
	}
	if err := moderation.SeedDefaultWords(); err != nil {
		logger.Warn("Failed to seed moderation words", zap.Error(err))
	}

	personas, err := persona.Default()
	if err != nil {
		return nil, err
	}

	gen := generation.NewClient(generation.NewCompleter(generationConfig(cfg, manager)))
	filter := moderation.NewWordFilter()
	replies := reply.NewCoordinator(personas, gen)
	coll := collector.New(personas)

	a := &App{
		Replies: replies,
		Scheduler: scheduler.New(personas, coll, gen, replies, scheduler.Config{
			Duration:        cfg.TriadDuration,
			KickoffCooldown: cfg.KickoffReplyCooldown,
		}),
		Evaluator: evaluator.New(personas, gen),
	}

	poolManager := pool.NewManager(gen, pool.Config{
		Spacing:    cfg.PoolSpacing,
		Jitter:     cfg.PoolJitter,
		Categories: cfg.PromptCategories,
	})
	target := func() int {
		return manager.GetInt("POOL_TARGET", cfg.PoolTargetCount)
	}

	a.Services = webserver.Services{
		Pool:      poolManager,
		Collector: coll,
		Chat: chat.New(filter, replies, chat.Config{
			ModerationFailMode: cfg.ModerationFailMode,
			ReplyCooldown:      cfg.ReplyCooldown,
		}),
		Sweep:      sweep.NewRunner(poolManager, a.Scheduler, a.Evaluator, target),
		Moderation: filter,
		Personas:   personas,
	}

	if status, err := manager.CheckFeatureStatus(); err == nil && !status.GenerationConfigured {
		logger.Warn("Generation backend is not configured; fallbacks will be used",
			zap.Strings("missing", status.MissingSettings))
	}

	logger.Info("Arena services ready",
		zap.Int("personas", personas.Len()),
		zap.Duration("triad_duration", cfg.TriadDuration),
		zap.String("moderation_fail_mode", cfg.ModerationFailMode))
	return a, nil
}

// Shutdown stops the sweep ticker and waits for in-flight persona replies.
func (a *App) Shutdown() {
	if a.Services.Sweep != nil {
		a.Services.Sweep.Stop()
	}
	if a.Replies != nil {
		a.Replies.Wait()
	}
	if localdb.DBClient != nil {
		if err := localdb.DBClient.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
		localdb.DBClient = nil
	}
}

func generationConfig(cfg env.Env, manager *settings.SettingsManager) generation.Config {
	gc := generation.Config{
		Backend:       cfg.GenerationBackend,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OllamaBaseURL: generation.ResolveOllamaBaseURL(cfg.OllamaBaseURL),
		OllamaModel:   cfg.OllamaModel,
	}
	if v, err := manager.GetRealValue("GENERATION_BACKEND"); err == nil && strings.TrimSpace(v) != "" {
		gc.Backend = v
	}
	if v, err := manager.GetRealValue("OPENAI_API_KEY"); err == nil && strings.TrimSpace(v) != "" {
		gc.OpenAIAPIKey = strings.TrimSpace(v)
	}
	gc.Backend = generation.ResolveBackend(gc.Backend)
	return gc
}
