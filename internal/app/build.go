package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/charbooth/internal/config"
	"github.com/antoniostano/charbooth/internal/engine"
	"github.com/antoniostano/charbooth/internal/generation"
	"github.com/antoniostano/charbooth/internal/httpapi"
	"github.com/antoniostano/charbooth/internal/observability"
	"github.com/antoniostano/charbooth/internal/persona"
	"github.com/antoniostano/charbooth/internal/session"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Coordinator *generation.Coordinator
	Store       session.Store
	Engine      engine.Engine
	Catalog     *persona.Catalog
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB connections).
	Cleanup func() error
}

// EngineConfig translates backend settings into engine construction options.
func EngineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		Kind: cfg.LLMEngine,
		Params: engine.Params{
			ContextLength: cfg.LLMContextLength,
			Temperature:   cfg.LLMTemperature,
			TopP:          cfg.LLMTopP,
			MaxTokens:     cfg.LLMMaxTokens,
			GPULayers:     cfg.LLMGPULayers,
		},
		LlamaCppCLI:       cfg.LlamaCppCLI,
		LlamaCppModelPath: cfg.LlamaCppModelPath,
		OllamaURL:         cfg.OllamaURL,
		OllamaModel:       cfg.OllamaModel,
		ArkAPIKey:         cfg.ArkAPIKey,
		ArkModel:          cfg.ArkModel,
		ArkBaseURL:        cfg.ArkBaseURL,
		ArkRegion:         cfg.ArkRegion,
		HTTPTimeout:       cfg.LLMTimeout,
	}
}

// Build assembles the backend. The engine is constructed once here and never
// swapped while serving. Metrics are registered on reg, or on the default
// registry when reg is nil.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	catalog, err := persona.Load(cfg.PersonaDir, cfg.GuardrailsPath)
	if err != nil {
		return nil, fmt.Errorf("persona catalog init failed: %w", err)
	}

	eng, err := engine.New(ctx, EngineConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	store, err := session.NewStore(ctx, cfg.SessionStore, cfg.DatabaseURL, cfg.SQLitePath, session.Options{
		TTL:             cfg.SessionTTL,
		HistoryMaxTurns: cfg.SessionHistoryMaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	coord := generation.New(store, catalog, eng, metrics, generation.Options{
		Timeout: cfg.LLMTimeout,
		Logger:  logger,
	})
	api := httpapi.New(cfg, coord, metrics, logger)

	logger.Info("backend assembled",
		"engine", eng.Name(),
		"session_store", cfg.SessionStore,
		"personas", len(catalog.List()),
	)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Coordinator: coord,
		Store:       store,
		Engine:      eng,
		Catalog:     catalog,
		Metrics:     metrics,
		Cleanup: func() error {
			var errs []error
			if c, ok := eng.(interface{ Close() error }); ok {
				errs = append(errs, c.Close())
			}
			errs = append(errs, store.Close())
			return errors.Join(errs...)
		},
	}, nil
}

// StartBackground runs the session janitor until ctx ends.
func (b *BuildResult) StartBackground(ctx context.Context) {
	session.StartJanitor(ctx, b.Store, b.Config.SessionJanitorInterval, func(removed int) {
		if removed > 0 {
			b.Metrics.SessionsSwept.Add(float64(removed))
			b.Metrics.SessionEvents.WithLabelValues("expired").Add(float64(removed))
		}
	})
}
