// Package main provides the entry point for the AI service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/researchgenie/ai-service/internal/backend"
	"github.com/researchgenie/ai-service/internal/config"
	"github.com/researchgenie/ai-service/internal/formatter"
	"github.com/researchgenie/ai-service/internal/llm"
	"github.com/researchgenie/ai-service/internal/observability"
	"github.com/researchgenie/ai-service/internal/pipeline"
	"github.com/researchgenie/ai-service/internal/prompt"
	"github.com/researchgenie/ai-service/internal/refiner"
	"github.com/researchgenie/ai-service/internal/scraper"
	httpserver "github.com/researchgenie/ai-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("ai-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	// Scraper service client.
	scraperClient := scraper.NewClient(scraper.Config{
		BaseURL:        cfg.Scraper.BaseURL,
		Timeout:        cfg.Scraper.Timeout,
		MaxRetries:     cfg.Scraper.MaxRetries,
		RetryBaseDelay: cfg.Scraper.RetryBaseDelay,
		RateLimit:      cfg.Scraper.RateLimit,
		BurstSize:      cfg.Scraper.BurstSize,
	}, logger)

	// LLM generation provider.
	generator, err := llm.NewGenerator(llm.FactoryConfig{
		Provider: cfg.LLM.Provider,
		Options: llm.ProviderOptions{
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        cfg.LLM.Timeout,
			MaxRetries:     cfg.LLM.MaxRetries,
			RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
		Gemini: llm.GeminiConfig{
			APIKey:  cfg.LLM.Gemini.APIKey,
			Model:   cfg.LLM.Gemini.Model,
			BaseURL: cfg.LLM.Gemini.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM generator: %w", err)
	}
	providerLogger := observability.WithProviderContext(logger, generator.Provider(), generator.Model())
	providerLogger.Info().Msg("LLM provider initialized")

	// Analysis pipeline.
	queryRefiner := refiner.New()
	promptBuilder := prompt.NewBuilder(prompt.NewLibrary(), cfg.Pipeline.PromptCharBudget)
	orchestrator := pipeline.NewOrchestrator(
		pipeline.Config{
			RefineQueryEnabled: cfg.Pipeline.RefineQueryEnabled,
			MaxPapers:          cfg.Pipeline.MaxPapers,
			OverallDeadline:    cfg.Pipeline.OverallDeadline,
		},
		queryRefiner,
		scraperClient,
		generator,
		promptBuilder,
		formatter.New(),
		metrics,
		logger,
	)

	// Best-effort Backend notifier.
	notifier := backend.NewNotifier(backend.Config{
		Enabled: cfg.Backend.NotifyEnabled,
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, logger)

	// HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, orchestrator, queryRefiner, notifier, logger)

	// Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("ai-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down ai-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("ai-service shutdown complete")
	return nil
}
