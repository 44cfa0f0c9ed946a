// Package observability provides logging, metrics, and context helpers for
// the AI service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for analyses, scraping, and LLM calls
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("request_id", reqID).Msg("analysis started")
//
// Add analysis context to a logger:
//
//	logger = observability.WithAnalysisContext(logger, requestID, query)
//
// # Metrics
//
// Initialize and record metrics:
//
//	metrics := observability.NewMetrics()
//	metrics.AnalysesStarted.Inc()
//	metrics.TaskFailures.WithLabelValues("summary", "timeout").Inc()
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	reqID := observability.RequestIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: Analysis request identifier
//   - query: User's research query
//   - task: Analysis task (summary, gap_analysis, explanation)
//   - provider: LLM provider (openai, anthropic, gemini)
//   - model: LLM model identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
