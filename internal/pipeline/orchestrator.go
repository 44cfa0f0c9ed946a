// Package pipeline orchestrates the paper analysis flow: query refinement,
// paper retrieval, concurrent per-task generation and result assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/researchgenie/ai-service/internal/domain"
	"github.com/researchgenie/ai-service/internal/llm"
	"github.com/researchgenie/ai-service/internal/observability"
)

// defaultMaxPapers caps retrieval when no limit is configured.
const defaultMaxPapers = 10

// Refiner rewrites raw queries before retrieval.
type Refiner interface {
	Refine(rawQuery string) domain.RefinedQuery
}

// PaperFetcher retrieves papers for a query.
type PaperFetcher interface {
	FetchPapers(ctx context.Context, query string, maxResults int) ([]domain.PaperRecord, error)
}

// PromptBuilder renders the prompt for one analysis task.
type PromptBuilder interface {
	Build(task domain.AnalysisTask, query string, papers []domain.PaperRecord, profile domain.UserProfile) (llm.Prompt, error)
}

// ResultFormatter validates and shapes raw generation output.
type ResultFormatter interface {
	FormatText(task domain.AnalysisTask, raw string) (string, error)
	FormatGaps(raw string) ([]string, error)
}

// Config holds orchestrator settings.
type Config struct {
	// RefineQueryEnabled toggles the refinement step before retrieval.
	RefineQueryEnabled bool
	// MaxPapers caps the number of papers requested from the scraper.
	MaxPapers int
	// OverallDeadline bounds one full Analyze call end to end. Zero means
	// no pipeline-imposed deadline; a caller deadline is always honored.
	OverallDeadline time.Duration
}

// Orchestrator runs the analysis pipeline. Dependencies are injected as
// interfaces so each stage can be replaced in tests.
type Orchestrator struct {
	config    Config
	refiner   Refiner
	fetcher   PaperFetcher
	generator llm.Generator
	builder   PromptBuilder
	formatter ResultFormatter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewOrchestrator creates an Orchestrator with the given dependencies.
func NewOrchestrator(
	cfg Config,
	refiner Refiner,
	fetcher PaperFetcher,
	generator llm.Generator,
	builder PromptBuilder,
	formatter ResultFormatter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.MaxPapers <= 0 {
		cfg.MaxPapers = defaultMaxPapers
	}
	if cfg.OverallDeadline < 0 {
		cfg.OverallDeadline = 0
	}

	return &Orchestrator{
		config:    cfg,
		refiner:   refiner,
		fetcher:   fetcher,
		generator: generator,
		builder:   builder,
		formatter: formatter,
		metrics:   metrics,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// taskResult captures the outcome of one analysis task branch.
type taskResult struct {
	task    domain.AnalysisTask
	text    string
	gaps    []string
	failure string
}

// Analyze runs the full pipeline for one request.
//
// Failure policy: retrieval failures abort the pipeline before any generation
// call; task failures are isolated, reported through Warnings and never
// cancel sibling tasks. The call returns an error only when retrieval fails
// or every requested task failed, so a success always carries at least one
// populated output field.
func (o *Orchestrator) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.StructuredOutput, error) {
	start := time.Now()
	o.metrics.AnalysesStarted.Inc()

	if o.config.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.OverallDeadline)
		defer cancel()
	}

	logger := observability.WithAnalysisContext(o.logger, observability.RequestIDFromContext(ctx), req.RawQuery)

	query := o.refineQuery(logger, req.RawQuery)

	o.metrics.ScrapeRequests.Inc()
	scrapeStart := time.Now()
	papers, err := o.fetcher.FetchPapers(ctx, query, o.config.MaxPapers)
	o.metrics.ScrapeDuration.Observe(time.Since(scrapeStart).Seconds())
	if err != nil {
		var terr *domain.TransportError
		if errors.As(err, &terr) {
			o.metrics.ScrapeFailures.WithLabelValues(string(terr.Kind)).Inc()
		} else {
			o.metrics.ScrapeFailures.WithLabelValues("internal_error").Inc()
		}
		return nil, o.failRetrieval(ctx, logger, start, err)
	}
	o.metrics.PapersRetrieved.Observe(float64(len(papers)))
	if len(papers) == 0 {
		logger.Warn().Str("refined_query", query).Msg("scraper returned no papers")
		o.metrics.AnalysesFailed.WithLabelValues("no_papers_found").Inc()
		o.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
		return nil, domain.NewPipelineError("retrieval", domain.ErrNoPapersFound, nil)
	}

	logger.Info().
		Int("papers", len(papers)).
		Str("refined_query", query).
		Msg("papers retrieved, starting analysis tasks")

	tasks := req.RequestedTasks()
	results := o.runTasks(ctx, query, papers, req.Profile, tasks)

	output, warnings, succeeded := assemble(results)
	if succeeded == 0 {
		cause := domain.ErrAllTasksFailed
		if allDeadline(results) {
			cause = domain.ErrDeadlineExceeded
		}
		logger.Error().Strs("warnings", warnings).Msg("all analysis tasks failed")
		o.metrics.AnalysesFailed.WithLabelValues(failureLabel(cause)).Inc()
		o.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
		return nil, domain.NewPipelineError("analysis", cause, warnings)
	}

	output.PapersAnalyzed = len(papers)

	outcome := "complete"
	if len(warnings) > 0 {
		outcome = "partial"
	}
	o.metrics.AnalysesCompleted.WithLabelValues(outcome).Inc()
	o.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Str("outcome", outcome).
		Int("tasks_requested", len(tasks)).
		Int("tasks_succeeded", succeeded).
		Dur("elapsed", time.Since(start)).
		Msg("analysis finished")

	return output, nil
}

// refineQuery applies best-effort refinement when enabled.
func (o *Orchestrator) refineQuery(logger zerolog.Logger, rawQuery string) string {
	if !o.config.RefineQueryEnabled {
		return rawQuery
	}

	refined := o.refiner.Refine(rawQuery)
	if refined.WasRefined {
		o.metrics.Refinements.WithLabelValues("refined").Inc()
		logger.Debug().Str("refined_query", refined.Text).Msg("query refined")
	} else {
		o.metrics.Refinements.WithLabelValues("unchanged").Inc()
	}
	return refined.Text
}

// failRetrieval classifies a retrieval failure and finalizes metrics.
func (o *Orchestrator) failRetrieval(ctx context.Context, logger zerolog.Logger, start time.Time, err error) error {
	cause := domain.ErrRetrievalFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cause = domain.ErrDeadlineExceeded
	}

	logger.Error().Err(err).Msg("paper retrieval failed")
	o.metrics.AnalysesFailed.WithLabelValues(failureLabel(cause)).Inc()
	o.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	return domain.NewPipelineError("retrieval", fmt.Errorf("%w: %s", cause, err), nil)
}

// runTasks fans the requested tasks out over an errgroup and collects one
// result per task. Branches always return nil so one failing task never
// cancels its siblings; failures travel in the result slots instead.
func (o *Orchestrator) runTasks(
	ctx context.Context,
	query string,
	papers []domain.PaperRecord,
	profile domain.UserProfile,
	tasks []domain.AnalysisTask,
) []taskResult {
	results := make([]taskResult, len(tasks))

	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = o.runTask(ctx, task, query, papers, profile)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runTask executes one analysis task: build prompt, generate, format.
func (o *Orchestrator) runTask(
	ctx context.Context,
	task domain.AnalysisTask,
	query string,
	papers []domain.PaperRecord,
	profile domain.UserProfile,
) taskResult {
	logger := observability.WithTaskContext(o.logger, string(task))
	result := taskResult{task: task}

	prompt, err := o.builder.Build(task, query, papers, profile)
	if err != nil {
		logger.Error().Err(err).Msg("prompt construction failed")
		return o.failTask(ctx, result, err)
	}

	o.metrics.LLMRequestsTotal.WithLabelValues(o.generator.Provider(), o.generator.Model()).Inc()
	genResult, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Warn().Err(err).Msg("generation failed")
		return o.failTask(ctx, result, err)
	}

	o.metrics.LLMRequestDuration.WithLabelValues(o.generator.Provider(), genResult.Model).Observe(genResult.Latency.Seconds())
	o.metrics.LLMTokensUsed.WithLabelValues(o.generator.Provider(), genResult.Model, "input").Add(float64(genResult.InputTokens))
	o.metrics.LLMTokensUsed.WithLabelValues(o.generator.Provider(), genResult.Model, "output").Add(float64(genResult.OutputTokens))

	switch task {
	case domain.TaskGapAnalysis:
		gaps, err := o.formatter.FormatGaps(genResult.Text)
		if err != nil {
			logger.Warn().Err(err).Msg("gap list formatting failed")
			return o.failTask(ctx, result, err)
		}
		result.gaps = gaps
	default:
		text, err := o.formatter.FormatText(task, genResult.Text)
		if err != nil {
			logger.Warn().Err(err).Msg("result formatting failed")
			return o.failTask(ctx, result, err)
		}
		result.text = text
	}

	logger.Debug().
		Str("model", genResult.Model).
		Int("output_tokens", genResult.OutputTokens).
		Msg("task completed")
	return result
}

// failTask records a task failure with its classified reason.
func (o *Orchestrator) failTask(ctx context.Context, result taskResult, err error) taskResult {
	result.failure = failureReason(ctx, err)
	o.metrics.TaskFailures.WithLabelValues(string(result.task), result.failure).Inc()

	var terr *domain.TransportError
	if errors.As(err, &terr) {
		o.metrics.LLMRequestsFailed.WithLabelValues(terr.Service, o.generator.Model(), string(terr.Kind)).Inc()
	}
	return result
}

// assemble folds task results into the structured output, preserving task
// order in the warnings list.
func assemble(results []taskResult) (*domain.StructuredOutput, []string, int) {
	output := &domain.StructuredOutput{}
	succeeded := 0

	for _, r := range results {
		if r.failure != "" {
			output.Warnings = append(output.Warnings, fmt.Sprintf("%s failed: %s", r.task, r.failure))
			continue
		}
		succeeded++
		switch r.task {
		case domain.TaskSummary:
			text := r.text
			output.Summary = &text
		case domain.TaskGapAnalysis:
			output.ResearchGaps = r.gaps
		case domain.TaskExplanation:
			text := r.text
			output.Explanation = &text
		}
	}

	return output, output.Warnings, succeeded
}

// allDeadline reports whether every task failed on the deadline.
func allDeadline(results []taskResult) bool {
	for _, r := range results {
		if r.failure != "deadline_exceeded" {
			return false
		}
	}
	return len(results) > 0
}

// failureReason classifies a task or retrieval error into the short reason
// embedded in warnings and metrics labels.
func failureReason(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}

	var terr *domain.TransportError
	if errors.As(err, &terr) {
		return string(terr.Kind)
	}

	switch {
	case errors.Is(err, domain.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, domain.ErrRefusalDetected):
		return "refusal_detected"
	case errors.Is(err, domain.ErrUnparsableStructure):
		return "unparsable_structure"
	}
	return "internal_error"
}

// failureLabel maps a pipeline sentinel to its metrics label.
func failureLabel(cause error) string {
	switch {
	case errors.Is(cause, domain.ErrNoPapersFound):
		return "no_papers_found"
	case errors.Is(cause, domain.ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(cause, domain.ErrAllTasksFailed):
		return "all_tasks_failed"
	case errors.Is(cause, domain.ErrRetrievalFailed):
		return "retrieval_failed"
	}
	return "internal_error"
}
