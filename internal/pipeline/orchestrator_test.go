package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchgenie/ai-service/internal/domain"
	"github.com/researchgenie/ai-service/internal/formatter"
	"github.com/researchgenie/ai-service/internal/llm"
	"github.com/researchgenie/ai-service/internal/observability"
	"github.com/researchgenie/ai-service/internal/refiner"
)

// stubFetcher returns a fixed paper set or error.
type stubFetcher struct {
	papers []domain.PaperRecord
	err    error
	calls  atomic.Int32
}

func (s *stubFetcher) FetchPapers(ctx context.Context, query string, maxResults int) ([]domain.PaperRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.papers, nil
}

// stubGenerator answers per prompt content so each task can get its own
// canned response; failTasks lists tasks whose generation fails.
type stubGenerator struct {
	responses map[domain.AnalysisTask]string
	failTasks map[domain.AnalysisTask]error
	delay     time.Duration
	calls     atomic.Int32
}

func (s *stubGenerator) Generate(ctx context.Context, prompt llm.Prompt) (*llm.GenerateResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &domain.TransportError{
				Service: "stub", Kind: domain.KindTimeout, Attempts: 1, Cause: ctx.Err(),
			}
		case <-time.After(s.delay):
		}
	}

	task := taskFromPrompt(prompt)
	if err, ok := s.failTasks[task]; ok {
		return nil, err
	}
	return &llm.GenerateResult{
		Text:         s.responses[task],
		Model:        "stub-model",
		InputTokens:  100,
		OutputTokens: 50,
		FinishReason: "stop",
		Latency:      time.Millisecond,
	}, nil
}

func (s *stubGenerator) Provider() string { return "stub" }
func (s *stubGenerator) Model() string    { return "stub-model" }

// stubBuilder tags prompts with their task so the generator can route.
type stubBuilder struct {
	err error
}

func (s *stubBuilder) Build(task domain.AnalysisTask, query string, papers []domain.PaperRecord, profile domain.UserProfile) (llm.Prompt, error) {
	if s.err != nil {
		return llm.Prompt{}, s.err
	}
	return llm.Prompt{System: "test", User: "task=" + string(task)}, nil
}

func taskFromPrompt(p llm.Prompt) domain.AnalysisTask {
	return domain.AnalysisTask(strings.TrimPrefix(p.User, "task="))
}

func testPapers() []domain.PaperRecord {
	return []domain.PaperRecord{
		{ID: "p1", Title: "Paper One", Abstract: "First abstract."},
		{ID: "p2", Title: "Paper Two", Abstract: "Second abstract."},
	}
}

func happyResponses() map[domain.AnalysisTask]string {
	return map[domain.AnalysisTask]string{
		domain.TaskSummary:     "A comprehensive summary of the retrieved papers.",
		domain.TaskGapAnalysis: "1. Gap one\n2. Gap two\n3. Gap three",
		domain.TaskExplanation: "An accessible explanation of the findings.",
	}
}

func newTestOrchestrator(t *testing.T, fetcher PaperFetcher, gen llm.Generator, cfg Config) *Orchestrator {
	t.Helper()
	return NewOrchestrator(
		cfg,
		refiner.New(),
		fetcher,
		gen,
		&stubBuilder{},
		formatter.New(),
		observability.NewMetricsWith(prometheus.NewRegistry()),
		zerolog.Nop(),
	)
}

func testRequest() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		RawQuery: "machine learning in medicine",
		Profile:  domain.UserProfile{EducationLevel: domain.EducationIntermediate},
	}
}

func TestAnalyze_AllTasksSucceed(t *testing.T) {
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{RefineQueryEnabled: true})

	output, err := o.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	require.NotNil(t, output.Summary)
	assert.Equal(t, "A comprehensive summary of the retrieved papers.", *output.Summary)
	assert.Equal(t, []string{"Gap one", "Gap two", "Gap three"}, output.ResearchGaps)
	require.NotNil(t, output.Explanation)
	assert.Empty(t, output.Warnings)
	assert.True(t, output.IsComplete())
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestAnalyze_TaskSubset(t *testing.T) {
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	req := testRequest()
	req.Tasks = []domain.AnalysisTask{domain.TaskSummary}

	output, err := o.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, output.Summary)
	assert.Nil(t, output.ResearchGaps)
	assert.Nil(t, output.Explanation)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestAnalyze_RetrievalFailure(t *testing.T) {
	fetcher := &stubFetcher{err: &domain.TransportError{
		Service: "scraper", Kind: domain.KindServerError, StatusCode: 502, Attempts: 4,
	}}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	_, err := o.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "retrieval", perr.Stage)

	// The LLM is never called when retrieval fails.
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestAnalyze_NoPapersFound(t *testing.T) {
	fetcher := &stubFetcher{papers: []domain.PaperRecord{}}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	_, err := o.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoPapersFound)
	assert.NotErrorIs(t, err, domain.ErrRetrievalFailed)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestAnalyze_PartialFailure(t *testing.T) {
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{
		responses: happyResponses(),
		failTasks: map[domain.AnalysisTask]error{
			domain.TaskGapAnalysis: &domain.TransportError{
				Service: "stub", Kind: domain.KindServerError, StatusCode: 500, Attempts: 4,
			},
		},
	}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	output, err := o.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.NotNil(t, output.Summary)
	assert.Nil(t, output.ResearchGaps)
	assert.NotNil(t, output.Explanation)
	require.Len(t, output.Warnings, 1)
	assert.Equal(t, "gap_analysis failed: server_error", output.Warnings[0])
	assert.True(t, output.IsPartial())
}

func TestAnalyze_FormatFailureIsolated(t *testing.T) {
	fetcher := &stubFetcher{papers: testPapers()}
	responses := happyResponses()
	// A gap response that does not decompose into a list.
	responses[domain.TaskGapAnalysis] = "The field looks complete to me."
	gen := &stubGenerator{responses: responses}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	output, err := o.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Nil(t, output.ResearchGaps)
	require.Len(t, output.Warnings, 1)
	assert.Equal(t, "gap_analysis failed: unparsable_structure", output.Warnings[0])
}

func TestAnalyze_AllTasksFailed(t *testing.T) {
	transportErr := &domain.TransportError{Service: "stub", Kind: domain.KindServerError, Attempts: 4}
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{
		responses: happyResponses(),
		failTasks: map[domain.AnalysisTask]error{
			domain.TaskSummary:     transportErr,
			domain.TaskGapAnalysis: transportErr,
			domain.TaskExplanation: transportErr,
		},
	}
	o := newTestOrchestrator(t, fetcher, gen, Config{})

	_, err := o.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllTasksFailed)

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "analysis", perr.Stage)
	assert.Len(t, perr.Warnings, 3)
}

func TestAnalyze_DeadlineDuringTasks(t *testing.T) {
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{responses: happyResponses(), delay: 5 * time.Second}
	o := newTestOrchestrator(t, fetcher, gen, Config{OverallDeadline: 100 * time.Millisecond})

	start := time.Now()
	_, err := o.Analyze(context.Background(), testRequest())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	// Returns promptly once the deadline fires.
	assert.Less(t, elapsed, 2*time.Second)

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	for _, w := range perr.Warnings {
		assert.Contains(t, w, "deadline_exceeded")
	}
}

func TestAnalyze_ZeroDeadlineHonorsCallerDeadline(t *testing.T) {
	// A zero OverallDeadline disables the pipeline-imposed deadline; the
	// caller-supplied one still bounds the run.
	fetcher := &stubFetcher{papers: testPapers()}
	gen := &stubGenerator{responses: happyResponses(), delay: 5 * time.Second}
	o := newTestOrchestrator(t, fetcher, gen, Config{OverallDeadline: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Analyze(ctx, testRequest())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAnalyze_DeadlineDuringRetrieval(t *testing.T) {
	fetcher := &slowFetcher{delay: 5 * time.Second}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{OverallDeadline: 50 * time.Millisecond})

	_, err := o.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Equal(t, int32(0), gen.calls.Load())
}

// slowFetcher blocks until the context is done.
type slowFetcher struct {
	delay time.Duration
}

func (s *slowFetcher) FetchPapers(ctx context.Context, query string, maxResults int) ([]domain.PaperRecord, error) {
	select {
	case <-ctx.Done():
		return nil, &domain.TransportError{
			Service: "scraper", Kind: domain.KindTimeout, Attempts: 1, Cause: ctx.Err(),
		}
	case <-time.After(s.delay):
		return testPapers(), nil
	}
}

func TestAnalyze_RefinementDisabledUsesRawQuery(t *testing.T) {
	var seenQuery string
	fetcher := &queryRecordingFetcher{papers: testPapers(), seen: &seenQuery}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{RefineQueryEnabled: false})

	req := testRequest()
	_, err := o.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.RawQuery, seenQuery)
}

func TestAnalyze_RefinementEnabledRewritesQuery(t *testing.T) {
	var seenQuery string
	fetcher := &queryRecordingFetcher{papers: testPapers(), seen: &seenQuery}
	gen := &stubGenerator{responses: happyResponses()}
	o := newTestOrchestrator(t, fetcher, gen, Config{RefineQueryEnabled: true})

	_, err := o.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	// The refiner appends academic context to this query.
	assert.Equal(t, "machine learning in medicine research", seenQuery)
}

type queryRecordingFetcher struct {
	papers []domain.PaperRecord
	seen   *string
}

func (q *queryRecordingFetcher) FetchPapers(ctx context.Context, query string, maxResults int) ([]domain.PaperRecord, error) {
	*q.seen = query
	return q.papers, nil
}

func TestAnalyze_NeverAllNullSuccess(t *testing.T) {
	// Any successful return must carry at least one populated field.
	fetcher := &stubFetcher{papers: testPapers()}
	for _, failing := range []domain.AnalysisTask{domain.TaskSummary, domain.TaskGapAnalysis} {
		gen := &stubGenerator{
			responses: happyResponses(),
			failTasks: map[domain.AnalysisTask]error{
				failing: fmt.Errorf("boom: %w", errors.New("unclassified")),
			},
		}
		o := newTestOrchestrator(t, fetcher, gen, Config{})

		output, err := o.Analyze(context.Background(), testRequest())
		require.NoError(t, err)
		populated := output.Summary != nil || output.ResearchGaps != nil || output.Explanation != nil
		assert.True(t, populated)
	}
}

func TestFailureReason(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "rate_limited", failureReason(ctx, &domain.TransportError{Kind: domain.KindRateLimited}))
	assert.Equal(t, "empty_response", failureReason(ctx, domain.NewFormatError(domain.TaskSummary, domain.ErrEmptyResponse, "")))
	assert.Equal(t, "refusal_detected", failureReason(ctx, domain.NewFormatError(domain.TaskSummary, domain.ErrRefusalDetected, "")))
	assert.Equal(t, "internal_error", failureReason(ctx, errors.New("mystery")))

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.Equal(t, "deadline_exceeded", failureReason(expired, errors.New("anything")))
}
