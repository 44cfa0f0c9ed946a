package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the AI service. Metrics are
// organized by subsystem: analyses, refinement, scraping and LLM operations.
// All counters and histograms are registered with the provided registerer.
type Metrics struct {
	// AnalysesStarted counts the total number of analysis requests received.
	AnalysesStarted prometheus.Counter

	// AnalysesCompleted counts analyses that finished, labeled by outcome
	// (complete, partial).
	AnalysesCompleted *prometheus.CounterVec

	// AnalysesFailed counts analyses that ended in a pipeline error, labeled
	// by error kind (retrieval_failed, no_papers_found, all_tasks_failed,
	// deadline_exceeded).
	AnalysesFailed *prometheus.CounterVec

	// AnalysisDuration observes the end-to-end duration of analyses in seconds.
	AnalysisDuration prometheus.Histogram

	// Refinements counts refinement outcomes, labeled by result (refined, unchanged).
	Refinements *prometheus.CounterVec

	// ScrapeRequests counts scrape calls issued to the Scraper service.
	ScrapeRequests prometheus.Counter

	// ScrapeFailures counts scrape calls that failed after retries, labeled
	// by transport error kind.
	ScrapeFailures *prometheus.CounterVec

	// ScrapeDuration observes scrape call duration in seconds.
	ScrapeDuration prometheus.Histogram

	// PapersRetrieved observes the number of papers returned per scrape.
	PapersRetrieved prometheus.Histogram

	// TaskFailures counts analysis task failures, labeled by task and reason.
	TaskFailures *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by provider and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by provider,
	// model and error kind.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds,
	// labeled by provider and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM calls, labeled by provider,
	// model and token type (input, output).
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all service metrics with the given
// registerer. Tests pass a private registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AnalysesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "analyses_started_total",
			Help:      "Total number of analysis requests received.",
		}),
		AnalysesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "analyses_completed_total",
			Help:      "Total number of analyses that produced a structured output.",
		}, []string{"outcome"}),
		AnalysesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "analyses_failed_total",
			Help:      "Total number of analyses that ended in a pipeline error.",
		}, []string{"error"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analysis duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Refinements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "refinements_total",
			Help:      "Total number of query refinement outcomes.",
		}, []string{"result"}),
		ScrapeRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "scraper",
			Name:      "requests_total",
			Help:      "Total number of scrape calls issued.",
		}),
		ScrapeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "scraper",
			Name:      "failures_total",
			Help:      "Total number of scrape calls that failed after retries.",
		}, []string{"kind"}),
		ScrapeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "genie",
			Subsystem: "scraper",
			Name:      "request_duration_seconds",
			Help:      "Scrape call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		PapersRetrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "genie",
			Subsystem: "scraper",
			Name:      "papers_retrieved",
			Help:      "Number of papers returned per scrape call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		TaskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "pipeline",
			Name:      "task_failures_total",
			Help:      "Total number of analysis task failures.",
		}, []string{"task", "reason"}),
		LLMRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of LLM API requests.",
		}, []string{"provider", "model"}),
		LLMRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "llm",
			Name:      "requests_failed_total",
			Help:      "Total number of failed LLM API requests.",
		}, []string{"provider", "model", "kind"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genie",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"provider", "model"}),
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genie",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total number of tokens consumed by LLM calls.",
		}, []string{"provider", "model", "type"}),
	}
}
