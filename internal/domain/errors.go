package domain

import (
	"errors"
	"fmt"
	"time"
)

// TransportErrorKind classifies a remote-call failure.
type TransportErrorKind string

// Transport error kinds. All kinds except KindClientError are retryable.
const (
	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout TransportErrorKind = "timeout"
	// KindConnectionFailed indicates the request never produced an HTTP response.
	KindConnectionFailed TransportErrorKind = "connection_failed"
	// KindRateLimited indicates the provider rejected the call with a rate-limit signal.
	KindRateLimited TransportErrorKind = "rate_limited"
	// KindClientError indicates a 4xx-equivalent failure; retrying cannot help.
	KindClientError TransportErrorKind = "client_error"
	// KindServerError indicates a 5xx-equivalent failure.
	KindServerError TransportErrorKind = "server_error"
)

// TransportError is raised by the scraper and LLM clients when a remote call
// fails. It carries enough context for observability (service, attempt count,
// last underlying cause) without leaking provider internals to callers.
type TransportError struct {
	// Service names the remote dependency ("scraper", "openai", ...).
	Service string
	// Kind classifies the failure.
	Kind TransportErrorKind
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	// Attempts is the number of attempts made before giving up.
	Attempts int
	// RetryAfter is the provider-supplied retry hint, 0 when absent.
	RetryAfter time.Duration
	// Message is a short description of the failure.
	Message string
	// Cause is the last underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d, %d attempts): %s", e.Service, e.Kind, e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d attempts): %s", e.Service, e.Kind, e.Attempts, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may succeed on retry.
func (e *TransportError) Retryable() bool {
	return e.Kind != KindClientError
}

// Sentinel errors for result formatting failures. Format errors are never
// retried automatically; re-issuing the same prompt is a caller decision.
var (
	// ErrEmptyResponse indicates the provider returned no usable text.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnparsableStructure indicates the text did not decompose into the
	// structure the task requires (e.g. a gap list).
	ErrUnparsableStructure = errors.New("unparsable structure")

	// ErrRefusalDetected indicates the text matches a provider refusal pattern.
	ErrRefusalDetected = errors.New("refusal detected")
)

// FormatError provides details about a formatting failure for one task.
type FormatError struct {
	Task   AnalysisTask
	Reason error
	Detail string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("format %s: %v: %s", e.Task, e.Reason, e.Detail)
	}
	return fmt.Sprintf("format %s: %v", e.Task, e.Reason)
}

// Unwrap returns the underlying sentinel for use with errors.Is.
func (e *FormatError) Unwrap() error {
	return e.Reason
}

// NewFormatError creates a FormatError for the given task and sentinel reason.
func NewFormatError(task AnalysisTask, reason error, detail string) *FormatError {
	return &FormatError{Task: task, Reason: reason, Detail: detail}
}

// Sentinel errors surfaced to the Backend as pipeline-level failures.
// Each maps to a distinct user-facing remediation.
var (
	// ErrRetrievalFailed indicates the scrape step failed after retries.
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrNoPapersFound indicates the scrape succeeded but returned zero papers.
	ErrNoPapersFound = errors.New("no papers found")

	// ErrAllTasksFailed indicates every requested analysis task failed.
	ErrAllTasksFailed = errors.New("all tasks failed")

	// ErrDeadlineExceeded indicates the caller-supplied deadline expired.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// PipelineError is the structured error returned by the analysis pipeline.
type PipelineError struct {
	// Stage names the pipeline stage that failed ("retrieval", "analysis").
	Stage string
	// Warnings carries per-task failure reasons collected before the
	// pipeline gave up, so a deadline failure still cites deadline_exceeded.
	Warnings []string
	// Cause is one of the pipeline sentinel errors, possibly wrapped further.
	Cause error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause for use with errors.Is.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a PipelineError for the given stage and cause.
func NewPipelineError(stage string, cause error, warnings []string) *PipelineError {
	return &PipelineError{Stage: stage, Cause: cause, Warnings: warnings}
}
