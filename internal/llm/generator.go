// Package llm provides text-generation providers for the analysis pipeline.
//
// All providers speak plain REST to their APIs and normalize failures into
// *domain.TransportError so callers can apply a uniform retry and
// partial-failure policy without knowing which provider is configured.
package llm

import (
	"context"
	"time"
)

// Prompt is a provider-agnostic generation prompt.
type Prompt struct {
	// System is the system instruction, empty when the task has none.
	System string
	// User is the user-turn content.
	User string
}

// GenerateResult is the outcome of a single successful generation call.
type GenerateResult struct {
	// Text is the raw generated text, unprocessed.
	Text string
	// Model is the model identifier that produced the text.
	Model string
	// InputTokens is the prompt token count reported by the provider.
	InputTokens int
	// OutputTokens is the completion token count reported by the provider.
	OutputTokens int
	// FinishReason is the provider's stop reason ("stop", "length", ...).
	FinishReason string
	// Latency is the wall-clock duration of the successful attempt.
	Latency time.Duration
}

// Generator produces text from a prompt using a configured LLM provider.
//
// Generate blocks until the provider responds, the retries are exhausted, or
// the context is done. Failures are returned as *domain.TransportError.
type Generator interface {
	// Generate sends the prompt and returns the generated text.
	Generate(ctx context.Context, prompt Prompt) (*GenerateResult, error)

	// Provider returns the provider name ("openai", "anthropic", "gemini").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}
