package llm

import (
	"fmt"
	"net/http"
	"time"
)

// Shared provider client defaults.
const (
	defaultProviderTimeout = 30 * time.Second
	defaultMaxTokens       = 2048

	// maxResponseSize caps provider response bodies at 10 MB.
	maxResponseSize = 10 << 20
)

// ProviderOptions carries the provider-independent generation settings.
type ProviderOptions struct {
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps the generated output length; 0 means provider default.
	MaxTokens int
	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration
}

// maxTokensOrDefault returns the configured cap or the provider fallback.
func (o ProviderOptions) maxTokensOrDefault(fallback int) int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return fallback
}

// newProviderHTTPClient builds the HTTP client every provider uses.
func newProviderHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// FactoryConfig holds the parameters needed to create a Generator.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai", "anthropic" or "gemini").
	Provider string
	// Options are the provider-independent generation settings.
	Options ProviderOptions
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// Gemini contains Gemini-specific settings.
	Gemini GeminiConfig
}

// NewGenerator creates a Generator based on the configuration. Returns an
// error for unsupported or empty provider values.
func NewGenerator(cfg FactoryConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, cfg.Options), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic, cfg.Options), nil
	case "gemini":
		return NewGeminiProvider(cfg.Gemini, cfg.Options), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
