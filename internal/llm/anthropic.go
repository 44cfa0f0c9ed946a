package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/researchgenie/ai-service/internal/domain"
)

const (
	// anthropicAPIVersion is the Anthropic API version header value.
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-sonnet-20240229"
	defaultAnthropicMaxTokens = 2048
)

// messagesRequest is the request body for the Anthropic Messages API.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// anthropicMessage represents a single message in the Anthropic Messages API.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// contentBlock represents a content block in the Messages API response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// messagesResponse is the response body from the Anthropic Messages API.
type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

// anthropicUsage contains token usage information from the Anthropic API.
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicAPIErrorDetail is the nested error object in an error response.
type anthropicAPIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicErrorResponse wraps the error payload from the Anthropic API.
type anthropicErrorResponse struct {
	Type  string                  `json:"type"`
	Error anthropicAPIErrorDetail `json:"error"`
}

// AnthropicProvider implements Generator using the Anthropic Messages API.
type AnthropicProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	retry       retryPolicy
}

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
// This is defined in the llm package to avoid importing the config package.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model identifier (e.g., "claude-3-sonnet-20240229").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// NewAnthropicProvider creates a new Anthropic generation provider.
func NewAnthropicProvider(cfg AnthropicConfig, opts ProviderOptions) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicProvider{
		httpClient:  newProviderHTTPClient(opts.Timeout),
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   opts.maxTokensOrDefault(defaultAnthropicMaxTokens),
		retry:       newRetryPolicy(opts.MaxRetries, opts.RetryBaseDelay),
	}
}

// Generate sends the prompt to the Messages API and returns the text of the
// first text content block. Transient failures are retried per the shared
// policy; context cancellation is respected between retries.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt Prompt) (*GenerateResult, error) {
	apiReq := messagesRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    prompt.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt.User},
		},
		Temperature: p.temperature,
	}

	return p.retry.run(ctx, func(ctx context.Context) (*GenerateResult, *domain.TransportError) {
		return p.sendRequest(ctx, apiReq)
	})
}

// Provider returns the provider name.
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Model returns the model identifier being used.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// sendRequest performs a single request to the Anthropic Messages API.
func (p *AnthropicProvider) sendRequest(ctx context.Context, apiReq messagesRequest) (*GenerateResult, *domain.TransportError) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &domain.TransportError{
			Service: "anthropic",
			Kind:    domain.KindClientError,
			Message: "failed to marshal request",
			Cause:   err,
		}
	}

	endpoint := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "anthropic",
			Kind:    domain.KindClientError,
			Message: "failed to create request",
			Cause:   err,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFromRequestError("anthropic", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "anthropic",
			Kind:    domain.KindConnectionFailed,
			Message: "failed to read response body",
			Cause:   err,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, transportFromStatus("anthropic", httpResp.StatusCode, anthropicErrorMessage(respBody), httpResp.Header)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &domain.TransportError{
			Service:    "anthropic",
			Kind:       domain.KindServerError,
			StatusCode: httpResp.StatusCode,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}

	// Take the first text content block.
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &domain.TransportError{
			Service:    "anthropic",
			Kind:       domain.KindServerError,
			StatusCode: httpResp.StatusCode,
			Message:    "response contains no text content blocks",
		}
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}

	return &GenerateResult{
		Text:         text,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		FinishReason: resp.StopReason,
		Latency:      time.Since(start),
	}, nil
}

// anthropicErrorMessage extracts the error message from an error body.
func anthropicErrorMessage(body []byte) string {
	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return truncateErrorBody(body)
}
