package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Default values for the OpenAI provider.
const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4-turbo"
	defaultOpenAIMaxTokens = 2048
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the OpenAI Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openAIErrorResponse represents an error response from the OpenAI API.
type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

// openAIErrorDetail contains error details from the OpenAI API.
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIProvider implements Generator using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	retry       retryPolicy
}

// OpenAIConfig holds the parameters needed to create an OpenAI provider.
// This is defined in the llm package to avoid importing the config package.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model identifier (e.g., "gpt-4-turbo").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// NewOpenAIProvider creates a new OpenAI generation provider.
func NewOpenAIProvider(cfg OpenAIConfig, opts ProviderOptions) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIProvider{
		httpClient:  newProviderHTTPClient(opts.Timeout),
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   opts.maxTokensOrDefault(defaultOpenAIMaxTokens),
		retry:       newRetryPolicy(opts.MaxRetries, opts.RetryBaseDelay),
	}
}

// Generate sends the prompt to the Chat Completions API. Transient failures
// (network errors, timeouts, 429 and 5xx) are retried per the shared policy.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt Prompt) (*GenerateResult, error) {
	messages := make([]chatMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})

	chatReq := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}

	return p.retry.run(ctx, func(ctx context.Context) (*GenerateResult, *domain.TransportError) {
		return p.doRequest(ctx, chatReq)
	})
}

// Provider returns the name of the LLM provider.
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Model returns the model identifier being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// doRequest performs a single API request to the Chat Completions endpoint.
func (p *OpenAIProvider) doRequest(ctx context.Context, chatReq chatRequest) (*GenerateResult, *domain.TransportError) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &domain.TransportError{
			Service: "openai",
			Kind:    domain.KindClientError,
			Message: fmt.Sprintf("failed to marshal request: %v", err),
			Cause:   err,
		}
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "openai",
			Kind:    domain.KindClientError,
			Message: "failed to create request",
			Cause:   err,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFromRequestError("openai", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "openai",
			Kind:    domain.KindConnectionFailed,
			Message: "failed to read response body",
			Cause:   err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, transportFromStatus("openai", resp.StatusCode, openAIErrorMessage(respBody), resp.Header)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &domain.TransportError{
			Service:    "openai",
			Kind:       domain.KindServerError,
			StatusCode: resp.StatusCode,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}

	if len(chatResp.Choices) == 0 {
		return nil, &domain.TransportError{
			Service:    "openai",
			Kind:       domain.KindServerError,
			StatusCode: resp.StatusCode,
			Message:    "empty choices in response",
		}
	}

	choice := chatResp.Choices[0]
	model := chatResp.Model
	if model == "" {
		model = p.model
	}

	return &GenerateResult{
		Text:         choice.Message.Content,
		Model:        model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
		Latency:      time.Since(start),
	}, nil
}

// openAIErrorMessage extracts the error message from an OpenAI error body.
func openAIErrorMessage(body []byte) string {
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return truncateErrorBody(body)
}
