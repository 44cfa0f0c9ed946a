package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/researchgenie/ai-service/internal/domain"
)

const (
	defaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultGeminiMaxTokens = 2048
)

// geminiRequest is the request body for the Gemini generateContent API.
type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// geminiContent is one content entry consisting of text parts.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is a single text part.
type geminiPart struct {
	Text string `json:"text"`
}

// geminiGenerationConfig holds sampling parameters.
type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is the response body from the generateContent API.
type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
	ModelVersion  string              `json:"modelVersion"`
}

// geminiCandidate is one generated candidate.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// geminiUsageMetadata contains token usage information.
type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiErrorResponse wraps the error payload from the Gemini API.
type geminiErrorResponse struct {
	Error geminiErrorDetail `json:"error"`
}

// geminiErrorDetail contains error details from the Gemini API.
type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GeminiProvider implements Generator using the Gemini generateContent API.
type GeminiProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	retry       retryPolicy
}

// GeminiConfig holds the parameters needed to create a Gemini provider.
// This is defined in the llm package to avoid importing the config package.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model identifier (e.g., "gemini-2.5-flash").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// NewGeminiProvider creates a new Gemini generation provider.
func NewGeminiProvider(cfg GeminiConfig, opts ProviderOptions) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiProvider{
		httpClient:  newProviderHTTPClient(opts.Timeout),
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   opts.maxTokensOrDefault(defaultGeminiMaxTokens),
		retry:       newRetryPolicy(opts.MaxRetries, opts.RetryBaseDelay),
	}
}

// Generate sends the prompt to the generateContent endpoint and returns the
// concatenated text parts of the first candidate. Transient failures are
// retried per the shared policy.
func (p *GeminiProvider) Generate(ctx context.Context, prompt Prompt) (*GenerateResult, error) {
	apiReq := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt.User}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.temperature,
			MaxOutputTokens: p.maxTokens,
		},
	}
	if prompt.System != "" {
		apiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: prompt.System}},
		}
	}

	return p.retry.run(ctx, func(ctx context.Context) (*GenerateResult, *domain.TransportError) {
		return p.doRequest(ctx, apiReq)
	})
}

// Provider returns the provider name.
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Model returns the model identifier being used.
func (p *GeminiProvider) Model() string {
	return p.model
}

// doRequest performs a single request to the generateContent endpoint.
func (p *GeminiProvider) doRequest(ctx context.Context, apiReq geminiRequest) (*GenerateResult, *domain.TransportError) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &domain.TransportError{
			Service: "gemini",
			Kind:    domain.KindClientError,
			Message: "failed to marshal request",
			Cause:   err,
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "gemini",
			Kind:    domain.KindClientError,
			Message: "failed to create request",
			Cause:   err,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFromRequestError("gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &domain.TransportError{
			Service: "gemini",
			Kind:    domain.KindConnectionFailed,
			Message: "failed to read response body",
			Cause:   err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, transportFromStatus("gemini", resp.StatusCode, geminiErrorMessage(respBody), resp.Header)
	}

	var genResp geminiResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, &domain.TransportError{
			Service:    "gemini",
			Kind:       domain.KindServerError,
			StatusCode: resp.StatusCode,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}

	if len(genResp.Candidates) == 0 {
		return nil, &domain.TransportError{
			Service:    "gemini",
			Kind:       domain.KindServerError,
			StatusCode: resp.StatusCode,
			Message:    "no candidates in response",
		}
	}

	candidate := genResp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}

	model := genResp.ModelVersion
	if model == "" {
		model = p.model
	}

	return &GenerateResult{
		Text:         sb.String(),
		Model:        model,
		InputTokens:  genResp.UsageMetadata.PromptTokenCount,
		OutputTokens: genResp.UsageMetadata.CandidatesTokenCount,
		FinishReason: candidate.FinishReason,
		Latency:      time.Since(start),
	}, nil
}

// geminiErrorMessage extracts the error message from a Gemini error body.
func geminiErrorMessage(body []byte) string {
	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return truncateErrorBody(body)
}
