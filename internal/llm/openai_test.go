package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchgenie/ai-service/internal/domain"
)

func testOptions() ProviderOptions {
	return ProviderOptions{
		Temperature:    0.3,
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 10 * time.Millisecond,
	}
}

func TestOpenAIProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "You are a research assistant.", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)

		resp := chatResponse{
			Model: "gpt-4-turbo-2024-04-09",
			Choices: []chatChoice{
				{Message: chatMessage{Role: "assistant", Content: "The papers describe..."}, FinishReason: "stop"},
			},
			Usage: chatUsage{PromptTokens: 210, CompletionTokens: 64},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL}, testOptions())
	result, err := p.Generate(context.Background(), Prompt{
		System: "You are a research assistant.",
		User:   "Summarize these papers.",
	})
	require.NoError(t, err)
	assert.Equal(t, "The papers describe...", result.Text)
	assert.Equal(t, "gpt-4-turbo-2024-04-09", result.Model)
	assert.Equal(t, 210, result.InputTokens)
	assert.Equal(t, 64, result.OutputTokens)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Greater(t, result.Latency, time.Duration(0))
}

func TestOpenAIProvider_NoSystemMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	result, err := p.Generate(context.Background(), Prompt{User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	// Model falls back to the configured default when absent in the response.
	assert.Equal(t, defaultOpenAIModel, result.Model)
}

func TestOpenAIProvider_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"recovered"},"finish_reason":"stop"}],"usage":{}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	result, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "bad", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "openai", terr.Service)
	assert.Equal(t, domain.KindClientError, terr.Kind)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	assert.Contains(t, terr.Message, "invalid api key")
	assert.Equal(t, 1, terr.Attempts)
}

func TestOpenAIProvider_RateLimitRetryAfter(t *testing.T) {
	var hits []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, time.Now())
		if len(hits) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[1].Sub(hits[0]), time.Second)
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.Error(t, err)

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.KindServerError, terr.Kind)
	assert.Contains(t, terr.Message, "empty choices")
}

func TestOpenAIProvider_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempts)
	assert.Equal(t, domain.KindServerError, terr.Kind)
}
