package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchgenie/ai-service/internal/domain"
)

func TestGeminiProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "You are a research assistant.", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Greater(t, req.GenerationConfig.MaxOutputTokens, 0)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role:  "model",
						Parts: []geminiPart{{Text: "Explained "}, {Text: "simply."}},
					},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: geminiUsageMetadata{PromptTokenCount: 150, CandidatesTokenCount: 40},
			ModelVersion:  "gemini-2.5-flash",
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "test-key", BaseURL: server.URL}, testOptions())
	result, err := p.Generate(context.Background(), Prompt{
		System: "You are a research assistant.",
		User:   "Explain the topic.",
	})
	require.NoError(t, err)
	// Multiple parts are concatenated in order.
	assert.Equal(t, "Explained simply.", result.Text)
	assert.Equal(t, "gemini-2.5-flash", result.Model)
	assert.Equal(t, 150, result.InputTokens)
	assert.Equal(t, 40, result.OutputTokens)
	assert.Equal(t, "STOP", result.FinishReason)
}

func TestGeminiProvider_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"usageMetadata":{}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.Error(t, err)

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.KindServerError, terr.Kind)
	assert.Contains(t, terr.Message, "no candidates")
}

func TestGeminiProvider_QuotaErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}],"usageMetadata":{}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: server.URL}, testOptions())
	result, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeminiProvider_InvalidKeyNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "bad", BaseURL: server.URL}, testOptions())
	_, err := p.Generate(context.Background(), Prompt{User: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "gemini", terr.Service)
	assert.Equal(t, domain.KindClientError, terr.Kind)
	assert.Contains(t, terr.Message, "API key not valid")
}
