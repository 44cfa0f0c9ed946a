package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"INFO", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: "stdout"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestWithAnalysisContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithAnalysisContext(base, "req-123", "quantum computing")
	logger.Info().Msg("analysis started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "quantum computing", entry["query"])
}

func TestWithTaskContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithTaskContext(base, "gap_analysis")
	logger.Info().Msg("task started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gap_analysis", entry["task"])
}

func TestWithProviderContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithProviderContext(base, "openai", "gpt-4-turbo")
	logger.Info().Msg("llm call")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "openai", entry["provider"])
	assert.Equal(t, "gpt-4-turbo", entry["model"])
}
