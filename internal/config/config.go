// Package config provides configuration management for the AI service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the AI service. It is constructed once
// at process start and passed by reference into each component; components
// never read ambient global state.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Pipeline contains analysis pipeline settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Scraper contains Scraper service client settings.
	Scraper ScraperConfig `mapstructure:"scraper"`
	// LLM contains LLM provider client settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Backend contains Backend notification client settings.
	Backend BackendConfig `mapstructure:"backend"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8001).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum duration to keep idle connections open.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// PipelineConfig holds analysis pipeline settings.
type PipelineConfig struct {
	// RefineQueryEnabled enables the query refinement step before scraping.
	// Refinement is best-effort; the raw query is used when it cannot help.
	RefineQueryEnabled bool `mapstructure:"refine_query_enabled"`
	// MaxPapers is the maximum number of papers requested from the scraper.
	MaxPapers int `mapstructure:"max_papers"`
	// OverallDeadline bounds one end-to-end analyze call. Zero disables the
	// pipeline-imposed deadline; a caller-supplied deadline is always honored.
	OverallDeadline time.Duration `mapstructure:"overall_deadline"`
	// PromptCharBudget caps the combined length of paper text in a prompt.
	PromptCharBudget int `mapstructure:"prompt_char_budget"`
}

// ScraperConfig holds Scraper service client settings.
type ScraperConfig struct {
	// BaseURL is the base URL of the Scraper service.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-attempt timeout for scrape calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries on transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RateLimit is the maximum requests per second to the scraper.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size"`
}

// LLMConfig holds LLM provider client settings.
type LLMConfig struct {
	// Provider is the LLM provider (openai, anthropic, gemini).
	Provider string `mapstructure:"provider"`
	// Timeout is the per-attempt timeout for LLM calls. LLM calls are slower
	// than metadata retrieval, so this defaults higher than the scraper timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries on transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// Temperature is the sampling temperature for generation.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens is the maximum number of output tokens per generation.
	MaxTokens int `mapstructure:"max_tokens"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// Gemini contains Google Gemini-specific settings.
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from GENIE_LLM_OPENAI_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the OpenAI model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from GENIE_LLM_ANTHROPIC_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the Anthropic model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini-specific settings.
type GeminiConfig struct {
	// APIKey is the Gemini API key (loaded from GENIE_LLM_GEMINI_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the Gemini model name.
	Model string `mapstructure:"model"`
	// BaseURL is the Gemini API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// BackendConfig holds Backend notification client settings.
type BackendConfig struct {
	// NotifyEnabled enables best-effort completion notifications.
	NotifyEnabled bool `mapstructure:"notify_enabled"`
	// BaseURL is the base URL of the Backend service.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for notification calls.
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("GENIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-genie-ai")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv("GENIE_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv("GENIE_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.Gemini.APIKey = os.Getenv("GENIE_LLM_GEMINI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8001)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Pipeline defaults
	v.SetDefault("pipeline.refine_query_enabled", true)
	v.SetDefault("pipeline.max_papers", 10)
	v.SetDefault("pipeline.overall_deadline", "120s")
	v.SetDefault("pipeline.prompt_char_budget", 24000)

	// Scraper defaults
	v.SetDefault("scraper.base_url", "http://localhost:8002")
	v.SetDefault("scraper.timeout", "15s")
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.retry_base_delay", "500ms")
	v.SetDefault("scraper.rate_limit", 10.0)
	v.SetDefault("scraper.burst_size", 10)

	// LLM defaults
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_base_delay", "500ms")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.openai.model", "gpt-4-turbo")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-sonnet-20240229")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")

	// Backend defaults
	v.SetDefault("backend.notify_enabled", false)
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "5s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Pipeline.MaxPapers <= 0 {
		return fmt.Errorf("pipeline max_papers must be positive")
	}
	if c.Pipeline.PromptCharBudget <= 0 {
		return fmt.Errorf("pipeline prompt_char_budget must be positive")
	}
	if c.Pipeline.OverallDeadline < 0 {
		return fmt.Errorf("pipeline overall_deadline must not be negative")
	}

	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper base_url is required")
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper max_retries must not be negative")
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2")
	}

	// Validate that the configured LLM provider has its required API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires GENIE_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires GENIE_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires GENIE_LLM_GEMINI_API_KEY to be set", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}

	if c.Backend.NotifyEnabled && c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required when notifications are enabled")
	}

	return nil
}
