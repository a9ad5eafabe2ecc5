// Package config assembles run configuration from environment bootstrap
// values and cobra flags, and validates the combined result before any
// work starts.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// RuntimeEnv holds the logger settings; no command-line flag overrides them.
// Precedence: env vars > .env file > defaults, matching ws/config.go.
type RuntimeEnv struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadRuntimeEnv loads an optional .env file (missing is not an error) and
// parses RuntimeEnv from the environment.
func LoadRuntimeEnv() (*RuntimeEnv, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file: environment variables and defaults still apply.
	}

	rt := &RuntimeEnv{}
	if err := env.Parse(rt); err != nil {
		return nil, fmt.Errorf("failed to parse runtime environment: %w", err)
	}
	return rt, nil
}

// shapeProfile is a named (contextTokens, maxTokens) preset.
type shapeProfile struct {
	ContextTokens int
	MaxTokens     int
}

var shapeProfiles = map[string]shapeProfile{
	"balanced":   {ContextTokens: 500, MaxTokens: 500},
	"context":    {ContextTokens: 2000, MaxTokens: 200},
	"generation": {ContextTokens: 500, MaxTokens: 1000},
}

// Config holds every flag of the load subcommand plus the resolved API key;
// the target URL and effective shape are computed by its methods.
type Config struct {
	APIBaseEndpoint string
	Deployment      string
	APIVersion      string
	APIKeyEnv       string
	APIKey          string

	Clients               int
	Requests              int
	Duration              int
	RunEndConditionMode   string
	Rate                  float64
	AggregationWindow     float64
	ContextGenerationMode string
	ReplayPath            string
	ShapeProfile          string
	ContextTokens         int
	MaxTokens             int
	PreventServerCaching  bool
	Completions           int
	FrequencyPenalty      *float64
	PresencePenalty       *float64
	Temperature           *float64
	TopP                  *float64
	OpenAICompatible      bool
	AdjustForNetworkLatency bool
	OutputFormat          string
	LogRequestContent     bool
	Retry                 string
	MetricsAddr           string
}

// ResolveAPIKey reads the API key from the environment variable named by
// APIKeyEnv and stores it on the config.
func (c *Config) ResolveAPIKey() error {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return fmt.Errorf("api key is not set - make sure to set the environment variable %q", c.APIKeyEnv)
	}
	c.APIKey = key
	return nil
}

// IsOpenAICompatible reports whether the endpoint should be treated as an
// OpenAI/Google-hosted compatible endpoint rather than an Azure deployment.
func (c *Config) IsOpenAICompatible() bool {
	return c.OpenAICompatible ||
		strings.Contains(c.APIBaseEndpoint, "openai.com") ||
		strings.Contains(c.APIBaseEndpoint, "googleapis.com")
}

// RequestURL builds the target URL, either the base endpoint verbatim (for
// OpenAI-compatible endpoints) or the Azure deployment path.
func (c *Config) RequestURL() string {
	if c.IsOpenAICompatible() {
		return c.APIBaseEndpoint
	}
	base := strings.TrimRight(c.APIBaseEndpoint, "/")
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", base, c.Deployment, c.APIVersion)
}

// EffectiveShape resolves ContextTokens/MaxTokens for the "generate"
// context method: named profiles override the raw flag values, "custom"
// uses them as given.
func (c *Config) EffectiveShape() (contextTokens, maxTokens int) {
	if profile, ok := shapeProfiles[c.ShapeProfile]; ok {
		return profile.ContextTokens, profile.MaxTokens
	}
	return c.ContextTokens, c.MaxTokens
}

// Validate mirrors the original tool's _validate: it fails fast, before any
// request is issued, with a single descriptive error.
func (c *Config) Validate() error {
	if c.APIVersion == "" {
		return fmt.Errorf("api-version is required")
	}
	if c.APIKeyEnv == "" {
		return fmt.Errorf("api-key-env is required")
	}
	if os.Getenv(c.APIKeyEnv) == "" {
		return fmt.Errorf("api-key-env %s not set", c.APIKeyEnv)
	}
	if c.Clients < 1 {
		return fmt.Errorf("clients must be > 0")
	}
	if c.Requests < 0 {
		return fmt.Errorf("requests must be >= 0")
	}
	if c.Duration != 0 && c.Duration < 30 {
		return fmt.Errorf("duration must be 0 or >= 30")
	}
	if c.RunEndConditionMode != "and" && c.RunEndConditionMode != "or" {
		return fmt.Errorf("run-end-condition-mode must be one of: [and, or]")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must be >= 0")
	}
	if c.ContextGenerationMode == "replay" && c.ReplayPath == "" {
		return fmt.Errorf("replay-path is required with context-generation-method=replay")
	}
	if c.ContextGenerationMode == "generate" && c.ShapeProfile == "custom" && c.ContextTokens < 1 {
		return fmt.Errorf("context-tokens must be specified with shape-profile=custom")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max-tokens must be >= 0")
	}
	if c.Completions < 1 {
		return fmt.Errorf("completions must be > 0")
	}
	if c.FrequencyPenalty != nil && (*c.FrequencyPenalty < -2 || *c.FrequencyPenalty > 2) {
		return fmt.Errorf("frequency-penalty must be between -2.0 and 2.0")
	}
	if c.PresencePenalty != nil && (*c.PresencePenalty < -2 || *c.PresencePenalty > 2) {
		return fmt.Errorf("presence-penalty must be between -2.0 and 2.0")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if c.OutputFormat != "jsonl" && c.OutputFormat != "human" {
		return fmt.Errorf("output-format must be one of: [jsonl, human]")
	}
	if c.Retry != "none" && c.Retry != "exponential" {
		return fmt.Errorf("retry must be one of: [none, exponential]")
	}
	return nil
}

// LogConfig emits the resolved configuration via structured logging,
// matching ws/config.go's LogConfig shape.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("api_base_endpoint", c.APIBaseEndpoint).
		Str("deployment", c.Deployment).
		Int("clients", c.Clients).
		Int("requests", c.Requests).
		Int("duration", c.Duration).
		Str("run_end_condition_mode", c.RunEndConditionMode).
		Float64("rate", c.Rate).
		Float64("aggregation_window", c.AggregationWindow).
		Str("context_generation_method", c.ContextGenerationMode).
		Str("shape_profile", c.ShapeProfile).
		Bool("prevent_server_caching", c.PreventServerCaching).
		Int("completions", c.Completions).
		Bool("openai_compatible", c.IsOpenAICompatible()).
		Str("output_format", c.OutputFormat).
		Str("retry", c.Retry).
		Msg("load configuration resolved")
}
