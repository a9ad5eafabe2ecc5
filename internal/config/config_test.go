package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		APIBaseEndpoint:       "https://example.openai.azure.com",
		Deployment:            "gpt-4o",
		APIVersion:            "2024-02-01",
		APIKeyEnv:             "TEST_LOADGEN_API_KEY",
		Clients:               10,
		Requests:              100,
		RunEndConditionMode:   "or",
		Rate:                  60,
		ContextGenerationMode: "generate",
		ShapeProfile:          "balanced",
		Completions:           1,
		OutputFormat:          "jsonl",
		Retry:                 "exponential",
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	os.Unsetenv("TEST_LOADGEN_API_KEY")
	c := validConfig()
	require.Error(t, c.Validate())
}

func TestValidateRejectsShortDuration(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	c := validConfig()
	c.Duration = 10
	require.Error(t, c.Validate())
}

func TestValidateAllowsZeroDuration(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	c := validConfig()
	c.Duration = 0
	require.NoError(t, c.Validate())
}

func TestValidateRequiresReplayPathWithReplayMethod(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	c := validConfig()
	c.ContextGenerationMode = "replay"
	require.Error(t, c.Validate())

	c.ReplayPath = "/tmp/replay.json"
	require.NoError(t, c.Validate())
}

func TestValidateRequiresContextTokensForCustomShape(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	c := validConfig()
	c.ShapeProfile = "custom"
	require.Error(t, c.Validate())

	c.ContextTokens = 1000
	require.NoError(t, c.Validate())
}

func TestValidateRejectsOutOfRangePenalties(t *testing.T) {
	os.Setenv("TEST_LOADGEN_API_KEY", "secret")
	defer os.Unsetenv("TEST_LOADGEN_API_KEY")

	bad := 3.0
	c := validConfig()
	c.FrequencyPenalty = &bad
	require.Error(t, c.Validate())
}

func TestIsOpenAICompatibleDetectsHostedEndpoints(t *testing.T) {
	c := validConfig()
	c.APIBaseEndpoint = "https://api.openai.com/v1"
	require.True(t, c.IsOpenAICompatible())

	c.APIBaseEndpoint = "https://example.azure.com"
	c.OpenAICompatible = false
	require.False(t, c.IsOpenAICompatible())
}

func TestRequestURLBuildsAzureDeploymentPath(t *testing.T) {
	c := validConfig()
	url := c.RequestURL()
	require.Equal(t, "https://example.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=2024-02-01", url)
}

func TestRequestURLUsesBaseVerbatimForOpenAICompatible(t *testing.T) {
	c := validConfig()
	c.APIBaseEndpoint = "https://api.openai.com/v1/chat/completions"
	c.OpenAICompatible = true
	require.Equal(t, c.APIBaseEndpoint, c.RequestURL())
}

func TestEffectiveShapeUsesNamedProfile(t *testing.T) {
	c := validConfig()
	c.ShapeProfile = "context"
	contextTokens, maxTokens := c.EffectiveShape()
	require.Equal(t, 2000, contextTokens)
	require.Equal(t, 200, maxTokens)
}

func TestEffectiveShapeUsesRawValuesForCustom(t *testing.T) {
	c := validConfig()
	c.ShapeProfile = "custom"
	c.ContextTokens = 1234
	c.MaxTokens = 99
	contextTokens, maxTokens := c.EffectiveShape()
	require.Equal(t, 1234, contextTokens)
	require.Equal(t, 99, maxTokens)
}
