package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	loadgenconfig "github.com/guming3d/azure-openai-benchmark/internal/config"
	"github.com/guming3d/azure-openai-benchmark/internal/executor"
)

func TestEndConditionModeMapsStrings(t *testing.T) {
	require.Equal(t, executor.ModeAND, endConditionMode("and"))
	require.Equal(t, executor.ModeOR, endConditionMode("or"))
	require.Equal(t, executor.ModeOR, endConditionMode(""))
}

func TestRequestModelOnlySetForOpenAICompatible(t *testing.T) {
	cfg := &loadgenconfig.Config{OpenAICompatible: true}
	require.Equal(t, "gpt-4o", requestModel(cfg, "gpt-4o"))

	cfg = &loadgenconfig.Config{APIBaseEndpoint: "https://example.azure.com"}
	require.Equal(t, "", requestModel(cfg, "gpt-4o"))
}
