package logging

import (
	"github.com/rs/zerolog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevelRecognizesKnownLevels(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	require.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	require.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
	require.Equal(t, zerolog.InfoLevel, parseLevel(""))
}

func TestNewSetsGlobalLevel(t *testing.T) {
	New(Config{Level: "debug", Format: "json"})
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewPrettyFormatDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		New(Config{Level: "info", Format: "pretty"})
	})
}
