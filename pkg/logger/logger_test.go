package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	require.NoError(t, Init("debug"))

	logger := Logger()
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestInitDevelopmentKeepsLevel(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	require.NoError(t, Init("warn", WithDevelopment(), WithInitialFields(map[string]interface{}{"service": "otpauth"})))

	logger := Logger()
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestInitFallsBackToInfoOnUnknownLevel(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	require.NoError(t, Init("loud"))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})
	globalLogger = zap.New(core)

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	require.Equal(t, 4, recorded.Len())

	messages := recorded.All()
	want := []string{"info message", "error message", "warn message", "debug message"}
	for i, entry := range messages {
		require.Equal(t, want[i], entry.Message)
	}
	require.Equal(t, "v", messages[0].ContextMap()["k"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})
	globalLogger = zap.New(core)

	WithModule("otp").Info("module test", Redact("user@example.com"))

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "otp", entries[0].ContextMap()["module"])
	require.Equal(t, "***com", entries[0].ContextMap()["target"])
}
