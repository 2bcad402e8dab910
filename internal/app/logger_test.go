package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug"}))
	require.NoError(t, ConfigureLogging(ServerConfig{}))
	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "warn", Environment: "production"}))
}
