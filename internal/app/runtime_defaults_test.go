package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Auth.JWT.Secret)
	require.Equal(t, "otpauth", cfg.Auth.JWT.Issuer)
	require.True(t, generated["auth.jwt.secret"])
	require.True(t, generated["auth.jwt.issuer"])

	other := &Config{}
	_, err = ApplyRuntimeDefaults(other)
	require.NoError(t, err)
	require.NotEqual(t, cfg.Auth.JWT.Secret, other.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)
	cfg.Auth.JWT.Issuer = "marketplace"

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}
