package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/auth-front/internal/config"
)

func TestGenerateDefaultConfig_Validates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, generateDefaultConfig(path))

	result, err := config.ValidateFile(path)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestGenerateDefaultConfig_Loads(t *testing.T) {
	t.Setenv("OIDC_CLIENT_ID", "client")
	t.Setenv("OIDC_CLIENT_SECRET", "secret")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, generateDefaultConfig(path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/account", cfg.Routes.Account)
	assert.Equal(t, "client", cfg.OIDC.ClientID)
}

func TestValidateConfig_ReportsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "v1"}`), 0o600))
	assert.Error(t, validateConfig(path))
}
