package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 1, cfg.Orquest.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Orquest.RequestTimeout)
	assert.Equal(t, time.Duration(0), cfg.Sync.Interval)
	assert.False(t, cfg.Sync.PruneMissing)
	assert.True(t, cfg.Webhook.RecordEvents)
	assert.Equal(t, "X-Orquest-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "*", cfg.Server.CORSAllowedOrigin)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
orquest:
  base_url: https://orquest.example.com/api
  retry_attempts: 3
storage:
  type: postgres
  connection_string: postgres://app@db:5432/mirror
sync:
  interval: 15m
  prune_missing: true
server:
  port: 9090
`)

	t.Setenv("ORQUEST_SYNC_SERVER_PORT", "9191")
	t.Setenv("ORQUEST_API_KEY", "key-from-env")
	t.Setenv("DATABASE_SERVICE_KEY", "service-credential")
	t.Setenv("ORQUEST_WEBHOOK_SECRET", "whsec")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://orquest.example.com/api", cfg.Orquest.BaseURL)
	assert.Equal(t, 3, cfg.Orquest.RetryAttempts)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.PruneMissing)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "key-from-env", cfg.Orquest.APIKey)
	assert.True(t, cfg.Orquest.HasAPIKey())
	assert.Equal(t, "service-credential", cfg.Storage.Credential)
	assert.Equal(t, "whsec", cfg.Webhook.Secret)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(writeConfig(t, "app:\n  name: orquest-sync\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Orquest.BaseURL = "" }},
		{"zero retry attempts", func(c *Config) { c.Orquest.RetryAttempts = 0 }},
		{"unsupported storage", func(c *Config) { c.Storage.Type = "mongodb" }},
		{"empty connection string", func(c *Config) { c.Storage.ConnectionString = "" }},
		{"no connections", func(c *Config) { c.Storage.MaxConnections = 0 }},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingAPIKeyIsValid(t *testing.T) {
	t.Setenv("ORQUEST_API_KEY", "")
	cfg, err := Load(writeConfig(t, "orquest:\n  api_key: \"  \"\n"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.Orquest.HasAPIKey())
}
