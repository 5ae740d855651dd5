package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SAM_GOV_API_KEY", "SAM_GOV_ACCOUNT_TYPE", "ANTHROPIC_API_KEY", "GOOGLE_AI_API_KEY",
		"OPENROUTER_API_KEY", "OLLAMA_HOST", "DATABASE_URL", "REDIS_URL", "PORT",
		"BIDINTEL_SAM_ACCOUNT_TYPE", "BIDINTEL_SERVER_PORT",
	} {
		t.Setenv(k, "")
	}
	for i := 1; i <= maxNumberedKeys; i++ {
		t.Setenv(fmt.Sprintf("SAM_GOV_API_KEY_%d", i), "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "non_federal", cfg.SAM.AccountType)
	assert.Equal(t, 60*time.Second, cfg.SAM.Timeout)
	assert.Equal(t, 3, cfg.SAM.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.SAM.BackoffBase)
	assert.Equal(t, 2.0, cfg.SAM.BackoffFactor)
	assert.Equal(t, time.Hour, cfg.SAM.KeyDisabledTTL)
	assert.Equal(t, time.Hour, cfg.Cache.SearchTTL)
	assert.Equal(t, 10*time.Second, cfg.Description.FetchTimeout)
	assert.Equal(t, 10000, cfg.Description.MaxLength)
	assert.Equal(t, 50, cfg.Description.MinEnhancementLength)
	assert.Equal(t, 4000, cfg.AI.MaxTokens)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, time.Second, cfg.AI.RateLimitDelay)
	assert.True(t, cfg.AI.Fallback)
	assert.Equal(t, []string{"claude", "gemini", "openrouter", "ollama"}, cfg.AI.ProviderOrder)
	assert.Equal(t, 10, cfg.DailyQuota())
	assert.Empty(t, cfg.SAM.APIKeys)
}

func TestLoad_LegacyEnv(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("SAM_GOV_API_KEY", "primary")
	t.Setenv("SAM_GOV_API_KEY_1", "second")
	t.Setenv("SAM_GOV_API_KEY_2", "primary")
	t.Setenv("SAM_GOV_API_KEY_3", "third")
	t.Setenv("SAM_GOV_ACCOUNT_TYPE", "entity_associated")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("PORT", "9000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"primary", "second", "third"}, cfg.SAM.APIKeys)
	assert.Equal(t, 1000, cfg.DailyQuota())
	assert.Equal(t, "sk-ant", cfg.AI.Claude.APIKey)
	assert.Equal(t, "9000", cfg.Server.Port)
}

func TestLoad_LegacyEnvOverridesFileAndDefaults(t *testing.T) {
	clearLegacyEnv(t)
	path := filepath.Join(t.TempDir(), "bidintel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sam:\n  account_type: non_federal\n"), 0o600))
	t.Setenv("SAM_GOV_ACCOUNT_TYPE", "federal_system")
	t.Setenv("DATABASE_URL", "postgres://db/bids")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "federal_system", cfg.SAM.AccountType)
	assert.Equal(t, 10000, cfg.DailyQuota())
	assert.Equal(t, "postgres://db/bids", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "http://ollama:11434", cfg.AI.Ollama.BaseURL)
}

func TestLoad_PrefixedEnvBeatsLegacyEnv(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("SAM_GOV_ACCOUNT_TYPE", "federal_system")
	t.Setenv("BIDINTEL_SAM_ACCOUNT_TYPE", "entity_associated")
	t.Setenv("PORT", "9000")
	t.Setenv("BIDINTEL_SERVER_PORT", "9100")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.DailyQuota())
	assert.Equal(t, "9100", cfg.Server.Port)
}

func TestLoad_PrefixedEnvOverridesDefaults(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("BIDINTEL_SAM_MAX_RETRIES", "5")
	t.Setenv("BIDINTEL_PIPELINE_WORKERS", "8")
	t.Setenv("BIDINTEL_AI_FALLBACK", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.SAM.MaxRetries)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.False(t, cfg.AI.Fallback)
}

func TestLoad_File(t *testing.T) {
	clearLegacyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bidintel.yaml")
	content := `
sam:
  api_keys: ["k1", "k2"]
  account_type: federal_system
ai:
  preferred_provider: openrouter
  rate_limit_delay: 250ms
description:
  max_length: 4000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2"}, cfg.SAM.APIKeys)
	assert.Equal(t, 10000, cfg.DailyQuota())
	assert.Equal(t, "openrouter", cfg.AI.PreferredProvider)
	assert.Equal(t, 250*time.Millisecond, cfg.AI.RateLimitDelay)
	assert.Equal(t, 4000, cfg.Description.MaxLength)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			AI:          AIConfig{Temperature: 0.7, ProviderOrder: []string{"claude"}},
			Description: DescriptionConfig{MaxLength: 100, MinEnhancementLength: 50},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"negative retries", func(c *Config) { c.SAM.MaxRetries = -1 }, true},
		{"temperature too high", func(c *Config) { c.AI.Temperature = 3 }, true},
		{"min above max", func(c *Config) { c.Description.MinEnhancementLength = 500 }, true},
		{"unknown preferred", func(c *Config) { c.AI.PreferredProvider = "gpt" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
