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
	t.Setenv(configPathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Pipeline.Cooldown())
	assert.Equal(t, "Medium", cfg.Pipeline.ImpactAlertThreshold)
	assert.Equal(t, 2, cfg.Pipeline.RetryLimit())
	assert.Equal(t, 1500, cfg.Pipeline.MinLength())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 15000, cfg.Model.MaxChars)
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
}

func TestLoadMergesFile(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  cooldown_window: 6h
  classification_retry_limit: 0
  impact_alert_threshold: High
  cooldown_scope: issuer
model:
  backend: openai
  model: gpt-4o-mini
edgar:
  companies:
    - symbol: ACME
      cik: "0000012345"
scheduler:
  interval: 5m
  timezone: America/New_York
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.Pipeline.Cooldown())
	assert.Equal(t, 0, cfg.Pipeline.RetryLimit(), "an explicit zero disables schema retries")
	assert.Equal(t, "High", cfg.Pipeline.ImpactAlertThreshold)
	assert.Equal(t, "issuer", cfg.Pipeline.CooldownScope)
	assert.Equal(t, 1500, cfg.Pipeline.MinLength(), "unset keys keep defaults")
	assert.Equal(t, "https://api.openai.com/v1", cfg.Model.Endpoint)
	require.Len(t, cfg.Edgar.Companies, 1)
	assert.Equal(t, "ACME", cfg.Edgar.Companies[0].Symbol)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "America/New_York", cfg.Scheduler.Location().String())
}

func TestLoadAcceptsExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pipeline:\n  cooldown_window: 0s\n  min_content_length: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.Pipeline.Cooldown(), "zero turns the cooldown off")
	assert.Equal(t, 0, cfg.Pipeline.MinLength(), "zero turns the length rule off")
	require.NotNil(t, cfg.Pipeline.CooldownWindow)
}

func TestPipelineAccessorsFallBackToDefaults(t *testing.T) {
	var p PipelineConfig
	assert.Equal(t, 24*time.Hour, p.Cooldown())
	assert.Equal(t, 1500, p.MinLength())
	assert.Equal(t, 2, p.RetryLimit())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(openAIAPIKeyEnv, "sk-test")
	t.Setenv(telegramChatIDEnv, "42")
	t.Setenv(storageDriverEnv, "badger")

	cfg, err := Load(writeConfig(t, "model:\n  backend: openai\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "42", cfg.Notifications.Telegram.ChatID)
	assert.Equal(t, "badger", cfg.Storage.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"threshold":   "pipeline:\n  impact_alert_threshold: Severe\n",
		"scope":       "pipeline:\n  cooldown_scope: sector\n",
		"pattern":     "pipeline:\n  boilerplate_patterns: ['(']\n",
		"driver":      "storage:\n  driver: mongo\n",
		"backend":     "model:\n  backend: bard\n",
		"cik":         "edgar:\n  companies:\n    - symbol: X\n      cik: abc\n",
		"retry limit": "pipeline:\n  classification_retry_limit: -1\n",
		"cooldown":    "pipeline:\n  cooldown_window: -1h\n",
		"min length":  "pipeline:\n  min_content_length: -5\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "pipeline: ["))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
