package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "DATABASE_URL", "LLM_API_KEY", "LLM_BASE_URL",
		"LLM_MODEL", "LLM_TEMPERATURE", "LLM_SYSTEM_PROMPT", "LLM_TITLE_MODEL",
		"EMBEDDING_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL",
		"MEMORY_TOP_K", "MEMORY_SIMILARITY_THRESHOLD", "MEMORY_DEDUP_THRESHOLD",
		"ENABLED_TOOLS", "HEALTH_PORT",
	} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultModel, cfg.DefaultModel)
	assert.Equal(t, defaultTemperature, cfg.DefaultTemperature)
	assert.Equal(t, defaultHealthPort, cfg.HealthPort)
	assert.Equal(t, defaultMemoryTopK, cfg.MemoryTopK)
	assert.InDelta(t, 0.35, cfg.MemorySimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.85, cfg.MemoryDedupThreshold, 1e-9)
	assert.Equal(t, []string{"memory", "search", "fetch", "wikipedia", "tts"}, cfg.EnabledTools)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("HEALTH_PORT", "9090")
	t.Setenv("ENABLED_TOOLS", "memory, fetch")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.InDelta(t, 0.2, cfg.DefaultTemperature, 1e-9)
	assert.Equal(t, 9090, cfg.HealthPort)
	assert.Equal(t, []string{"memory", "fetch"}, cfg.EnabledTools)
}

func TestSplitNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitNonEmpty(" a , , b ", ","))
	assert.Nil(t, splitNonEmpty("", ","))
}
