package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	require.Equal(t, "mysql", cfg.DatabaseDriver)
	require.Equal(t, 0.0, cfg.GenerationTemperature)
	require.Equal(t, 0.3, cfg.SummaryTemperature)
	require.Equal(t, 5*time.Minute, cfg.LLMCacheTTL)
	require.Equal(t, 3, cfg.MaxRetries)
	require.True(t, cfg.EnableLLMCache)
}

func TestLoad_HonorsEnvOverrides(t *testing.T) {
	t.Setenv("GENERATION_TEMPERATURE", "0.1")
	t.Setenv("ENABLE_LLM_CACHE", "false")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("HISTORY_LIMIT", "25")

	cfg := Load()
	require.Equal(t, 0.1, cfg.GenerationTemperature)
	require.False(t, cfg.EnableLLMCache)
	require.Equal(t, 10*time.Minute, cfg.SessionTTL)
	require.Equal(t, 25, cfg.HistoryLimit)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_RETRIES", "not-a-number")
	cfg := Load()
	require.Equal(t, 3, cfg.MaxRetries)
}
