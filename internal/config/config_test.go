package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.apify.com/v2", cfg.Apify.BaseURL)
	assert.Equal(t, 5, cfg.Apify.MaxRetries)
	assert.Equal(t, 14, cfg.Apify.RetentionDays)
	assert.Equal(t, 500, cfg.Ingest.ExistsChunkSize)
	assert.Equal(t, 200, cfg.Analysis.ChunkSize)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.Equal(t, 24, cfg.Analysis.StaleAfterHours)
	assert.Equal(t, int64(1024), cfg.Analysis.MaxTokens)
	assert.Equal(t, 200, cfg.Analysis.SWOTReviewLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REVIEWS_LOG_LEVEL", "debug")
	t.Setenv("REVIEWS_APIFY_RETENTION_DAYS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Apify.RetentionDays)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "console"})
	require.NoError(t, err)
}
