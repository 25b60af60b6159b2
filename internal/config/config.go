// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Retry ceilings, chunk
// sizes, thresholds and worker counts are policy, not contract, so they all
// live here rather than as hard constants.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Apify      ApifyConfig      `yaml:"apify" mapstructure:"apify"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ApifyConfig configures the scraping provider client.
type ApifyConfig struct {
	Token              string  `yaml:"token" mapstructure:"token"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMS   int     `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RetentionDays      int     `yaml:"retention_days" mapstructure:"retention_days"`
	ArchiveBatchSize   int     `yaml:"archive_batch_size" mapstructure:"archive_batch_size"`
	ArchiveDelayMS     int     `yaml:"archive_delay_ms" mapstructure:"archive_delay_ms"`
	ArchivePauseMS     int     `yaml:"archive_pause_ms" mapstructure:"archive_pause_ms"`
	ArchivePageSize    int     `yaml:"archive_page_size" mapstructure:"archive_page_size"`
	DefaultInitDepth   int     `yaml:"default_initial_depth" mapstructure:"default_initial_depth"`
	DefaultRecurDepth  int     `yaml:"default_recurring_depth" mapstructure:"default_recurring_depth"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// IngestConfig tunes the review ingestion pipeline.
type IngestConfig struct {
	ExistsChunkSize int `yaml:"exists_chunk_size" mapstructure:"exists_chunk_size"`
	InsertChunkSize int `yaml:"insert_chunk_size" mapstructure:"insert_chunk_size"`
}

// AnalysisConfig tunes the AI batch state machine and result processor.
type AnalysisConfig struct {
	ChunkSize       int   `yaml:"chunk_size" mapstructure:"chunk_size"`
	IDChunkSize     int   `yaml:"id_chunk_size" mapstructure:"id_chunk_size"`
	Workers         int   `yaml:"workers" mapstructure:"workers"`
	StaleAfterHours int   `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	MaxBatchItems   int   `yaml:"max_batch_items" mapstructure:"max_batch_items"`
	MaxTokens       int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	SWOTReviewLimit int   `yaml:"swot_review_limit" mapstructure:"swot_review_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVIEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.max_retries", 5)
	v.SetDefault("apify.retry_base_delay_ms", 1000)
	v.SetDefault("apify.requests_per_second", 5)
	v.SetDefault("apify.retention_days", 14)
	v.SetDefault("apify.archive_batch_size", 10)
	v.SetDefault("apify.archive_delay_ms", 200)
	v.SetDefault("apify.archive_pause_ms", 2000)
	v.SetDefault("apify.archive_page_size", 100)
	v.SetDefault("apify.default_initial_depth", 500)
	v.SetDefault("apify.default_recurring_depth", 50)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ingest.exists_chunk_size", 500)
	v.SetDefault("ingest.insert_chunk_size", 200)
	v.SetDefault("analysis.chunk_size", 200)
	v.SetDefault("analysis.id_chunk_size", 500)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.stale_after_hours", 24)
	v.SetDefault("analysis.max_batch_items", 1000)
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("analysis.swot_review_limit", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
