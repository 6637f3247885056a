// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // session zones must resolve in scratch images
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Model providers.
const (
	ProviderSimulated = "simulated"
	ProviderOpenAI    = "openai"
)

const minUploadSecretLen = 16

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// PublicBaseURL prefixes the upload URLs handed to clients.
	PublicBaseURL string `koanf:"public_base_url"`

	// StoreDriver selects the submission store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`

	// DatabaseURL is the postgres connection string used by the postgres driver.
	DatabaseURL string `koanf:"database_url"`

	// RunMigrations applies embedded schema migrations at startup.
	RunMigrations bool `koanf:"run_migrations"`

	// AudioDir is the root directory of the audio object store.
	AudioDir string `koanf:"audio_dir"`

	// UploadSecret signs upload capabilities.
	UploadSecret string `koanf:"upload_secret"`

	// UploadURLTTLSeconds bounds the validity window of an upload capability.
	UploadURLTTLSeconds int `koanf:"upload_url_ttl_seconds"`

	// SessionTimezone is the IANA zone used to derive session dates.
	SessionTimezone string `koanf:"session_timezone"`

	// RetentionDays sets how long submissions are kept before pruning.
	RetentionDays int `koanf:"retention_days"`

	// PruneIntervalSeconds sets how often the memory store prunes expired records.
	PruneIntervalSeconds int `koanf:"prune_interval_seconds"`

	// LeaderboardDefaultLimit is used when GET /leaderboard has no limit.
	LeaderboardDefaultLimit int `koanf:"leaderboard_default_limit"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// LeaderboardCacheTTLMS is the freshness window of computed leaderboards.
	LeaderboardCacheTTLMS int `koanf:"leaderboard_cache_ttl_ms"`

	// ModelProvider selects transcription and grading: simulated or openai.
	ModelProvider string `koanf:"model_provider"`

	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIBaseURL string `koanf:"openai_base_url"`

	TranscriptionModel    string  `koanf:"transcription_model"`
	TranscriptionLanguage string  `koanf:"transcription_language"`
	GradingModel          string  `koanf:"grading_model"`
	GradingTemperature    float64 `koanf:"grading_temperature"`

	// RetryMaxAttempts, RetryBaseDelayMS and RetryFactor shape the bounded
	// retry applied to transcription and grading independently.
	RetryMaxAttempts int     `koanf:"retry_max_attempts"`
	RetryBaseDelayMS int     `koanf:"retry_base_delay_ms"`
	RetryFactor      float64 `koanf:"retry_factor"`

	// AutoProcess enqueues a scoring job as soon as an upload completes.
	AutoProcess bool `koanf:"auto_process"`

	// EventQueueSize bounds the in-memory scoring job queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of background scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the in-flight job deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// SimulatedLatencyMinMS and SimulatedLatencyMaxMS bound the latency of the simulated model.
	SimulatedLatencyMinMS int `koanf:"simulated_latency_min_ms"`
	SimulatedLatencyMaxMS int `koanf:"simulated_latency_max_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		PublicBaseURL:           "http://localhost:9080",
		StoreDriver:             StoreMemory,
		RunMigrations:           true,
		AudioDir:                "./data/audio",
		UploadSecret:            "roastboard-dev-upload-secret",
		UploadURLTTLSeconds:     300,
		SessionTimezone:         "UTC",
		RetentionDays:           90,
		PruneIntervalSeconds:    3600,
		LeaderboardDefaultLimit: 100,
		MaxLeaderboardLimit:     1000,
		LeaderboardCacheTTLMS:   2000,
		ModelProvider:           ProviderSimulated,
		TranscriptionModel:      "whisper-1",
		TranscriptionLanguage:   "en",
		GradingModel:            "gpt-4-turbo-preview",
		GradingTemperature:      0.7,
		RetryMaxAttempts:        3,
		RetryBaseDelayMS:        1000,
		RetryFactor:             2,
		EventQueueSize:          1000,
		WorkerCount:             4,
		DedupeSize:              10_000,
		SimulatedLatencyMinMS:   50,
		SimulatedLatencyMaxMS:   150,
	}
}

// Validate checks the cross-field constraints of the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StorePostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StorePostgres && c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is required for the postgres store", ErrInvalidConfig)
	case c.ModelProvider != ProviderSimulated && c.ModelProvider != ProviderOpenAI:
		return fmt.Errorf("%w: unknown model_provider %q", ErrInvalidConfig, c.ModelProvider)
	case c.ModelProvider == ProviderOpenAI && c.OpenAIAPIKey == "":
		return fmt.Errorf("%w: openai_api_key is required for the openai provider", ErrInvalidConfig)
	case len(c.UploadSecret) < minUploadSecretLen:
		return fmt.Errorf("%w: upload_secret must be at least %d bytes", ErrInvalidConfig, minUploadSecretLen)
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("%w: retry_max_attempts must be at least 1", ErrInvalidConfig)
	case c.UploadURLTTLSeconds < 1:
		return fmt.Errorf("%w: upload_url_ttl_seconds must be positive", ErrInvalidConfig)
	case c.LeaderboardDefaultLimit < 1 || c.LeaderboardDefaultLimit > c.MaxLeaderboardLimit:
		return fmt.Errorf("%w: leaderboard_default_limit must be in [1, max_leaderboard_limit]", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: session_timezone: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location resolves SessionTimezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.SessionTimezone)
}

// UploadURLTTL returns the capability validity window.
func (c *Config) UploadURLTTL() time.Duration {
	return time.Duration(c.UploadURLTTLSeconds) * time.Second
}

// Retention returns how long a submission is kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// PruneInterval returns the memory store janitor period.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalSeconds) * time.Second
}

// LeaderboardCacheTTL returns the leaderboard freshness window.
func (c *Config) LeaderboardCacheTTL() time.Duration {
	return time.Duration(c.LeaderboardCacheTTLMS) * time.Millisecond
}

// RetryBaseDelay returns the delay before the first retry.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}
