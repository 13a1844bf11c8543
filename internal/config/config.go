// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (TRIPMESH_* overrides, DATABASE_URL)
//  2. Config file (~/.tripmesh/config.yaml or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check categories
// with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidDataRoot indicates the data root directory is not set.
	ErrInvalidDataRoot = errors.New("invalid data root")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidWindow indicates the context window settings are out of range.
	ErrInvalidWindow = errors.New("invalid context window settings")

	// ErrInvalidMemoryTuning indicates a memory scoring parameter is out of range.
	ErrInvalidMemoryTuning = errors.New("invalid memory tuning")

	// ErrInvalidPostgres indicates the PostgreSQL settings are incomplete.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL settings")
)

// Defaults for the conversation window and transcript cache.
const (
	DefaultMaxTurns   = 30
	DefaultKeepSystem = 1
	DefaultCacheSize  = 15
	DefaultQueueSize  = 64
)

// Memory tunes the recall-then-rerank pipeline.
type Memory struct {
	Alpha        float64 `mapstructure:"alpha"`
	HalfLifeDays float64 `mapstructure:"half_life_days"`
	MinSim       float64 `mapstructure:"min_sim"`
	TopK         int     `mapstructure:"top_k"`
	RecallLimit  int     `mapstructure:"recall_limit"`
	MaxChars     int     `mapstructure:"max_chars"`
}

// Config stores application configuration.
type Config struct {
	// Model configuration. Model names are provider-qualified
	// ("googleai/gemini-2.5-flash"); ScanModelName is the cheaper model
	// used for privacy verdicts.
	ModelName     string `mapstructure:"model_name"`
	ScanModelName string `mapstructure:"scan_model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`

	// Filesystem layout: transcripts, local memory and user metadata all
	// live under DataRoot/user_data.
	DataRoot string `mapstructure:"data_root"`

	// Context window
	MaxTurns   int `mapstructure:"max_turns"`
	KeepSystem int `mapstructure:"keep_system"`

	// Transcript cache and write-behind queue
	CacheSize int `mapstructure:"cache_size"`
	QueueSize int `mapstructure:"queue_size"`

	Memory Memory `mapstructure:"memory"`

	// Vector database. When disabled the local file backend serves
	// memory and cross-user sharing is unavailable.
	UseVectorDB      bool   `mapstructure:"use_vector_db"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Per-user request rate limiting
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Load loads configuration with environment > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".tripmesh")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "googleai/gemini-2.5-flash")
	v.SetDefault("scan_model_name", "googleai/gemini-2.5-flash-lite")
	v.SetDefault("embedder_model", "gemini-embedding-001")

	v.SetDefault("data_root", "./data")

	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("keep_system", DefaultKeepSystem)
	v.SetDefault("cache_size", DefaultCacheSize)
	v.SetDefault("queue_size", DefaultQueueSize)

	v.SetDefault("memory.alpha", 0.7)
	v.SetDefault("memory.half_life_days", 14.0)
	v.SetDefault("memory.min_sim", 0.55)
	v.SetDefault("memory.top_k", 4)
	v.SetDefault("memory.recall_limit", 50)
	v.SetDefault("memory.max_chars", 800)

	v.SetDefault("use_vector_db", false)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "tripmesh")
	v.SetDefault("postgres_password", "tripmesh_dev_password")
	v.SetDefault("postgres_db_name", "tripmesh")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_limit_burst", 30)
}

// bindEnvVariables binds environment overrides explicitly. GEMINI_API_KEY
// is read directly by Genkit, not through viper.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: binding %q to %q: %v", key, envVar, err))
		}
	}
	mustBind("model_name", "TRIPMESH_MODEL_NAME")
	mustBind("scan_model_name", "TRIPMESH_SCAN_MODEL_NAME")
	mustBind("embedder_model", "TRIPMESH_EMBEDDER_MODEL")
	mustBind("data_root", "TRIPMESH_DATA_ROOT")
	mustBind("use_vector_db", "TRIPMESH_USE_VECTOR_DB")
	mustBind("postgres_password", "TRIPMESH_POSTGRES_PASSWORD")
}

// Validate checks the configuration, failing fast on the first problem.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is nil")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("%w: data_root must be set", ErrInvalidDataRoot)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must be set", ErrInvalidModelName)
	}
	if c.ScanModelName == "" {
		return fmt.Errorf("%w: scan_model_name must be set", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model must be set", ErrInvalidEmbedderModel)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("%w: max_turns must be >= 1, got %d", ErrInvalidWindow, c.MaxTurns)
	}
	if c.KeepSystem < 0 {
		return fmt.Errorf("%w: keep_system must be >= 0, got %d", ErrInvalidWindow, c.KeepSystem)
	}
	if c.Memory.Alpha < 0 || c.Memory.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0,1], got %v", ErrInvalidMemoryTuning, c.Memory.Alpha)
	}
	if c.Memory.HalfLifeDays <= 0 {
		return fmt.Errorf("%w: half_life_days must be > 0, got %v", ErrInvalidMemoryTuning, c.Memory.HalfLifeDays)
	}
	if c.Memory.MinSim < 0 || c.Memory.MinSim > 1 {
		return fmt.Errorf("%w: min_sim must be in [0,1], got %v", ErrInvalidMemoryTuning, c.Memory.MinSim)
	}
	if c.Memory.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidMemoryTuning, c.Memory.TopK)
	}
	if c.Memory.RecallLimit < c.Memory.TopK {
		return fmt.Errorf("%w: recall_limit must be >= top_k, got %d", ErrInvalidMemoryTuning, c.Memory.RecallLimit)
	}
	if c.Memory.MaxChars < 1 {
		return fmt.Errorf("%w: max_chars must be >= 1, got %d", ErrInvalidMemoryTuning, c.Memory.MaxChars)
	}
	if c.UseVectorDB {
		if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
			return fmt.Errorf("%w: host, user and db name must be set", ErrInvalidPostgres)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: port must be in 1-65535, got %d", ErrInvalidPostgres, c.PostgresPort)
		}
	}
	return nil
}
