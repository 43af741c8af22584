package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the askdeck server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	RAG       RAGConfig
	Provision ProvisionConfig
	Callback  CallbackConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Dir string
}

// RAGConfig configures the external AI service adapter.
type RAGConfig struct {
	Provider       string
	RequestTimeout time.Duration
	MaxAttempts    int
	OpenAI         OpenAIConfig
}

type OpenAIConfig struct {
	APIKey string
}

// ProvisionConfig bounds pipeline execution. JobTimeout is the per-job
// wall-clock deadline; without it external-call retries could extend a job
// indefinitely.
type ProvisionConfig struct {
	JobTimeout   time.Duration
	MaxDocuments int
}

// CallbackConfig bounds terminal-result delivery to caller webhooks.
type CallbackConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	QueueSize   int
	BaseBackoff time.Duration
}

var validProviders = map[string]bool{
	"openai": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ASKDECK_PORT", 8080),
			Env:  envString("ASKDECK_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Dir: envString("STORAGE_DIR", "data/documents"),
		},
		RAG: RAGConfig{
			Provider:       envString("RAG_PROVIDER", "openai"),
			RequestTimeout: envDurationSecs("RAG_REQUEST_TIMEOUT_SECS", 120*time.Second),
			MaxAttempts:    envInt("RAG_MAX_ATTEMPTS", 4),
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
			},
		},
		Provision: ProvisionConfig{
			JobTimeout:   envDuration("PROVISION_JOB_TIMEOUT", 15*time.Minute),
			MaxDocuments: envInt("PROVISION_MAX_DOCUMENTS", 100),
		},
		Callback: CallbackConfig{
			Timeout:     envDurationSecs("CALLBACK_TIMEOUT_SECS", 10*time.Second),
			MaxAttempts: envInt("CALLBACK_MAX_ATTEMPTS", 5),
			QueueSize:   envInt("CALLBACK_QUEUE_SIZE", 256),
			BaseBackoff: envDurationSecs("CALLBACK_BASE_BACKOFF_SECS", 1*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("STORAGE_DIR is required")
	}

	if !validProviders[c.RAG.Provider] {
		return fmt.Errorf("RAG_PROVIDER must be one of %s; got %q",
			strings.Join([]string{"openai", "mock"}, ", "), c.RAG.Provider)
	}
	if c.RAG.Provider == "openai" && c.RAG.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when RAG_PROVIDER is openai")
	}
	if c.RAG.MaxAttempts < 1 {
		return fmt.Errorf("RAG_MAX_ATTEMPTS must be at least 1, got %d", c.RAG.MaxAttempts)
	}

	if c.Provision.JobTimeout <= 0 {
		return fmt.Errorf("PROVISION_JOB_TIMEOUT must be positive, got %s", c.Provision.JobTimeout)
	}
	if c.Provision.MaxDocuments < 1 {
		return fmt.Errorf("PROVISION_MAX_DOCUMENTS must be at least 1, got %d", c.Provision.MaxDocuments)
	}

	if c.Callback.MaxAttempts < 1 {
		return fmt.Errorf("CALLBACK_MAX_ATTEMPTS must be at least 1, got %d", c.Callback.MaxAttempts)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
