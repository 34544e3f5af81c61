package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store providers.
const (
	StoreProviderPostgres = "postgres"
	StoreProviderMemory   = "memory"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// StoreProvider selects the persistent document store: "postgres" or
	// "memory" (development only, nothing survives a restart).
	StoreProvider string

	// Local durable cache holding the form draft and the offline queue
	CacheProvider string // "sqlite", "redis" or "memory"
	CachePath     string // SQLite file
	RedisURL      string

	// Archive storage for permanently deleted clients
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional, for other S3-compatible services

	// Session tokens
	SessionSecret string
	SessionTTL    time.Duration

	// DefaultCoachID is assigned to clients created by admins.
	DefaultCoachID string

	// Worker Configuration
	WorkerPollInterval   time.Duration
	WorkerJobTimeout     time.Duration
	ConnectivityInterval time.Duration
	PurgeInterval        time.Duration
	RetentionDays        int

	// ForceOffline keeps the process offline regardless of store
	// reachability. Every write goes to the offline queue.
	ForceOffline bool

	// Request limits per client IP per minute
	RateLimitRequests      int
	RateLimitTokenFailures int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		StoreProvider: getEnv("STORE_PROVIDER", StoreProviderPostgres),
		DatabaseUrl:   os.Getenv("DATABASE_URL"),

		// The cache defaults to a SQLite file next to the binary
		CacheProvider: getEnv("CACHE_PROVIDER", "sqlite"),
		CachePath:     getEnv("CACHE_PATH", "./wellpass-cache.db"),
		RedisURL:      getEnv("REDIS_URL", ""),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 12*time.Hour),

		DefaultCoachID: getEnv("DEFAULT_COACH_ID", ""),

		// Worker defaults
		WorkerPollInterval:   getEnvDuration("WORKER_POLL_INTERVAL", 15*time.Second),
		WorkerJobTimeout:     getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		ConnectivityInterval: getEnvDuration("CONNECTIVITY_INTERVAL", 15*time.Second),
		PurgeInterval:        getEnvDuration("PURGE_INTERVAL", 24*time.Hour),
		RetentionDays:        getEnvInt("RETENTION_DAYS", 30),

		ForceOffline: getEnvBool("FORCE_OFFLINE", false),

		RateLimitRequests:      getEnvInt("RATE_LIMIT_REQUESTS", 600),
		RateLimitTokenFailures: getEnvInt("RATE_LIMIT_TOKEN_FAILURES", 20),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) validate() error {
	switch c.StoreProvider {
	case StoreProviderPostgres:
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_PROVIDER is 'postgres'")
		}
	case StoreProviderMemory:
		if !c.IsDevelopment() {
			return fmt.Errorf("STORE_PROVIDER 'memory' is only allowed in development")
		}
	default:
		return fmt.Errorf("STORE_PROVIDER must be either 'postgres' or 'memory', got: %s", c.StoreProvider)
	}

	switch c.CacheProvider {
	case "sqlite":
		if c.CachePath == "" {
			return fmt.Errorf("CACHE_PATH is required when CACHE_PROVIDER is 'sqlite'")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_PROVIDER is 'redis'")
		}
	case "memory":
	default:
		return fmt.Errorf("CACHE_PROVIDER must be 'sqlite', 'redis' or 'memory', got: %s", c.CacheProvider)
	}

	// Validate storage configuration
	if c.StorageProvider == "r2" {
		if c.R2AccountID == "" && c.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if c.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got: %s", c.SessionTTL)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1, got: %d", c.RetentionDays)
	}
	if c.ConnectivityInterval < time.Second {
		return fmt.Errorf("CONNECTIVITY_INTERVAL must be at least 1s, got: %s", c.ConnectivityInterval)
	}
	if c.PurgeInterval < time.Minute {
		return fmt.Errorf("PURGE_INTERVAL must be at least 1m, got: %s", c.PurgeInterval)
	}
	if c.RateLimitRequests < 1 || c.RateLimitTokenFailures < 1 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
