package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the carinspect server and worker.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Jobs      JobsConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// InternalURL is the base address other services use to fetch media from this backend.
	InternalURL string
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider       string
	BaseURL        string
	RequestTimeout time.Duration
}

type JobsConfig struct {
	MaxRetries     int
	BackoffBase    time.Duration
	StatusCacheTTL time.Duration
}

type QueueConfig struct {
	Name              string
	VisibilityTimeout time.Duration
}

type WorkerConfig struct {
	Enabled            bool
	Concurrency        int
	PollInterval       time.Duration
	ShutdownTimeout    time.Duration
	FailFastOnNoImages bool
}

type StorageConfig struct {
	Type   string
	URLTTL time.Duration
	S3     S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validProviders = map[string]bool{
	"http": true,
	"mock": true,
}

var validStorageTypes = map[string]bool{
	"local": true,
	"s3":    true,
}

// LoadDotEnv loads variables from a .env file if one exists. Variables already
// present in the environment win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("PORT", 8080),
			Env:         envString("APP_ENV", "production"),
			InternalURL: strings.TrimRight(envString("BACKEND_INTERNAL_URL", "http://localhost:8080"), "/"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxConns:        envInt("DB_MAX_CONNS", 25),
			MinConns:        envInt("DB_MIN_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:       envString("AI_PROVIDER", "http"),
			BaseURL:        strings.TrimRight(os.Getenv("AI_SERVICE_BASE_URL"), "/"),
			RequestTimeout: envDuration("AI_REQUEST_TIMEOUT", 120*time.Second),
		},
		Jobs: JobsConfig{
			MaxRetries:     envInt("JOB_MAX_RETRIES", 3),
			BackoffBase:    envDuration("JOB_BACKOFF_BASE", 2*time.Second),
			StatusCacheTTL: envDuration("JOB_STATUS_CACHE_TTL", 24*time.Hour),
		},
		Queue: QueueConfig{
			Name:              envString("QUEUE_NAME", "ai-analysis"),
			VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		},
		Worker: WorkerConfig{
			Enabled:            envBool("WORKER_ENABLED", true),
			Concurrency:        envInt("WORKER_CONCURRENCY", 4),
			PollInterval:       envDuration("WORKER_POLL_INTERVAL", time.Second),
			ShutdownTimeout:    envDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
			FailFastOnNoImages: envBool("WORKER_FAIL_FAST_NO_IMAGES", false),
		},
		Storage: StorageConfig{
			Type:   envString("STORAGE_TYPE", "local"),
			URLTTL: envDuration("MEDIA_URL_TTL", time.Hour),
			S3: S3Config{
				Bucket:          os.Getenv("S3_BUCKET"),
				Region:          envString("S3_REGION", "auto"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_RPM", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// LogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of http, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "http" {
		if c.AI.BaseURL == "" {
			return fmt.Errorf("AI_SERVICE_BASE_URL is required when AI_PROVIDER is http")
		}
		if !isHTTPURL(c.AI.BaseURL) {
			return fmt.Errorf("AI_SERVICE_BASE_URL must start with http:// or https://, got %q", c.AI.BaseURL)
		}
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be positive")
	}

	if !isHTTPURL(c.Server.InternalURL) {
		return fmt.Errorf("BACKEND_INTERNAL_URL must start with http:// or https://, got %q", c.Server.InternalURL)
	}

	if c.Jobs.MaxRetries < 1 {
		return fmt.Errorf("JOB_MAX_RETRIES must be at least 1, got %d", c.Jobs.MaxRetries)
	}
	if c.Jobs.BackoffBase <= 0 {
		return fmt.Errorf("JOB_BACKOFF_BASE must be positive")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	if c.Queue.VisibilityTimeout <= c.AI.RequestTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed AI_REQUEST_TIMEOUT (%s)",
			c.Queue.VisibilityTimeout, c.AI.RequestTimeout)
	}

	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("STORAGE_TYPE must be one of local, s3; got %q", c.Storage.Type)
	}
	if c.Storage.Type == "s3" {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_TYPE is s3")
		}
		if c.Storage.S3.AccessKeyID == "" || c.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when STORAGE_TYPE is s3")
		}
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
