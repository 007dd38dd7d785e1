package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Credit admission.
	PricePerItem int64
	MaxBatchSize int

	// Inference provider.
	InferenceBaseURL string
	InferenceAPIKey  string

	// Poll cadence per stage. Tests inject short values through provider
	// options; these are the production defaults.
	DescribePollInterval time.Duration
	DescribeMaxAttempts  int
	AnimatePollInterval  time.Duration
	AnimateMaxAttempts   int

	// Storage.
	StorageDriver  string // "filesystem" or "s3"
	StoragePath    string
	StorageBaseURL string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool

	// Stitching.
	FFmpegBin string

	// Rate limiting.
	RateLimitPerMin  int
	RateLimitBackend string // "memory" or "redis"
	RedisAddr        string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		PricePerItem: int64(getEnvInt("PRICE_PER_ITEM", 10)),
		MaxBatchSize: getEnvInt("MAX_BATCH_SIZE", 10),

		InferenceBaseURL: getEnv("INFERENCE_BASE_URL", "https://api.inference.example.com/v1"),
		InferenceAPIKey:  os.Getenv("INFERENCE_API_KEY"),

		DescribePollInterval: time.Second * time.Duration(getEnvInt("DESCRIBE_POLL_INTERVAL_SECONDS", 2)),
		DescribeMaxAttempts:  getEnvInt("DESCRIBE_MAX_ATTEMPTS", 30),
		AnimatePollInterval:  time.Second * time.Duration(getEnvInt("ANIMATE_POLL_INTERVAL_SECONDS", 5)),
		AnimateMaxAttempts:   getEnvInt("ANIMATE_MAX_ATTEMPTS", 720),

		StorageDriver:  getEnv("STORAGE_DRIVER", "filesystem"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       getEnv("S3_BUCKET", "property-videos"),
		S3UseSSL:       getEnvBool("S3_USE_SSL", true),

		FFmpegBin: getEnv("FFMPEG_BIN", "ffmpeg"),

		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.PricePerItem <= 0 {
		return nil, fmt.Errorf("PRICE_PER_ITEM must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
