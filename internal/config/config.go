// Package config loads service configuration per spec §6.2: fixed
// defaults, optionally overridden by a YAML file, then overridden again by
// environment variables. Validation is fatal at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, validated service configuration.
type Config struct {
	Port     string `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"log_level"`

	StorageBackend string `yaml:"storage_backend"` // fs | s3 | r2
	CacheDir       string `yaml:"cache_dir"`

	RedisURL string `yaml:"redis_url"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	AllowedDomains     string `yaml:"allowed_domains"`
	MaxImageSizeBytes  int64  `yaml:"max_image_size_bytes"`
	UpstreamTimeoutMS  int    `yaml:"upstream_timeout_ms"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	CORSOrigins        string `yaml:"cors_origins"`
	APIKeysEnabled     bool   `yaml:"api_keys_enabled"`
	APIKeys            string `yaml:"api_keys"`

	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

func defaults() Config {
	return Config{
		Port:               "8080",
		Host:               "0.0.0.0",
		LogLevel:           "info",
		StorageBackend:     "fs",
		CacheDir:           "./cache-data",
		MaxImageSizeBytes:  25 * 1024 * 1024,
		UpstreamTimeoutMS:  15000,
		RateLimitPerMinute: 0,
		CacheTTLSeconds:    3600,
	}
}

// Load resolves configuration following the precedence described above,
// and validates the result. A non-nil error is fatal.
func Load() (Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(b, &cfg)
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	i64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	i := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	b := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("PORT", &cfg.Port)
	str("HOST", &cfg.Host)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("STORAGE_BACKEND", &cfg.StorageBackend)
	str("CACHE_DIR", &cfg.CacheDir)
	str("REDIS_URL", &cfg.RedisURL)
	str("S3_BUCKET", &cfg.S3Bucket)
	str("S3_REGION", &cfg.S3Region)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("S3_ACCESS_KEY", &cfg.S3AccessKey)
	str("S3_SECRET_KEY", &cfg.S3SecretKey)
	str("ALLOWED_DOMAINS", &cfg.AllowedDomains)
	i64("MAX_IMAGE_SIZE_BYTES", &cfg.MaxImageSizeBytes)
	i("UPSTREAM_TIMEOUT_MS", &cfg.UpstreamTimeoutMS)
	i("RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	str("CORS_ORIGINS", &cfg.CORSOrigins)
	b("API_KEYS_ENABLED", &cfg.APIKeysEnabled)
	str("API_KEYS", &cfg.APIKeys)
	i("CACHE_TTL_SECONDS", &cfg.CacheTTLSeconds)
}

func validate(cfg Config) error {
	switch cfg.StorageBackend {
	case "fs":
		if cfg.CacheDir == "" {
			return fmt.Errorf("config: CACHE_DIR is required for the fs storage backend")
		}
	case "s3", "r2":
		if cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return fmt.Errorf("config: S3_BUCKET/S3_ACCESS_KEY/S3_SECRET_KEY are required for storage backend %q", cfg.StorageBackend)
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q (want fs, s3, or r2)", cfg.StorageBackend)
	}
	if cfg.AllowedDomains == "" {
		return fmt.Errorf("config: ALLOWED_DOMAINS must name at least one upstream host")
	}
	return nil
}
