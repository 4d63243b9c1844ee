package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the full runtime configuration. Defaults are overlaid by an
// optional YAML file, then by environment variables.
type Config struct {
	Port     int
	LogLevel string

	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Journal   JournalConfig
}

type DatabaseConfig struct {
	Enabled    bool
	URL        string
	MaxRetries int
	RetryDelay time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type RateLimitConfig struct {
	MaxTokens            int
	RefillRate           int
	RefillInterval       time.Duration
	ConservativeFallback bool
}

type JournalConfig struct {
	QueueSize     int
	MaxRetries    int
	RetryInterval time.Duration
}

type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Database struct {
		Enabled    *bool  `yaml:"enabled"`
		URL        string `yaml:"url"`
		MaxRetries int    `yaml:"max_retries"`
		RetryDelay string `yaml:"retry_delay"`
	} `yaml:"database"`

	Redis struct {
		Enabled  *bool  `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimit struct {
		MaxTokens            int    `yaml:"max_tokens"`
		RefillRate           int    `yaml:"refill_rate"`
		RefillInterval       string `yaml:"refill_interval"`
		ConservativeFallback *bool  `yaml:"conservative_fallback"`
	} `yaml:"ratelimit"`

	Journal struct {
		QueueSize     int    `yaml:"queue_size"`
		MaxRetries    int    `yaml:"max_retries"`
		RetryInterval string `yaml:"retry_interval"`
	} `yaml:"journal"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if strings.TrimSpace(path) != "" {
		if err := applyYAMLConfig(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Database: DatabaseConfig{
			Enabled:    false,
			URL:        "postgres://localhost:5432/marketsim?sslmode=disable",
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     6379,
			DB:       0,
			PoolSize: 10,
		},
		RateLimit: RateLimitConfig{
			MaxTokens:            100,
			RefillRate:           10,
			RefillInterval:       1 * time.Second,
			ConservativeFallback: true,
		},
		Journal: JournalConfig{
			QueueSize:     1024,
			MaxRetries:    5,
			RetryInterval: 30 * time.Second,
		},
	}
}

func applyYAMLConfig(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse yaml config: %w", err)
	}

	if fc.Port > 0 {
		cfg.Port = fc.Port
	}
	if v := strings.TrimSpace(fc.LogLevel); v != "" {
		cfg.LogLevel = v
	}

	if fc.Database.Enabled != nil {
		cfg.Database.Enabled = *fc.Database.Enabled
	}
	if v := strings.TrimSpace(fc.Database.URL); v != "" {
		cfg.Database.URL = v
	}
	if fc.Database.MaxRetries > 0 {
		cfg.Database.MaxRetries = fc.Database.MaxRetries
	}
	if v := strings.TrimSpace(fc.Database.RetryDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid database.retry_delay in yaml: %w", err)
		}
		cfg.Database.RetryDelay = d
	}

	if fc.Redis.Enabled != nil {
		cfg.Redis.Enabled = *fc.Redis.Enabled
	}
	if v := strings.TrimSpace(fc.Redis.Host); v != "" {
		cfg.Redis.Host = v
	}
	if fc.Redis.Port > 0 {
		cfg.Redis.Port = fc.Redis.Port
	}
	if v := strings.TrimSpace(fc.Redis.Password); v != "" {
		cfg.Redis.Password = v
	}
	if fc.Redis.DB != nil && *fc.Redis.DB >= 0 {
		cfg.Redis.DB = *fc.Redis.DB
	}
	if fc.Redis.PoolSize > 0 {
		cfg.Redis.PoolSize = fc.Redis.PoolSize
	}

	if fc.RateLimit.MaxTokens > 0 {
		cfg.RateLimit.MaxTokens = fc.RateLimit.MaxTokens
	}
	if fc.RateLimit.RefillRate > 0 {
		cfg.RateLimit.RefillRate = fc.RateLimit.RefillRate
	}
	if v := strings.TrimSpace(fc.RateLimit.RefillInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ratelimit.refill_interval in yaml: %w", err)
		}
		cfg.RateLimit.RefillInterval = d
	}
	if fc.RateLimit.ConservativeFallback != nil {
		cfg.RateLimit.ConservativeFallback = *fc.RateLimit.ConservativeFallback
	}

	if fc.Journal.QueueSize > 0 {
		cfg.Journal.QueueSize = fc.Journal.QueueSize
	}
	if fc.Journal.MaxRetries > 0 {
		cfg.Journal.MaxRetries = fc.Journal.MaxRetries
	}
	if v := strings.TrimSpace(fc.Journal.RetryInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid journal.retry_interval in yaml: %w", err)
		}
		cfg.Journal.RetryInterval = d
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := envBool("DATABASE_ENABLED"); v != nil {
		cfg.Database.Enabled = *v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_HOST")); v != "" {
		cfg.Redis.Host = v
		cfg.Redis.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Redis.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := envBool("REDIS_ENABLED"); v != nil {
		cfg.Redis.Enabled = *v
	}
	if v := strings.TrimSpace(os.Getenv("RATELIMIT_MAX_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.MaxTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATELIMIT_REFILL_RATE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.RefillRate = n
		}
	}
}

func envBool(name string) *bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return nil
	}
	b := v == "1" || v == "true" || v == "yes" || v == "on"
	return &b
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", cfg.LogLevel)
	}
	if cfg.Database.Enabled && strings.TrimSpace(cfg.Database.URL) == "" {
		return errors.New("database.url is required when database.enabled=true")
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = 1 * time.Second
	}
	if cfg.Journal.RetryInterval <= 0 {
		cfg.Journal.RetryInterval = 30 * time.Second
	}
	return nil
}
