// Package config loads the groupctl configuration from a YAML file, an
// optional .env file and DIRECTORY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/Sternrassler/directory-groups/pkg/logging"
	"github.com/Sternrassler/directory-groups/pkg/membership"
	"github.com/Sternrassler/directory-groups/pkg/ratelimit"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIRECTORY_"

// Gate backends.
const (
	GateLocal = "local"
	GateRedis = "redis"
	GateNone  = "none"
)

// DirectoryConfig configures the directory HTTP client.
type DirectoryConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	PageSize  int           `yaml:"page_size"`
}

// RetryConfig configures transport-level retries.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// GateConfig configures the admission gate.
type GateConfig struct {
	// Backend is one of "local", "redis" or "none".
	Backend  string         `yaml:"backend"`
	Service  string         `yaml:"service"`
	Limit    int            `yaml:"limit"`
	Limits   map[string]int `yaml:"limits"`
	LeaseTTL time.Duration  `yaml:"lease_ttl"`
}

// RedisConfig configures the Redis connection shared by the gate and cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig configures the membership snapshot cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Logging returns the logger configuration. Level must have passed Validate.
func (l LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(l.Level)
	cfg.Pretty = l.Pretty
	return cfg
}

// Config is the complete configuration.
type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Retry     RetryConfig     `yaml:"retry"`
	BatchSize int             `yaml:"batch_size"`
	PoolSize  int             `yaml:"pool_size"`
	Gate      GateConfig      `yaml:"gate"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the default configuration. BaseURL is left empty and must
// be configured.
func Default() *Config {
	retry := directory.DefaultRetryConfig()

	return &Config{
		Directory: DirectoryConfig{
			UserAgent: "directory-groups/0.1.0",
			Timeout:   30 * time.Second,
			PageSize:  200,
		},
		Retry: RetryConfig{
			MaxAttempts:       retry.MaxAttempts,
			InitialBackoff:    retry.InitialBackoff,
			MaxBackoff:        retry.MaxBackoff,
			BackoffMultiplier: retry.BackoffMultiplier,
		},
		BatchSize: membership.DefaultBatchSize,
		PoolSize:  4,
		Gate: GateConfig{
			Backend:  GateLocal,
			Service:  membership.DefaultServiceName,
			Limit:    ratelimit.DefaultLimit,
			LeaseTTL: ratelimit.DefaultLeaseTTL,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			TTL: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then the
// given .env files (".env" if none are given, ignored when missing), then
// applies DIRECTORY_* environment overrides. Values from .env never replace
// variables already set in the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyEnvOverrides() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = i
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("BASE_URL", &c.Directory.BaseURL)
	str("TOKEN", &c.Directory.Token)
	str("USER_AGENT", &c.Directory.UserAgent)
	dur("TIMEOUT", &c.Directory.Timeout)
	num("PAGE_SIZE", &c.Directory.PageSize)

	num("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	dur("RETRY_INITIAL_BACKOFF", &c.Retry.InitialBackoff)
	dur("RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff)

	num("BATCH_SIZE", &c.BatchSize)
	num("POOL_SIZE", &c.PoolSize)

	str("GATE_BACKEND", &c.Gate.Backend)
	str("GATE_SERVICE", &c.Gate.Service)
	num("GATE_LIMIT", &c.Gate.Limit)
	dur("GATE_LEASE_TTL", &c.Gate.LeaseTTL)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)

	flag("CACHE_ENABLED", &c.Cache.Enabled)
	dur("CACHE_TTL", &c.Cache.TTL)

	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_PRETTY", &c.Log.Pretty)

	return errors.Join(errs...)
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory.base_url is required")
	}

	u, err := url.Parse(c.Directory.BaseURL)
	if err != nil {
		return fmt.Errorf("directory.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("directory.base_url must be an absolute http(s) URL (got %q)", c.Directory.BaseURL)
	}

	if c.Directory.UserAgent == "" {
		return fmt.Errorf("directory.user_agent is required")
	}

	if c.BatchSize > membership.MaxBatchSize {
		return fmt.Errorf("batch_size must be <= %d (got %d)", membership.MaxBatchSize, c.BatchSize)
	}

	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be >= 1 (got %d)", c.PoolSize)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}

	switch c.Gate.Backend {
	case GateLocal, GateNone:
	case GateRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis gate")
		}
	default:
		return fmt.Errorf("unknown gate backend %q", c.Gate.Backend)
	}

	if c.Gate.Backend != GateNone && c.Gate.Limit < 1 {
		return fmt.Errorf("gate.limit must be >= 1 (got %d)", c.Gate.Limit)
	}

	if c.Cache.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when the cache is enabled")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// ClientConfig returns the directory client configuration.
func (c *Config) ClientConfig() directory.Config {
	return directory.Config{
		BaseURL:   c.Directory.BaseURL,
		Token:     c.Directory.Token,
		UserAgent: c.Directory.UserAgent,
		Timeout:   c.Directory.Timeout,
		PageSize:  c.Directory.PageSize,
		Retry: directory.RetryConfig{
			MaxAttempts:       c.Retry.MaxAttempts,
			InitialBackoff:    c.Retry.InitialBackoff,
			MaxBackoff:        c.Retry.MaxBackoff,
			BackoffMultiplier: c.Retry.BackoffMultiplier,
		},
	}
}

// GateLimits returns the per-service limits with the configured service
// pinned to Gate.Limit.
func (c *Config) GateLimits() map[string]int {
	limits := make(map[string]int, len(c.Gate.Limits)+1)
	for service, limit := range c.Gate.Limits {
		limits[service] = limit
	}
	limits[c.Gate.Service] = c.Gate.Limit
	return limits
}
