// Package config provides the typed configuration surface for the
// reliability layer: cache, retry, circuit breaker, batcher and recorder
// settings, loaded from a YAML file and overlaid with environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration. Immutable after Load; hot reloading
// produces a fresh instance.
type Config struct {
	Environment Environment    `yaml:"environment" validate:"oneof=development staging production"`
	Server      ServerConfig   `yaml:"server"`
	Cache       CacheConfig    `yaml:"cache"`
	Retry       RetryConfig    `yaml:"retry"`
	Breaker     BreakerConfig  `yaml:"breaker"`
	Batcher     BatcherConfig  `yaml:"batcher"`
	Recorder    RecorderConfig `yaml:"recorder"`
}

// ServerConfig configures the stats/metrics HTTP endpoint.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gt=0,lte=65535"`
}

// CacheConfig configures the read caches.
type CacheConfig struct {
	TTL      Duration `yaml:"ttl" validate:"gt=0"`
	MaxSize  int      `yaml:"max_size" validate:"gt=0"`
	Strategy string   `yaml:"strategy" validate:"oneof=lru fifo lfu"`
}

// RetryConfig configures the default retry policy for guarded operations.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"max_attempts" validate:"gt=0"`
	BaseDelay         Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay          Duration `yaml:"max_delay" validate:"gt=0"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" validate:"gt=1"`
	JitterFactor      float64  `yaml:"jitter_factor" validate:"gte=0,lte=1"`
}

// BreakerConfig configures per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32   `yaml:"failure_threshold" validate:"gt=0"`
	ResetTimeout     Duration `yaml:"reset_timeout" validate:"gt=0"`
}

// BatcherConfig configures real-time update batching.
type BatcherConfig struct {
	BatchSize  int      `yaml:"batch_size" validate:"gt=0"`
	BatchDelay Duration `yaml:"batch_delay" validate:"gt=0"`
}

// RecorderConfig configures the performance recorder.
type RecorderConfig struct {
	BufferSize    int      `yaml:"buffer_size" validate:"gt=0"`
	SlowThreshold Duration `yaml:"slow_threshold" validate:"gt=0"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Cache: CacheConfig{
			TTL:      Duration(5 * time.Minute),
			MaxSize:  1000,
			Strategy: "lru",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         Duration(100 * time.Millisecond),
			MaxDelay:          Duration(5 * time.Second),
			BackoffMultiplier: 2.0,
			JitterFactor:      0.1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(30 * time.Second),
		},
		Batcher: BatcherConfig{
			BatchSize:  10,
			BatchDelay: Duration(250 * time.Millisecond),
		},
		Recorder: RecorderConfig{
			BufferSize:    1000,
			SlowThreshold: Duration(time.Second),
		},
	}
}

// Load builds the configuration in priority order: defaults, then the
// YAML file at path (skipped when path is empty or missing), then
// environment variables. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// applyEnvironment overlays environment variables, the highest priority
// source.
func (c *Config) applyEnvironment() {
	if val := os.Getenv("APP_ENV"); val != "" {
		c.Environment = Environment(val)
	}
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if port, ok := envInt("SERVER_PORT"); ok {
		c.Server.Port = port
	}

	if ttl, ok := envDuration("CACHE_TTL"); ok {
		c.Cache.TTL = Duration(ttl)
	}
	if size, ok := envInt("CACHE_MAX_SIZE"); ok {
		c.Cache.MaxSize = size
	}
	if val := os.Getenv("CACHE_STRATEGY"); val != "" {
		c.Cache.Strategy = val
	}

	if attempts, ok := envInt("RETRY_MAX_ATTEMPTS"); ok {
		c.Retry.MaxAttempts = attempts
	}
	if delay, ok := envDuration("RETRY_BASE_DELAY"); ok {
		c.Retry.BaseDelay = Duration(delay)
	}
	if delay, ok := envDuration("RETRY_MAX_DELAY"); ok {
		c.Retry.MaxDelay = Duration(delay)
	}
	if mult, ok := envFloat("RETRY_BACKOFF_MULTIPLIER"); ok {
		c.Retry.BackoffMultiplier = mult
	}
	if jitter, ok := envFloat("RETRY_JITTER_FACTOR"); ok {
		c.Retry.JitterFactor = jitter
	}

	if threshold, ok := envInt("BREAKER_FAILURE_THRESHOLD"); ok && threshold > 0 {
		c.Breaker.FailureThreshold = uint32(threshold)
	}
	if timeout, ok := envDuration("BREAKER_RESET_TIMEOUT"); ok {
		c.Breaker.ResetTimeout = Duration(timeout)
	}

	if size, ok := envInt("BATCH_SIZE"); ok {
		c.Batcher.BatchSize = size
	}
	if delay, ok := envDuration("BATCH_DELAY"); ok {
		c.Batcher.BatchDelay = Duration(delay)
	}

	if size, ok := envInt("RECORDER_BUFFER_SIZE"); ok {
		c.Recorder.BufferSize = size
	}
	if threshold, ok := envDuration("RECORDER_SLOW_THRESHOLD"); ok {
		c.Recorder.SlowThreshold = Duration(threshold)
	}
}

func envInt(key string) (int, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envDuration(key string) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}
