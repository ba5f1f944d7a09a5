// Package di wires the reliability context together. Every shared piece
// of state — caches, breaker registry, recorder, batcher — is owned by a
// constructed Container instead of a package-level singleton, so
// lifecycles are explicit and tests can build isolated instances.
package di

import (
	"go.uber.org/zap"

	"mentorcore-backend/internal/config"
	"mentorcore-backend/internal/infrastructure/cache"
	"mentorcore-backend/internal/infrastructure/observability"
	"mentorcore-backend/internal/infrastructure/realtime"
	"mentorcore-backend/internal/infrastructure/resilience"
)

// ProgressEvent is the update payload flowing through the real-time
// batcher: one learner action worth of progress change.
type ProgressEvent struct {
	SubjectID string         `json:"subjectId"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Container is the reliability context handed to call sites.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Recorder *observability.Recorder
	Metrics  *observability.Collector
	Breakers *resilience.BreakerRegistry
	Control  *resilience.Controller
	Batcher  *realtime.Batcher[ProgressEvent]
}

// Option customizes container construction.
type Option func(*options)

type options struct {
	fallback resilience.FallbackProvider
}

// WithFallbackProvider registers the last-known-good data provider used
// when guarded operations cannot recover.
func WithFallbackProvider(p resilience.FallbackProvider) Option {
	return func(o *options) {
		o.fallback = p
	}
}

// NewContainer builds the reliability context from configuration.
func NewContainer(cfg *config.Config, logger *zap.Logger, opts ...Option) *Container {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	collector := observability.NewCollector("mentorcore")
	recorder := observability.NewRecorder(logger.Named("recorder"),
		observability.WithBufferSize(cfg.Recorder.BufferSize),
		observability.WithSlowThreshold(cfg.Recorder.SlowThreshold.Std()),
		observability.WithCollector(collector),
	)

	controllerOpts := []resilience.ControllerOption{}
	if o.fallback != nil {
		controllerOpts = append(controllerOpts, resilience.WithFallbackProvider(o.fallback))
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Recorder: recorder,
		Metrics:  collector,
		Breakers: resilience.NewBreakerRegistry(logger.Named("breakers")),
		Control:  resilience.NewController(logger.Named("resilience"), controllerOpts...),
		Batcher:  realtime.NewBatcher[ProgressEvent](logger.Named("batcher")),
	}
}

// NewCache builds a read cache from the container's configuration. Each
// logical data kind gets its own instance.
func NewCache[T any](c *Container) *cache.Cache[T] {
	return cache.New[T](cache.Config{
		TTL:      c.Config.Cache.TTL.Std(),
		MaxSize:  c.Config.Cache.MaxSize,
		Strategy: cache.Strategy(c.Config.Cache.Strategy),
	}, c.Logger.Named("cache"))
}

// RetryPolicy translates the configured retry settings into the
// resilience package's policy type.
func (c *Container) RetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:       c.Config.Retry.MaxAttempts,
		BaseDelay:         c.Config.Retry.BaseDelay.Std(),
		MaxDelay:          c.Config.Retry.MaxDelay.Std(),
		BackoffMultiplier: c.Config.Retry.BackoffMultiplier,
		JitterFactor:      c.Config.Retry.JitterFactor,
	}
}

// BreakerConfig translates the configured breaker settings.
func (c *Container) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.Config.Breaker.FailureThreshold,
		ResetTimeout:     c.Config.Breaker.ResetTimeout.Std(),
	}
}

// BatcherOptions translates the configured batching settings.
func (c *Container) BatcherOptions() realtime.Options {
	return realtime.Options{
		BatchSize:  c.Config.Batcher.BatchSize,
		BatchDelay: c.Config.Batcher.BatchDelay.Std(),
	}
}

// Shutdown releases everything the container owns.
func (c *Container) Shutdown() {
	c.Batcher.Close()
	c.Logger.Info("reliability context shut down")
}
