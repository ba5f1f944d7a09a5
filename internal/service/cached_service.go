// Package service glues the reliability primitives together into the
// read/write façade the rest of the application calls. Each logical read
// is keyed by (operation, subject): hits come straight from the cache;
// misses run the real loader guarded by retry, timeout and the
// dependency's circuit breaker, and unrecoverable failures degrade to a
// flagged fallback payload instead of surfacing. Writes bypass the cache
// and invalidate the subject's read keys on success.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	rerrors "mentorcore-backend/internal/errors"
	"mentorcore-backend/internal/infrastructure/cache"
	"mentorcore-backend/internal/infrastructure/observability"
	"mentorcore-backend/internal/infrastructure/resilience"
)

// Loader fetches the real data on a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// Writer performs the real write for a subject.
type Writer func(ctx context.Context) error

// Config tunes one cached operation.
type Config struct {
	// Dependency names the circuit breaker guarding the loader, e.g.
	// "document-store" or "ai-service".
	Dependency string

	Breaker resilience.BreakerConfig
	Retry   resilience.RetryPolicy

	// Timeout bounds a single loader invocation; zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the façade defaults: two quick attempts against a
// breaker shared with the named dependency.
func DefaultConfig(dependency string) Config {
	return Config{
		Dependency: dependency,
		Breaker:    resilience.DefaultBreakerConfig(),
		Retry: resilience.RetryPolicy{
			MaxAttempts:       2,
			BaseDelay:         50 * time.Millisecond,
			MaxDelay:          500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			JitterFactor:      0.1,
		},
		Timeout: 5 * time.Second,
	}
}

// Result carries either real data or a clearly flagged degraded payload.
// Degraded is true only when Fallback is set; Value is the zero value in
// that case.
type Result[T any] struct {
	Value    T
	CacheHit bool
	Degraded bool
	Fallback *resilience.Fallback
}

// CachedService is the façade for one logical read operation.
type CachedService[T any] struct {
	operation string
	cfg       Config
	cache     *cache.Cache[T]
	recorder  *observability.Recorder
	control   *resilience.Controller
	breakers  *resilience.BreakerRegistry
	logger    *zap.Logger
}

// New creates a façade for the named operation. All collaborators come
// from the reliability context; nothing here is a package global.
func New[T any](
	operation string,
	cfg Config,
	readCache *cache.Cache[T],
	recorder *observability.Recorder,
	control *resilience.Controller,
	breakers *resilience.BreakerRegistry,
	logger *zap.Logger,
) *CachedService[T] {
	if cfg.Dependency == "" {
		cfg.Dependency = operation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedService[T]{
		operation: operation,
		cfg:       cfg,
		cache:     readCache,
		recorder:  recorder,
		control:   control,
		breakers:  breakers,
		logger:    logger.Named(operation),
	}
}

func (s *CachedService[T]) key(subjectID string) string {
	return fmt.Sprintf("%s:%s", s.operation, subjectID)
}

// Get returns the cached value for subjectID, or loads it through the
// guarded path on a miss. Validation and open-circuit failures surface to
// the caller; other unrecoverable outcomes return a degraded Result with
// the synthesized fallback payload.
func (s *CachedService[T]) Get(ctx context.Context, subjectID string, load Loader[T]) (Result[T], error) {
	started := s.recorder.Start(s.operation)
	opCtx := rerrors.NewContext(s.operation, subjectID)

	if value, ok := s.cache.Get(s.key(subjectID)); ok {
		s.recorder.End(s.operation, started, true, estimateSize(value), subjectID)
		return Result[T]{Value: value, CacheHit: true}, nil
	}

	guarded := resilience.Guard(s.breakers, s.cfg.Dependency, s.cfg.Breaker, func(ctx context.Context) (T, error) {
		return resilience.WithTimeout(ctx, s.cfg.Timeout, opCtx, resilience.Operation[T](load))
	})

	value, err := resilience.WithRetry(ctx, s.cfg.Retry, s.logger, opCtx, guarded)
	if err == nil {
		s.cache.Set(s.key(subjectID), value)
		s.recorder.End(s.operation, started, false, estimateSize(value), subjectID)
		return Result[T]{Value: value}, nil
	}

	s.recorder.End(s.operation, started, false, 0, subjectID)

	// Fail fast to the caller for contract violations and open circuits;
	// everything else degrades.
	if rerrors.KindOf(err) == rerrors.KindValidation || isCircuitOpen(err) {
		return Result[T]{}, err
	}

	fallback, rerr := s.control.HandleAnalyticsError(ctx, err, opCtx)
	s.recorder.RecordFallback(s.operation)
	s.logger.Info("serving fallback payload",
		zap.String("subject_id", subjectID),
		zap.String("kind", string(rerr.Kind)),
		zap.String("processing_status", fallback.ProcessingStatus),
	)
	return Result[T]{Degraded: true, Fallback: &fallback}, nil
}

// Write runs the guarded write and, on success, invalidates the subject's
// cached read so the next Get observes the new state.
func (s *CachedService[T]) Write(ctx context.Context, subjectID string, write Writer) error {
	opCtx := rerrors.NewContext(s.operation+":write", subjectID)

	guarded := resilience.Guard(s.breakers, s.cfg.Dependency, s.cfg.Breaker, func(ctx context.Context) (struct{}, error) {
		_, err := resilience.WithTimeout(ctx, s.cfg.Timeout, opCtx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, write(ctx)
		})
		return struct{}{}, err
	})

	if _, err := resilience.WithRetry(ctx, s.cfg.Retry, s.logger, opCtx, guarded); err != nil {
		return err
	}

	s.Invalidate(subjectID)
	return nil
}

// Invalidate drops the subject's cached read, if any.
func (s *CachedService[T]) Invalidate(subjectID string) {
	if s.cache.Delete(s.key(subjectID)) {
		s.logger.Debug("cache invalidated", zap.String("subject_id", subjectID))
	}
}

// CacheStats exposes the underlying cache snapshot for stats endpoints.
func (s *CachedService[T]) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}

// estimateSize approximates a payload's wire size by marshalling it to
// JSON. Unserializable payloads count as zero.
func estimateSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
