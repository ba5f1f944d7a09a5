// Package resilience wraps arbitrary operations with retry, timeout and
// circuit-breaker protection, and degrades unrecoverable failures into
// synthesized fallback payloads. Wrappers compose as plain functions:
//
//	result, err := resilience.WithRetry(ctx, policy, logger, opCtx,
//	    resilience.Guarded(breakers, "document-store", func(ctx context.Context) (Profile, error) {
//	        return resilience.WithTimeout(ctx, 2*time.Second, opCtx, loadProfile)
//	    }))
package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	rerrors "mentorcore-backend/internal/errors"
)

// Operation is any guarded unit of work. The layer imposes no schema on T
// beyond being serializable for payload-size estimation.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryPolicy controls backoff between attempts.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

// DefaultRetryPolicy returns the policy used when callers do not supply
// their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		p.JitterFactor = defaults.JitterFactor
	}
	return p
}

// backoffSource guards the shared jitter source; rand.Rand is not safe
// for concurrent use.
var backoffSource = struct {
	mu  sync.Mutex
	rnd *rand.Rand
}{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

// backoffDelay computes the sleep before retry attempt n (1-based):
// min(base * multiplier^(n-1), max) plus jitter.
func backoffDelay(attempt int, p RetryPolicy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	backoffSource.mu.Lock()
	jitter := p.JitterFactor * delay * (backoffSource.rnd.Float64()*2 - 1)
	backoffSource.mu.Unlock()

	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// WithRetry invokes op up to policy.MaxAttempts times, sleeping with
// exponential backoff and jitter between attempts. Non-recoverable
// failures (validation, open circuit) stop retrying immediately. When
// attempts are exhausted the last failure is returned as a
// ReliabilityError tagged retries_exhausted.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, opCtx rerrors.Context, op Operation[T]) (T, error) {
	policy = policy.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	var lastErr error
	exhausted := false

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, rerrors.Timeout("context cancelled before attempt").
				WithContext(opCtx).
				WithCause(err).
				WithMetadata("attempt", attempt).
				Build()
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					zap.String("operation", opCtx.Operation),
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		lastErr = err
		if !rerrors.IsRecoverable(err) {
			break
		}
		if attempt == policy.MaxAttempts {
			exhausted = true
			break
		}

		delay := backoffDelay(attempt, policy)
		logger.Warn("retrying operation",
			zap.String("operation", opCtx.Operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, rerrors.Timeout("context cancelled during retry delay").
				WithContext(opCtx).
				WithCause(ctx.Err()).
				Build()
		}
	}

	rerr := rerrors.Classify(lastErr, opCtx)
	if exhausted {
		rerr.WithMetadata("retries_exhausted", true)
		rerr.WithMetadata("attempts", policy.MaxAttempts)
	}
	return zero, rerr
}
