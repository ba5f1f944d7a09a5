package resilience

import (
	"context"
	"time"

	rerrors "mentorcore-backend/internal/errors"
)

// WithTimeout races op against a timer. When the timer wins, a
// ReliabilityError of kind TIMEOUT is returned and the slow operation is
// abandoned, not cancelled: it keeps the parent context and its eventual
// result is discarded through a buffered channel, so it can never write
// into state the caller has moved on from.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, opCtx rerrors.Context, op Operation[T]) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := op(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return zero, rerrors.Timeout("context cancelled while waiting").
			WithContext(opCtx).
			WithCause(ctx.Err()).
			Build()
	case <-timer.C:
		return zero, rerrors.Timeout("operation timeout exceeded").
			WithContext(opCtx).
			WithMetadata("timeout_ms", timeout.Milliseconds()).
			Build()
	}
}
