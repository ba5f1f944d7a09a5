package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	rerrors "mentorcore-backend/internal/errors"
)

func TestGuard_PassesThroughSuccess(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	op := Guard(registry, "ai-service", DefaultBreakerConfig(), func(ctx context.Context) (string, error) {
		return "feedback", nil
	})

	result, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feedback", result)

	status, ok := registry.Status("ai-service")
	require.True(t, ok)
	assert.Equal(t, "closed", status.State)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	cfg := BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}

	calls := 0
	op := Guard(registry, "document-store", cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("store unavailable")
	})

	for i := 0; i < 3; i++ {
		_, err := op(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)

	// Circuit is open: next call fails fast without invoking the op.
	_, err := op(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, calls, "operation must not be invoked while open")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, rerrors.IsRecoverable(err), "open-circuit rejections are never retried")

	status, ok := registry.Status("document-store")
	require.True(t, ok)
	assert.Equal(t, "open", status.State)
	assert.False(t, status.LastFailureAt.IsZero())
}

func TestGuard_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	cfg := BreakerConfig{FailureThreshold: 2, ResetTimeout: 50 * time.Millisecond}

	failing := true
	calls := 0
	op := Guard(registry, "ai-service", cfg, func(ctx context.Context) (int, error) {
		calls++
		if failing {
			return 0, errors.New("AI inference failed")
		}
		return 1, nil
	})

	op(context.Background())
	op(context.Background())
	_, err := op(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	// After the reset window the probe call goes through and closes the
	// circuit.
	failing = false
	time.Sleep(70 * time.Millisecond)

	result, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	status, _ := registry.Status("ai-service")
	assert.Equal(t, "closed", status.State)
	assert.Zero(t, status.ConsecutiveFailures)
}

func TestGuard_HalfOpenProbeReopensOnFailure(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: 40 * time.Millisecond}

	op := Guard(registry, "flaky", cfg, func(ctx context.Context) (int, error) {
		return 0, errors.New("still broken")
	})

	op(context.Background())
	time.Sleep(60 * time.Millisecond)

	// The probe fails, reopening the circuit.
	_, err := op(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)

	_, err = op(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestGuard_BreakersAreIndependentPerDependency(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}

	broken := Guard(registry, "broken", cfg, func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	})
	healthy := Guard(registry, "healthy", cfg, func(ctx context.Context) (int, error) {
		return 5, nil
	})

	broken(context.Background())
	_, err := broken(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	result, err := healthy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result)

	snapshot := registry.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, "open", snapshot["broken"].State)
	assert.Equal(t, "closed", snapshot["healthy"].State)
}

func TestGuard_ComposesWithRetry(t *testing.T) {
	registry := NewBreakerRegistry(zap.NewNop())
	cfg := BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute}

	calls := 0
	guarded := Guard(registry, "store", cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("store unavailable")
	})

	// Two failures open the circuit; the third attempt is rejected
	// fail-fast and WithRetry stops retrying, so the op is not called a
	// third time.
	_, err := WithRetry(context.Background(), fastPolicy(5), zap.NewNop(), rerrors.NewContext("read", ""), guarded)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
