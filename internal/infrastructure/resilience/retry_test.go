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

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       attempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("network blip")
		}
		return "ok", nil
	}

	result, err := WithRetry(context.Background(), fastPolicy(3), zap.NewNop(), rerrors.NewContext("op", ""), op)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls, "operation invoked exactly maxAttempts times")
}

func TestWithRetry_ExhaustionTagsError(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("store write rejected")
	}

	_, err := WithRetry(context.Background(), fastPolicy(4), zap.NewNop(), rerrors.NewContext("save", "u1"), op)
	require.Error(t, err)
	assert.Equal(t, 4, calls)

	var rerr *rerrors.ReliabilityError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rerrors.KindStoreFailure, rerr.Kind)
	assert.Equal(t, true, rerr.Context.Metadata["retries_exhausted"])
	assert.Equal(t, 4, rerr.Context.Metadata["attempts"])
}

func TestWithRetry_ExhaustionTagsUnclassifiedError(t *testing.T) {
	// A message matching no classification keyword lands on KindUnknown,
	// which defaults to non-recoverable; the exhaustion tag must still be
	// set because every attempt was spent.
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}

	_, err := WithRetry(context.Background(), fastPolicy(3), zap.NewNop(), rerrors.NewContext("op", "u1"), op)
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var rerr *rerrors.ReliabilityError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rerrors.KindUnknown, rerr.Kind)
	assert.Equal(t, true, rerr.Context.Metadata["retries_exhausted"])
	assert.Equal(t, 3, rerr.Context.Metadata["attempts"])
}

func TestWithRetry_NonRecoverableFailsFast(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, rerrors.Validation("missing field").Build()
	}

	_, err := WithRetry(context.Background(), fastPolicy(5), zap.NewNop(), rerrors.NewContext("op", ""), op)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "validation errors are never retried")

	var rerr *rerrors.ReliabilityError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rerrors.KindValidation, rerr.Kind)
	assert.Nil(t, rerr.Context.Metadata["retries_exhausted"])
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := WithRetry(ctx, fastPolicy(3), zap.NewNop(), rerrors.NewContext("op", ""), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, rerrors.KindTimeout, rerrors.KindOf(err))
}

func TestWithRetry_DefaultsNormalizeZeroPolicy(t *testing.T) {
	result, err := WithRetry(context.Background(), RetryPolicy{}, nil, rerrors.Context{}, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestBackoffDelay_CapsAndGrows(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          300 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(1, policy))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(2, policy))
	// base*2^2 = 400ms capped at 300ms.
	assert.Equal(t, 300*time.Millisecond, backoffDelay(3, policy))
}

func TestBackoffDelay_JitterStaysInBounds(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.5,
	}

	for i := 0; i < 100; i++ {
		d := backoffDelay(1, policy)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
