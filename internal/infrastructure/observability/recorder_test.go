package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorder_EndComputesDuration(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	start := r.Start("get_user_progress")
	time.Sleep(10 * time.Millisecond)
	m := r.End("get_user_progress", start, false, 256, "user-1")

	assert.Equal(t, "get_user_progress", m.Operation)
	assert.GreaterOrEqual(t, m.Duration, 10*time.Millisecond)
	assert.Equal(t, 256, m.PayloadSize)
	assert.Equal(t, "user-1", m.SubjectID)
	assert.False(t, m.CacheHit)
}

func TestRecorder_BufferDropsOldest(t *testing.T) {
	r := NewRecorder(zap.NewNop(), WithBufferSize(3))

	for i := 0; i < 5; i++ {
		r.End(fmt.Sprintf("op-%d", i), time.Now(), false, 0, "")
	}

	all := r.Metrics("")
	require.Len(t, all, 3)
	assert.Equal(t, "op-2", all[0].Operation)
	assert.Equal(t, "op-4", all[2].Operation)
}

func TestRecorder_MetricsFilterByOperation(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	r.End("alpha", time.Now(), true, 0, "")
	r.End("beta", time.Now(), false, 0, "")
	r.End("alpha", time.Now(), false, 0, "")

	assert.Len(t, r.Metrics("alpha"), 2)
	assert.Len(t, r.Metrics("beta"), 1)
	assert.Len(t, r.Metrics(""), 3)
}

func TestRecorder_AveragePerformance(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	now := time.Now()
	r.End("op", now.Add(-100*time.Millisecond), true, 0, "")
	r.End("op", now.Add(-200*time.Millisecond), false, 0, "")
	r.End("other", now.Add(-time.Second), false, 0, "")

	s := r.AveragePerformance("op")
	assert.Equal(t, 2, s.TotalOperations)
	assert.InDelta(t, 0.5, s.CacheHitRate, 0.001)
	assert.Greater(t, s.AverageDuration, 100*time.Millisecond)
	assert.Less(t, s.AverageDuration, 200*time.Millisecond)
}

func TestRecorder_AveragePerformanceEmpty(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	s := r.AveragePerformance("nothing")
	assert.Equal(t, 0, s.TotalOperations)
	assert.Zero(t, s.AverageDuration)
	assert.Zero(t, s.CacheHitRate)
}

func TestRecorder_SlowOperationWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(zap.New(core), WithSlowThreshold(50*time.Millisecond))

	r.End("fast", time.Now(), false, 0, "")
	assert.Equal(t, 0, logs.Len())

	r.End("slow", time.Now().Add(-100*time.Millisecond), false, 0, "user-9")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "slow operation detected", entry.Message)
	assert.Equal(t, "slow", entry.ContextMap()["operation"])
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	r.End("op", time.Now(), false, 0, "")
	r.Clear()
	assert.Empty(t, r.Metrics(""))
}

func TestRecorder_WithCollector(t *testing.T) {
	c := NewCollector("test")
	r := NewRecorder(zap.NewNop(), WithCollector(c))

	r.End("op", time.Now(), true, 0, "")
	r.End("op", time.Now(), false, 0, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheMisses))
	assert.NotNil(t, c.Handler())
}

func TestRecorder_RecordFallback(t *testing.T) {
	c := NewCollector("test")
	r := NewRecorder(zap.NewNop(), WithCollector(c))

	r.RecordFallback("get_user_progress")
	r.RecordFallback("get_user_progress")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Fallbacks))
}

func TestRecorder_RecordFallbackWithoutCollector(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	r.RecordFallback("op")
}
