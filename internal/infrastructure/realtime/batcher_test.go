package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]string
}

func (s *batchSink) collect(batch []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *batchSink) snapshot() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

func TestBatcher_SizeTrigger(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	sink := &batchSink{}
	b.Subscribe("user-1", sink.collect, Options{BatchSize: 3, BatchDelay: time.Minute})

	b.Publish("user-1", "e1")
	b.Publish("user-1", "e2")
	assert.Empty(t, sink.snapshot(), "batch must not flush before reaching size")

	b.Publish("user-1", "e3")

	batches := sink.snapshot()
	require.Len(t, batches, 1, "exactly one callback for a full batch")
	assert.Equal(t, []string{"e1", "e2", "e3"}, batches[0], "events delivered in publish order")
	assert.Equal(t, 0, b.Pending("user-1"))
}

func TestBatcher_DelayTrigger(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	sink := &batchSink{}
	b.Subscribe("user-2", sink.collect, Options{BatchSize: 10, BatchDelay: 50 * time.Millisecond})

	b.Publish("user-2", "e1")
	b.Publish("user-2", "e2")
	assert.Empty(t, sink.snapshot())

	time.Sleep(100 * time.Millisecond)

	batches := sink.snapshot()
	require.Len(t, batches, 1, "exactly one callback after the delay")
	assert.Equal(t, []string{"e1", "e2"}, batches[0])
}

func TestBatcher_SizeFlushCancelsDelayFlush(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	sink := &batchSink{}
	b.Subscribe("user-3", sink.collect, Options{BatchSize: 2, BatchDelay: 30 * time.Millisecond})

	b.Publish("user-3", "e1")
	b.Publish("user-3", "e2") // size flush; timer must be cancelled

	time.Sleep(80 * time.Millisecond)

	batches := sink.snapshot()
	require.Len(t, batches, 1, "no double delivery from the stale timer")
	assert.Equal(t, []string{"e1", "e2"}, batches[0])
}

func TestBatcher_SeparateKeysBatchIndependently(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	first := &batchSink{}
	second := &batchSink{}
	b.Subscribe("a", first.collect, Options{BatchSize: 2, BatchDelay: time.Minute})
	b.Subscribe("b", second.collect, Options{BatchSize: 2, BatchDelay: time.Minute})

	b.Publish("a", "a1")
	b.Publish("b", "b1")
	b.Publish("a", "a2")

	assert.Equal(t, [][]string{{"a1", "a2"}}, first.snapshot())
	assert.Empty(t, second.snapshot())
	assert.Equal(t, 1, b.Pending("b"))
}

func TestBatcher_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	sink := &batchSink{}
	unsubscribe := b.Subscribe("user-4", sink.collect, Options{BatchSize: 5, BatchDelay: 20 * time.Millisecond})

	b.Publish("user-4", "e1")
	unsubscribe()
	unsubscribe() // no-op

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.snapshot(), "queued events are dropped on unsubscribe")

	b.Publish("user-4", "e2")
	assert.Equal(t, 0, b.Pending("user-4"))
}

func TestBatcher_ResubscribeReplacesSubscriber(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	old := &batchSink{}
	replacement := &batchSink{}
	stale := b.Subscribe("user-5", old.collect, Options{BatchSize: 2, BatchDelay: time.Minute})
	b.Subscribe("user-5", replacement.collect, Options{BatchSize: 2, BatchDelay: time.Minute})

	// Unsubscribing the stale handle must not tear down the replacement.
	stale()

	b.Publish("user-5", "e1")
	b.Publish("user-5", "e2")

	assert.Empty(t, old.snapshot())
	assert.Equal(t, [][]string{{"e1", "e2"}}, replacement.snapshot())
}

func TestBatcher_PublishWithoutSubscriberIsDropped(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())
	defer b.Close()

	b.Publish("ghost", "e1")
	assert.Equal(t, 0, b.Pending("ghost"))
}

func TestBatcher_Close(t *testing.T) {
	b := NewBatcher[string](zap.NewNop())

	sink := &batchSink{}
	b.Subscribe("user-6", sink.collect, Options{BatchSize: 10, BatchDelay: 20 * time.Millisecond})
	b.Publish("user-6", "e1")

	b.Close()
	b.Close() // safe to call twice

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.snapshot(), "timers are cancelled on close")

	// Subscriptions after close are inert.
	cancel := b.Subscribe("user-7", sink.collect, Options{})
	cancel()
	b.Publish("user-7", "e2")
	assert.Empty(t, sink.snapshot())
}

func TestBatcher_CallbackMayPublish(t *testing.T) {
	b := NewBatcher[int](zap.NewNop())
	defer b.Close()

	done := make(chan []int, 1)
	b.Subscribe("chain", func(batch []int) {
		select {
		case done <- batch:
		default:
		}
	}, Options{BatchSize: 1, BatchDelay: time.Minute})

	b.Subscribe("feeder", func(batch []int) {
		// Re-publishing from inside a callback must not deadlock.
		for _, v := range batch {
			b.Publish("chain", v*10)
		}
	}, Options{BatchSize: 1, BatchDelay: time.Minute})

	b.Publish("feeder", 4)

	select {
	case batch := <-done:
		assert.Equal(t, []int{40}, batch)
	case <-time.After(time.Second):
		t.Fatal("chained publish never delivered")
	}
}
