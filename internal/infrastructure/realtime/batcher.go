// Package realtime batches per-subject update events before delivering
// them to subscribers. Instead of one callback per event, a subscriber
// receives bounded batches: a batch is flushed when it reaches the
// configured size or when the configured delay has elapsed since its first
// event, whichever comes first.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures a single subscription.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
}

// DefaultOptions returns the defaults used for progress-update streams.
func DefaultOptions() Options {
	return Options{
		BatchSize:  10,
		BatchDelay: 250 * time.Millisecond,
	}
}

// subscription is the pending queue and timer for one key. The timer runs
// only while the queue is non-empty and is armed by the first event of a
// batch, so delivery happens at most BatchDelay after that event.
type subscription[T any] struct {
	callback func([]T)
	opts     Options
	pending  []T
	timer    *time.Timer
}

// Batcher fans batched events out to per-key subscribers. Safe for
// concurrent use; callbacks are invoked outside the batcher lock, so a
// callback may publish or unsubscribe without deadlocking.
type Batcher[T any] struct {
	mu     sync.Mutex
	subs   map[string]*subscription[T]
	logger *zap.Logger
	closed bool
}

// NewBatcher creates an empty batcher.
func NewBatcher[T any](logger *zap.Logger) *Batcher[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher[T]{
		subs:   make(map[string]*subscription[T]),
		logger: logger,
	}
}

// Subscribe registers callback for key and returns an idempotent
// unsubscribe function. Subscribing a key that already has a subscriber
// replaces it and drops any events queued for the old subscriber.
func (b *Batcher[T]) Subscribe(key string, callback func([]T), opts Options) func() {
	defaults := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = defaults.BatchDelay
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	if old, ok := b.subs[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	sub := &subscription[T]{callback: callback, opts: opts}
	b.subs[key] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			current, ok := b.subs[key]
			if !ok || current != sub {
				return
			}
			if current.timer != nil {
				current.timer.Stop()
			}
			delete(b.subs, key)
		})
	}
}

// Publish queues event for key's subscriber. Reaching the batch size
// flushes immediately and cancels the pending delay timer; otherwise the
// first queued event arms the timer. Events for keys without a subscriber
// are dropped.
func (b *Batcher[T]) Publish(key string, event T) {
	b.mu.Lock()

	sub, ok := b.subs[key]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}

	sub.pending = append(sub.pending, event)

	if len(sub.pending) >= sub.opts.BatchSize {
		if sub.timer != nil {
			sub.timer.Stop()
			sub.timer = nil
		}
		batch := sub.pending
		sub.pending = nil
		callback := sub.callback
		b.mu.Unlock()
		callback(batch)
		return
	}

	if sub.timer == nil {
		sub.timer = time.AfterFunc(sub.opts.BatchDelay, func() {
			b.flush(key, sub)
		})
	}
	b.mu.Unlock()
}

// flush delivers whatever is queued for key when its delay timer fires.
// A size-based flush that raced ahead leaves the queue empty, which makes
// this a no-op.
func (b *Batcher[T]) flush(key string, expected *subscription[T]) {
	b.mu.Lock()

	sub, ok := b.subs[key]
	if !ok || sub != expected || len(sub.pending) == 0 {
		if ok && sub == expected {
			sub.timer = nil
		}
		b.mu.Unlock()
		return
	}

	sub.timer = nil
	batch := sub.pending
	sub.pending = nil
	callback := sub.callback
	b.mu.Unlock()

	callback(batch)
}

// Close cancels every outstanding timer and drops all subscriptions.
// Queued events are discarded; use it at process shutdown.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, sub := range b.subs {
		if sub.timer != nil {
			sub.timer.Stop()
		}
		delete(b.subs, key)
	}
	b.logger.Debug("update batcher closed")
}

// Pending returns the number of events queued for key. Intended for
// stats endpoints and tests.
func (b *Batcher[T]) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[key]; ok {
		return len(sub.pending)
	}
	return 0
}
