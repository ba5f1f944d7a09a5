package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	rerrors "mentorcore-backend/internal/errors"
)

// ErrCircuitOpen is wrapped into every fail-fast rejection so callers can
// test for it with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig configures one circuit breaker. The circuit opens after
// FailureThreshold consecutive failures and allows a single probe call
// once ResetTimeout has elapsed; the probe's outcome closes or reopens it.
type BreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns the defaults used for AI and store
// dependencies.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	defaults := DefaultBreakerConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaults.ResetTimeout
	}
	return c
}

// BreakerStatus is a read-only snapshot of one breaker for stats
// endpoints.
type BreakerStatus struct {
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutiveFailures"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
}

// BreakerRegistry owns one circuit breaker per dependency name, created
// lazily on first use and kept for the life of the registry. The registry
// is part of the constructed reliability context rather than a package
// global, so tests get isolated breaker state for free.
type BreakerRegistry struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	lastFailure map[string]time.Time
	logger      *zap.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		lastFailure: make(map[string]time.Time),
		logger:      logger,
	}
}

func (r *BreakerRegistry) breaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg = cfg.normalized()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// One probe call in half-open: its success closes the circuit,
		// its failure reopens it.
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	r.breakers[name] = cb
	return cb
}

func (r *BreakerRegistry) recordFailure(name string) {
	r.mu.Lock()
	r.lastFailure[name] = time.Now()
	r.mu.Unlock()
}

// Status returns a snapshot of the breaker for name, or false when no
// call has created it yet.
func (r *BreakerRegistry) Status(name string) (BreakerStatus, bool) {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	last := r.lastFailure[name]
	r.mu.Unlock()

	if !ok {
		return BreakerStatus{}, false
	}
	return BreakerStatus{
		State:               cb.State().String(),
		ConsecutiveFailures: cb.Counts().ConsecutiveFailures,
		LastFailureAt:       last,
	}, true
}

// Snapshot returns the status of every known breaker keyed by dependency
// name.
func (r *BreakerRegistry) Snapshot() map[string]BreakerStatus {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()

	out := make(map[string]BreakerStatus, len(names))
	for _, name := range names {
		if status, ok := r.Status(name); ok {
			out[name] = status
		}
	}
	return out
}

// Guard wraps op with the circuit breaker for the named dependency. While
// the circuit is open, calls fail fast with a non-recoverable
// ReliabilityError wrapping ErrCircuitOpen and op is never invoked.
func Guard[T any](registry *BreakerRegistry, name string, cfg BreakerConfig, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		cb := registry.breaker(name, cfg)

		result, err := cb.Execute(func() (any, error) {
			return op(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, rerrors.Unknown("circuit breaker open").
					WithContext(rerrors.Context{Operation: name, Timestamp: time.Now()}).
					WithCause(ErrCircuitOpen).
					WithMetadata("dependency", name).
					Build()
			}
			registry.recordFailure(name)
			return zero, err
		}

		value, ok := result.(T)
		if !ok {
			return zero, rerrors.Unknown("guarded operation returned unexpected type").
				WithMetadata("dependency", name).
				Build()
		}
		return value, nil
	}
}
