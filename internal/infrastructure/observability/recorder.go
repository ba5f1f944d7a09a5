// Package observability records performance samples for every guarded
// operation and exports aggregate metrics. Recording is purely
// observational: nothing here ever changes the control flow of the
// operation being measured.
package observability

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metric is one completed operation sample. Read-only after creation.
type Metric struct {
	Operation   string        `json:"operation"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
	Duration    time.Duration `json:"duration"`
	CacheHit    bool          `json:"cacheHit"`
	PayloadSize int           `json:"payloadSize"`
	SubjectID   string        `json:"subjectId,omitempty"`
}

// Summary aggregates the samples recorded for one operation name.
type Summary struct {
	AverageDuration time.Duration `json:"averageDuration"`
	CacheHitRate    float64       `json:"cacheHitRate"`
	TotalOperations int           `json:"totalOperations"`
}

const (
	// DefaultBufferSize bounds the sample buffer; the oldest sample is
	// dropped when a new one would exceed it.
	DefaultBufferSize = 1000

	// DefaultSlowThreshold is the duration above which an operation is
	// logged as slow.
	DefaultSlowThreshold = time.Second
)

// Recorder keeps a bounded ring of performance samples and warns on slow
// operations. Safe for concurrent use.
type Recorder struct {
	mu            sync.Mutex
	samples       []Metric
	capacity      int
	slowThreshold time.Duration
	logger        *zap.Logger
	collector     *Collector
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize overrides the sample buffer capacity.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithSlowThreshold overrides the slow-operation threshold.
func WithSlowThreshold(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.slowThreshold = d
		}
	}
}

// WithCollector mirrors recorded samples into a Prometheus collector.
func WithCollector(c *Collector) RecorderOption {
	return func(r *Recorder) {
		r.collector = c
	}
}

// NewRecorder creates a recorder writing slow-operation warnings to logger.
func NewRecorder(logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		capacity:      DefaultBufferSize,
		slowThreshold: DefaultSlowThreshold,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.samples = make([]Metric, 0, r.capacity)
	return r
}

// Start marks the beginning of an operation and returns its start time.
func (r *Recorder) Start(operation string) time.Time {
	return time.Now()
}

// End completes a sample for operation, appends it to the buffer (dropping
// the oldest when full) and warns if the duration exceeded the slow
// threshold.
func (r *Recorder) End(operation string, startedAt time.Time, cacheHit bool, payloadSize int, subjectID string) Metric {
	endedAt := time.Now()
	m := Metric{
		Operation:   operation,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Duration:    endedAt.Sub(startedAt),
		CacheHit:    cacheHit,
		PayloadSize: payloadSize,
		SubjectID:   subjectID,
	}

	r.mu.Lock()
	if len(r.samples) >= r.capacity {
		r.samples = r.samples[1:]
	}
	r.samples = append(r.samples, m)
	r.mu.Unlock()

	if r.collector != nil {
		cacheLabel := "miss"
		if cacheHit {
			cacheLabel = "hit"
			r.collector.CacheHits.Inc()
		} else {
			r.collector.CacheMisses.Inc()
		}
		r.collector.OperationDuration.WithLabelValues(operation, cacheLabel).Observe(m.Duration.Seconds())
	}

	if m.Duration > r.slowThreshold {
		if r.collector != nil {
			r.collector.SlowOperations.WithLabelValues(operation).Inc()
		}
		r.logger.Warn("slow operation detected",
			zap.String("operation", operation),
			zap.Duration("duration", m.Duration),
			zap.Duration("threshold", r.slowThreshold),
			zap.String("subject_id", subjectID),
		)
	}

	return m
}

// RecordFallback counts a degraded fallback payload being served in place
// of real data.
func (r *Recorder) RecordFallback(operation string) {
	if r.collector != nil {
		r.collector.Fallbacks.Inc()
	}
	r.logger.Debug("fallback payload recorded", zap.String("operation", operation))
}

// Metrics returns a copy of the recorded samples, optionally filtered by
// operation name. An empty name matches everything.
func (r *Recorder) Metrics(operation string) []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metric, 0, len(r.samples))
	for _, m := range r.samples {
		if operation == "" || m.Operation == operation {
			out = append(out, m)
		}
	}
	return out
}

// AveragePerformance aggregates the samples for operation. It returns a
// zero summary when no samples match, so callers never divide by zero.
func (r *Recorder) AveragePerformance(operation string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total time.Duration
	var hits, count int
	for _, m := range r.samples {
		if operation != "" && m.Operation != operation {
			continue
		}
		total += m.Duration
		if m.CacheHit {
			hits++
		}
		count++
	}

	if count == 0 {
		return Summary{}
	}
	return Summary{
		AverageDuration: total / time.Duration(count),
		CacheHitRate:    float64(hits) / float64(count),
		TotalOperations: count,
	}
}

// Clear drops all recorded samples.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
}
