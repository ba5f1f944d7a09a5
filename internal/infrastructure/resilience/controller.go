package resilience

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	rerrors "mentorcore-backend/internal/errors"
)

// ProcessingStatus values carried by fallback payloads.
const (
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// Fallback is the synthesized payload returned when an operation cannot
// complete and the layer degrades instead of propagating. Callers can tell
// it apart from real data by ProcessingStatus; it is never a silent wrong
// answer.
type Fallback struct {
	Data             any          `json:"data,omitempty"`
	ProcessingStatus string       `json:"processingStatus"`
	Kind             rerrors.Kind `json:"errorKind"`
	Message          string       `json:"message,omitempty"`
	GeneratedAt      time.Time    `json:"generatedAt"`
}

// FallbackProvider supplies a best-effort payload, typically a last-known
// good snapshot, when no kind-specific recovery applies.
type FallbackProvider func(ctx context.Context, opCtx rerrors.Context) (any, error)

// Controller is the error-handling half of the reliability context: it
// classifies raw failures, logs them to the observability sink, and
// synthesizes fallback payloads for the recoverable kinds.
type Controller struct {
	logger   *zap.Logger
	validate *validator.Validate
	fallback FallbackProvider
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithFallbackProvider registers a last-known-good data provider.
func WithFallbackProvider(p FallbackProvider) ControllerOption {
	return func(c *Controller) {
		c.fallback = p
	}
}

// NewController creates a controller logging through logger.
func NewController(logger *zap.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		logger:   logger,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleAnalyticsError classifies cause, logs it, and degrades gracefully:
// recoverable failures produce a fallback payload instead of an error. AI
// failures degrade to an empty analytics payload; the other recoverable
// kinds consult the fallback provider for a last-known-good snapshot. When
// nothing can be recovered the payload is tagged StatusFailed. The
// classified error is returned alongside so callers can surface it when no
// degradation is acceptable.
func (c *Controller) HandleAnalyticsError(ctx context.Context, cause error, opCtx rerrors.Context) (Fallback, *rerrors.ReliabilityError) {
	rerr := rerrors.Classify(cause, opCtx)
	c.log(rerr)

	fb := Fallback{
		ProcessingStatus: StatusFailed,
		Kind:             rerr.Kind,
		Message:          rerr.Message,
		GeneratedAt:      time.Now(),
	}
	if !rerr.Recoverable {
		return fb, rerr
	}

	switch rerr.Kind {
	case rerrors.KindAIFailure:
		// AI feedback is an enrichment, not a dependency: serve the
		// subject's data without it rather than failing the read.
		fb.ProcessingStatus = StatusDegraded
		return fb, rerr
	default:
		if c.fallback == nil {
			return fb, rerr
		}
		snapshot, err := c.fallback(ctx, opCtx)
		if err != nil {
			c.logger.Warn("fallback provider failed",
				zap.String("operation", opCtx.Operation),
				zap.Error(err),
			)
			return fb, rerr
		}
		fb.Data = snapshot
		fb.ProcessingStatus = StatusDegraded
		return fb, rerr
	}
}

// Validate raises a non-recoverable VALIDATION error when any of the
// required structural fields is absent or nil in data.
func (c *Controller) Validate(data map[string]any, required []string, opCtx rerrors.Context) error {
	var missing []string
	for _, field := range required {
		if value, ok := data[field]; !ok || value == nil {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return rerrors.Validation("required fields missing").
		WithContext(opCtx).
		WithMetadata("missing_fields", missing).
		Build()
}

// ValidateStruct runs go-playground validation tags against a typed
// payload, wrapping failures as non-recoverable VALIDATION errors.
func (c *Controller) ValidateStruct(payload any, opCtx rerrors.Context) error {
	if err := c.validate.Struct(payload); err != nil {
		return rerrors.Validation("payload validation failed").
			WithContext(opCtx).
			WithCause(err).
			Build()
	}
	return nil
}

// log writes a classified error to the observability sink at a level
// matching its severity.
func (c *Controller) log(rerr *rerrors.ReliabilityError) {
	fields := []zap.Field{
		zap.String("kind", string(rerr.Kind)),
		zap.String("severity", string(rerr.Severity)),
		zap.Bool("recoverable", rerr.Recoverable),
		zap.String("operation", rerr.Context.Operation),
		zap.String("subject_id", rerr.Context.SubjectID),
		zap.Error(rerr),
	}
	switch rerr.Severity {
	case rerrors.SeverityCritical, rerrors.SeverityHigh:
		c.logger.Error("analytics operation failed", fields...)
	case rerrors.SeverityMedium:
		c.logger.Warn("analytics operation failed", fields...)
	default:
		c.logger.Info("analytics operation failed", fields...)
	}
}
