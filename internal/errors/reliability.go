// Package errors provides the unified error type used by the reliability
// layer. Every failure that crosses a package boundary inside this module
// is wrapped as a ReliabilityError carrying classification, severity and
// recovery metadata, so that retry, circuit-breaking and fallback decisions
// can be made without inspecting raw error strings at the call site.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a failure by the dependency or contract that produced it.
type Kind string

const (
	KindAIFailure    Kind = "AI_FAILURE"
	KindStoreFailure Kind = "STORE_FAILURE"
	KindValidation   Kind = "VALIDATION"
	KindNetwork      Kind = "NETWORK"
	KindTimeout      Kind = "TIMEOUT"
	KindUnknown      Kind = "UNKNOWN"
)

// Severity defines the severity level for logging and monitoring.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Context records where a failure happened. It travels with the error so
// the observability sink can log a complete picture without the caller
// re-threading operation names through every layer.
type Context struct {
	Operation string         `json:"operation"`
	SubjectID string         `json:"subjectId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewContext builds a Context stamped with the current time and a fresh
// request ID.
func NewContext(operation, subjectID string) Context {
	return Context{
		Operation: operation,
		SubjectID: subjectID,
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
	}
}

// ReliabilityError is the single error type produced by the reliability
// layer. Callers never construct one directly; they go through the
// constructors or Classify so defaults stay consistent.
type ReliabilityError struct {
	Kind        Kind     `json:"kind"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Context     Context  `json:"context"`
	Cause       error    `json:"-"`
}

// Error implements the error interface.
func (e *ReliabilityError) Error() string {
	if e.Context.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Context.Operation, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *ReliabilityError) Unwrap() error {
	return e.Cause
}

// WithMetadata attaches a metadata entry, allocating the map lazily.
func (e *ReliabilityError) WithMetadata(key string, value any) *ReliabilityError {
	if e.Context.Metadata == nil {
		e.Context.Metadata = make(map[string]any)
	}
	e.Context.Metadata[key] = value
	return e
}

// Builder provides fluent construction of ReliabilityError instances.
type Builder struct {
	err ReliabilityError
}

// New starts a builder with the defaults for the given kind.
func New(kind Kind, message string) *Builder {
	severity, recoverable := defaultsFor(kind)
	return &Builder{err: ReliabilityError{
		Kind:        kind,
		Message:     message,
		Severity:    severity,
		Recoverable: recoverable,
	}}
}

func (b *Builder) WithContext(ctx Context) *Builder {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	b.err.Context = ctx
	return b
}

func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

func (b *Builder) WithSeverity(s Severity) *Builder {
	b.err.Severity = s
	return b
}

func (b *Builder) WithRecoverable(recoverable bool) *Builder {
	b.err.Recoverable = recoverable
	return b
}

func (b *Builder) WithMetadata(key string, value any) *Builder {
	if b.err.Context.Metadata == nil {
		b.err.Context.Metadata = make(map[string]any)
	}
	b.err.Context.Metadata[key] = value
	return b
}

func (b *Builder) Build() *ReliabilityError {
	if b.err.Context.Timestamp.IsZero() {
		b.err.Context.Timestamp = time.Now()
	}
	return &b.err
}

// Convenience constructors for the common kinds.

func AIFailure(message string) *Builder    { return New(KindAIFailure, message) }
func StoreFailure(message string) *Builder { return New(KindStoreFailure, message) }
func Validation(message string) *Builder   { return New(KindValidation, message) }
func Network(message string) *Builder      { return New(KindNetwork, message) }
func Timeout(message string) *Builder      { return New(KindTimeout, message) }
func Unknown(message string) *Builder      { return New(KindUnknown, message) }

// defaultsFor returns the default severity and recoverable flag per kind.
// Store failures are high severity: losing the document store takes every
// personalization read down with it. Validation failures must never be
// retried, so they are non-recoverable by construction.
func defaultsFor(kind Kind) (Severity, bool) {
	switch kind {
	case KindNetwork:
		return SeverityMedium, true
	case KindTimeout:
		return SeverityMedium, true
	case KindStoreFailure:
		return SeverityHigh, true
	case KindAIFailure:
		return SeverityMedium, true
	case KindValidation:
		return SeverityLow, false
	default:
		return SeverityMedium, false
	}
}

// Classify wraps a raw error as a ReliabilityError, deriving the kind from
// keywords in the causing message. The match is deterministic and ordered:
// network beats timeout beats store beats AI. "AI" is matched
// case-sensitively so that words like "fail" do not classify as AI errors.
//
// An error that is already a ReliabilityError passes through unchanged
// except that an empty context is filled in.
func Classify(cause error, ctx Context) *ReliabilityError {
	if cause == nil {
		return Unknown("unknown failure").WithContext(ctx).Build()
	}

	var rerr *ReliabilityError
	if errors.As(cause, &rerr) {
		if rerr.Context.Operation == "" {
			rerr.Context.Operation = ctx.Operation
		}
		if rerr.Context.SubjectID == "" {
			rerr.Context.SubjectID = ctx.SubjectID
		}
		if rerr.Context.Timestamp.IsZero() {
			rerr.Context.Timestamp = ctx.Timestamp
		}
		return rerr
	}

	msg := cause.Error()
	lower := strings.ToLower(msg)

	kind := KindUnknown
	switch {
	case strings.Contains(lower, "network") || strings.Contains(lower, "fetch"):
		kind = KindNetwork
	case strings.Contains(lower, "timeout"):
		kind = KindTimeout
	case strings.Contains(lower, "database") || strings.Contains(lower, "store"):
		kind = KindStoreFailure
	case strings.Contains(msg, "AI") || strings.Contains(lower, "analysis"):
		kind = KindAIFailure
	}

	return New(kind, msg).WithContext(ctx).WithCause(cause).Build()
}

// IsRecoverable reports whether err is a ReliabilityError marked
// recoverable. Raw errors are treated as recoverable so they get a chance
// at classification and retry before the layer gives up on them.
func IsRecoverable(err error) bool {
	var rerr *ReliabilityError
	if errors.As(err, &rerr) {
		return rerr.Recoverable
	}
	return err != nil
}

// KindOf extracts the kind from err, or KindUnknown for raw errors.
func KindOf(err error) Kind {
	var rerr *ReliabilityError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}
