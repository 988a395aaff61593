// Package biometric adapts the external fingerprint capture and matching service.
//
// The adapter never returns errors to callers: a failed capture yields no template and a
// failed match yields VerdictUnavailable, which Verify reports as "not verified". Failures
// are classified, logged and counted so an outage is visible without blocking the workflow.
// Consecutive failures open a circuit breaker, after which calls short-circuit to
// VerdictUnavailable until a trial call succeeds.
package biometric

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"insureflow/pkg/platform/circuit"
	"insureflow/pkg/requestcontext"
)

const (
	DefaultCaptureTimeout = 30 * time.Second
	DefaultVerifyTimeout  = 10 * time.Second
)

// Template is an opaque fingerprint feature representation.
type Template []byte

// Capturer obtains a template from a scanner.
type Capturer interface {
	Capture(ctx context.Context) (Template, error)
}

// Matcher decides whether probe belongs to the same finger as stored.
type Matcher interface {
	Match(ctx context.Context, stored, probe Template) (bool, error)
}

// ExactMatcher compares templates byte for byte in constant time.
// Suitable for development and tests only.
type ExactMatcher struct{}

func (ExactMatcher) Match(_ context.Context, stored, probe Template) (bool, error) {
	if len(stored) == 0 || len(probe) == 0 {
		return false, nil
	}
	return subtle.ConstantTimeCompare(stored, probe) == 1, nil
}

// Adapter wraps a Capturer and Matcher with timeouts, logging, metrics and tracing.
type Adapter struct {
	capturer       Capturer
	matcher        Matcher
	captureTimeout time.Duration
	verifyTimeout  time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	breaker        *circuit.Breaker
	tracer         trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithCaptureTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.captureTimeout = d
		}
	}
}

func WithVerifyTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.verifyTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Adapter) {
		if b != nil {
			a.breaker = b
		}
	}
}

// New constructs an Adapter. capturer may be nil when no scanner is attached.
func New(capturer Capturer, matcher Matcher, opts ...Option) *Adapter {
	a := &Adapter{
		capturer:       capturer,
		matcher:        matcher,
		captureTimeout: DefaultCaptureTimeout,
		verifyTimeout:  DefaultVerifyTimeout,
		logger:         slog.Default(),
		breaker:        circuit.New("biometric"),
		tracer:         otel.Tracer("insureflow/biometric"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequestTemplate captures a template. ok is false on any failure.
func (a *Adapter) RequestTemplate(ctx context.Context) (Template, bool) {
	ctx, span := a.tracer.Start(ctx, "biometric.capture")
	defer span.End()

	if a.capturer == nil {
		a.logger.WarnContext(ctx, "biometric capture requested but no scanner configured",
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, false
	}

	if !a.admit(ctx, span, "capture") {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, a.captureTimeout)
	defer cancel()

	start := time.Now()
	tpl, err := a.capturer.Capture(ctx)
	if err == nil && len(tpl) == 0 {
		err = newServiceError(ErrorBadData, "capture", "empty template", nil)
	}
	a.observe(ctx, span, "capture", start, err)
	if err != nil {
		return nil, false
	}
	return tpl, true
}

// Verdict is the outcome of a match attempt.
type Verdict string

const (
	VerdictMatched  Verdict = "matched"
	VerdictMismatch Verdict = "mismatch"
	// VerdictUnavailable means no decision was reached: the service failed or the circuit
	// is open.
	VerdictUnavailable Verdict = "unavailable"
)

// Verify reports whether probe matches stored. Errors degrade to false.
func (a *Adapter) Verify(ctx context.Context, stored, probe Template) bool {
	return a.Check(ctx, stored, probe) == VerdictMatched
}

// Check matches probe against stored and tells a mismatch apart from an outage. Empty
// input is a mismatch.
func (a *Adapter) Check(ctx context.Context, stored, probe Template) Verdict {
	ctx, span := a.tracer.Start(ctx, "biometric.verify")
	defer span.End()

	if len(stored) == 0 || len(probe) == 0 {
		span.SetAttributes(attribute.Bool("biometric.matched", false))
		a.metrics.recordCall("verify", "empty_input", 0)
		return VerdictMismatch
	}

	if !a.admit(ctx, span, "verify") {
		return VerdictUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, a.verifyTimeout)
	defer cancel()

	start := time.Now()
	matched, err := a.matcher.Match(ctx, stored, probe)
	a.observe(ctx, span, "verify", start, err)
	if err != nil {
		return VerdictUnavailable
	}
	span.SetAttributes(attribute.Bool("biometric.matched", matched))
	if !matched {
		a.metrics.recordMismatch()
		return VerdictMismatch
	}
	return VerdictMatched
}

func (a *Adapter) admit(ctx context.Context, span trace.Span, op string) bool {
	if a.breaker.Allow() {
		return true
	}
	a.metrics.recordCall(op, "circuit_open", 0)
	span.SetStatus(codes.Error, "circuit_open")
	a.logger.WarnContext(ctx, "biometric call skipped, circuit open",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
	)
	return false
}

func (a *Adapter) observe(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err == nil {
		if _, change := a.breaker.RecordSuccess(); change.Closed {
			a.logger.InfoContext(ctx, "biometric circuit closed", "operation", op)
		}
		a.metrics.recordCall(op, "ok", elapsed)
		return
	}
	if _, change := a.breaker.RecordFailure(); change.Opened {
		a.logger.ErrorContext(ctx, "biometric circuit opened", "operation", op, "error", err)
	}
	category := CategoryOf(err)
	a.metrics.recordCall(op, string(category), elapsed)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(category))
	a.logger.WarnContext(ctx, "biometric service call failed",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"category", category,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)
}
