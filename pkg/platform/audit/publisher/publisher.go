// Package publisher emits audit events with category-specific delivery guarantees.
//
// Compliance events are fail-closed: they are written synchronously (inside the caller's
// transaction when one is active) and a persistence failure is returned so the business
// operation rolls back. Security and operations events are best-effort: failures are logged
// and counted but never fail the caller.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "insureflow/pkg/platform/audit"
	"insureflow/pkg/requestcontext"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insureflow_audit_events_emitted_total",
		Help: "Audit events persisted, by category",
	}, []string{"category"})
	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insureflow_audit_persist_failures_total",
		Help: "Audit events that could not be persisted, by category",
	}, []string{"category"})
)

// Publisher writes audit events to a Store.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher backed by store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills request-scoped fields and persists event. Only compliance events return errors.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	event.Category = audit.AuditEvent(event.Action).Category()
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	category := string(event.Category)
	if err := p.store.Append(ctx, event); err != nil {
		persistFailures.WithLabelValues(category).Inc()
		if event.Category == audit.CategoryCompliance {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"subject", event.Subject,
				"request_id", event.RequestID,
				"error", err,
			)
			return fmt.Errorf("compliance audit persistence failed: %w", err)
		}
		p.logger.WarnContext(ctx, "audit event dropped",
			"action", event.Action,
			"subject", event.Subject,
			"request_id", event.RequestID,
			"error", err,
		)
		return nil
	}
	eventsEmitted.WithLabelValues(category).Inc()
	return nil
}
