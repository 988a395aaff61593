// Package notify delivers outbound email jobs. A separate mailer consumes them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"insureflow/pkg/email"
	"insureflow/pkg/requestcontext"
)

// Email kinds.
const (
	KindPasswordReset  = "password_reset"
	KindAccountCreated = "account_created"
)

var sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "insureflow_notifications_total",
	Help: "Outbound email jobs by kind and outcome",
}, []string{"kind", "outcome"})

// Email is one outbound message job.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind"`
	// RequestID correlates the job with the originating request.
	RequestID string `json:"request_id,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// Producer publishes a keyed record to a topic.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// KafkaSender publishes email jobs keyed by recipient.
type KafkaSender struct {
	producer Producer
	topic    string
}

func NewKafkaSender(producer Producer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, msg Email) error {
	if err := validate(msg); err != nil {
		sendsTotal.WithLabelValues(msg.Kind, "invalid").Inc()
		return err
	}
	if msg.RequestID == "" {
		msg.RequestID = requestcontext.RequestID(ctx)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email job: %w", err)
	}
	if err := s.producer.Produce(ctx, s.topic, []byte(email.Normalize(msg.To)), payload); err != nil {
		sendsTotal.WithLabelValues(msg.Kind, "failed").Inc()
		return fmt.Errorf("publish email job: %w", err)
	}
	sendsTotal.WithLabelValues(msg.Kind, "sent").Inc()
	return nil
}

// LogSender writes email jobs to the log. Used when no broker is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Email) error {
	if err := validate(msg); err != nil {
		sendsTotal.WithLabelValues(msg.Kind, "invalid").Inc()
		return err
	}
	s.logger.InfoContext(ctx, "email job",
		"request_id", requestcontext.RequestID(ctx),
		"to", msg.To,
		"kind", msg.Kind,
		"subject", msg.Subject,
	)
	sendsTotal.WithLabelValues(msg.Kind, "logged").Inc()
	return nil
}

func validate(msg Email) error {
	if !email.IsValid(msg.To) {
		return fmt.Errorf("invalid recipient %q", msg.To)
	}
	if msg.Subject == "" || msg.Kind == "" {
		return fmt.Errorf("email job requires subject and kind")
	}
	return nil
}
