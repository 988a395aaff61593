package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/tx"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Outbox is the pending-event source.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer delivers a keyed record to a topic.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Worker relays outbox entries to the broker. Each batch is fetched, published and marked
// inside one transaction so a crash mid-batch republishes rather than loses events.
type Worker struct {
	outbox    Outbox
	producer  Producer
	runner    tx.Runner
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(outbox Outbox, producer Producer, runner tx.Runner, topic string, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		producer:  producer,
		runner:    runner,
		topic:     topic,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.RelayOnce(ctx)
			if err != nil {
				w.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.DebugContext(ctx, "audit outbox relayed", "count", n)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	relayed := 0
	err := w.runner.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.outbox.FetchPending(ctx, w.batchSize)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			if err := w.producer.Produce(ctx, w.topic, []byte(e.Subject), e.Payload); err != nil {
				return err
			}
			ids = append(ids, e.ID)
		}
		relayed = len(ids)
		return w.outbox.MarkPublished(ctx, ids, time.Now())
	})
	if err != nil {
		return 0, err
	}
	return relayed, nil
}
