package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "insureflow/pkg/domain"
	audit "insureflow/pkg/platform/audit"
	txcontext "insureflow/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to audit_outbox in the caller's transaction and relayed to Kafka
// by the outbox worker.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	ActorID   int64  `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		ActorID:   int64(event.ActorID),
		ActorRole: event.ActorRole,
		Subject:   event.Subject,
		Action:    event.Action,
		FromState: event.FromState,
		ToState:   event.ToState,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Detail:    event.Detail,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (id, category, subject, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Querier(ctx, s.db).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Subject,
		event.Action,
		payloadBytes,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending locks up to limit unpublished entries. Must run inside a transaction so the
// row locks are held until MarkPublished commits.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	query := `
		SELECT id, subject, action, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var e audit.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Subject, &e.Action, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps entries as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, v := range ids {
		strIDs[i] = v.String()
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := txcontext.Querier(ctx, s.db).ExecContext(ctx, query, at, pq.Array(strIDs)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// ListBySubject returns events for one record, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM audit_outbox
		WHERE subject = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var p outboxPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, p.Timestamp)
		events = append(events, audit.Event{
			Category:  audit.EventCategory(p.Category),
			Timestamp: ts,
			ActorID:   id.UserID(p.ActorID),
			ActorRole: p.ActorRole,
			Subject:   p.Subject,
			Action:    p.Action,
			FromState: p.FromState,
			ToState:   p.ToState,
			Reason:    p.Reason,
			RequestID: p.RequestID,
			Detail:    p.Detail,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
