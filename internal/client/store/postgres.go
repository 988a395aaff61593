package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"insureflow/internal/client/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists clients in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const clientColumns = `id, first_name, last_name, email, phone, address, national_id, sealed_template,
	fingerprint_verified, status, compliance_verified, compliance_notes, compliance_verified_at,
	is_active, agent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var cid int64
	var status string
	var verifiedAt sql.NullTime
	var agentID sql.NullInt64
	if err := row.Scan(&cid, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address, &c.NationalID,
		&c.SealedTemplate, &c.FingerprintVerified, &status, &c.ComplianceVerified, &c.ComplianceNotes,
		&verifiedAt, &c.Active, &agentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ClientID(cid)
	c.Status = models.Status(status)
	if verifiedAt.Valid {
		at := verifiedAt.Time
		c.ComplianceVerifiedAt = &at
	}
	if agentID.Valid {
		c.AgentID = id.UserID(agentID.Int64)
	}
	return &c, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableUser(u id.UserID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(u), Valid: !u.IsNil()}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Client) error {
	query := `
		INSERT INTO clients (first_name, last_name, email, phone, address, national_id, sealed_template,
			fingerprint_verified, status, compliance_verified, compliance_notes, compliance_verified_at,
			is_active, agent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	var cid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.NationalID, c.SealedTemplate,
		c.FingerprintVerified, string(c.Status), c.ComplianceVerified, c.ComplianceNotes,
		nullableTime(c.ComplianceVerifiedAt), c.Active, nullableUser(c.AgentID), c.CreatedAt, c.UpdatedAt,
	).Scan(&cid)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	c.ID = id.ClientID(cid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, clientID id.ClientID) (*models.Client, error) {
	row := txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, int64(clientID))
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Client, error) {
	var conds []string
	var args []any
	if !filter.AgentID.IsNil() {
		args = append(args, int64(filter.AgentID))
		conds = append(conds, "agent_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + clientColumns + ` FROM clients`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clients: %w", err)
	}
	return n, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, clientID id.ClientID, validate func(*models.Client) error, mutate func(*models.Client)) (*models.Client, error) {
	var out *models.Client
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		c, err := scanClient(q.QueryRowContext(ctx,
			`SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, int64(clientID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock client: %w", err)
		}
		if err := validate(c); err != nil {
			return err
		}
		mutate(c)
		_, err = q.ExecContext(ctx, `
			UPDATE clients
			SET first_name = $2, last_name = $3, email = $4, phone = $5, address = $6, national_id = $7,
			    sealed_template = $8, fingerprint_verified = $9, status = $10, compliance_verified = $11,
			    compliance_notes = $12, compliance_verified_at = $13, is_active = $14, updated_at = $15
			WHERE id = $1
		`, int64(c.ID), c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.NationalID,
			c.SealedTemplate, c.FingerprintVerified, string(c.Status), c.ComplianceVerified,
			c.ComplianceNotes, nullableTime(c.ComplianceVerifiedAt), c.Active, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update client: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
