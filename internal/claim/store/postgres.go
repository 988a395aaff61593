package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"insureflow/internal/claim/models"
	"insureflow/internal/platform/postgres"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists claims in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const claimColumns = `id, claim_number, client_id, policy_id, hospital_id, assignment_id, insured_person_id,
	amount_cents, notes, status, compliance_approved, compliance_notes, submitted_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var c models.Claim
	var cid, clientID, policyID, hospitalID, amount int64
	var assignmentID, insuredID, submittedBy sql.NullInt64
	var status string
	if err := row.Scan(&cid, &c.ClaimNumber, &clientID, &policyID, &hospitalID, &assignmentID, &insuredID,
		&amount, &c.Notes, &status, &c.ComplianceApproved, &c.ComplianceNotes, &submittedBy,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ClaimID(cid)
	c.ClientID = id.ClientID(clientID)
	c.PolicyID = id.PolicyID(policyID)
	c.HospitalID = id.HospitalID(hospitalID)
	c.AssignmentID = id.AssignmentID(assignmentID.Int64)
	c.InsuredPersonID = id.InsuredPersonID(insuredID.Int64)
	c.SubmittedBy = id.UserID(submittedBy.Int64)
	c.Amount = id.Amount(amount)
	c.Status = models.Status(status)
	return &c, nil
}

func nullable(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Claim) error {
	var cid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO claims (claim_number, client_id, policy_id, hospital_id, assignment_id, insured_person_id,
			amount_cents, notes, status, compliance_approved, compliance_notes, submitted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, c.ClaimNumber, int64(c.ClientID), int64(c.PolicyID), int64(c.HospitalID),
		nullable(int64(c.AssignmentID)), nullable(int64(c.InsuredPersonID)),
		int64(c.Amount), c.Notes, string(c.Status), c.ComplianceApproved, c.ComplianceNotes,
		nullable(int64(c.SubmittedBy)), c.CreatedAt, c.UpdatedAt,
	).Scan(&cid)
	if postgres.IsUniqueViolation(err, "claims_claim_number_key") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	c.ID = id.ClaimID(cid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	c, err := scanClaim(txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = $1`, int64(claimID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find claim: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Claim, error) {
	where, args := filter.sql()
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (f ListFilter) sql() (string, []any) {
	var conds []string
	var args []any
	if !f.HospitalID.IsNil() {
		args = append(args, int64(f.HospitalID))
		conds = append(conds, "hospital_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if f.Scoped {
		ids := make([]int64, len(f.ClientIDs))
		for i, c := range f.ClientIDs {
			ids[i] = int64(c)
		}
		args = append(args, pq.Array(ids))
		conds = append(conds, "client_id = ANY($"+strconv.Itoa(len(args))+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ReferencesInsured reports whether any claim was filed for insuredID.
func (s *PostgresStore) ReferencesInsured(ctx context.Context, insuredID id.InsuredPersonID) (bool, error) {
	var exists bool
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE insured_person_id = $1)`, int64(insuredID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("claims for insured person: %w", err)
	}
	return exists, nil
}

// Stats aggregates all claims, or those of one hospital when hospitalID is set.
func (s *PostgresStore) Stats(ctx context.Context, hospitalID id.HospitalID) (models.Stats, error) {
	where, args := ListFilter{HospitalID: hospitalID}.sql()
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount_cents), 0) FROM claims`+where+` GROUP BY status`, args...)
	if err != nil {
		return models.Stats{}, fmt.Errorf("claim stats: %w", err)
	}
	defer rows.Close()

	stats := models.Stats{ByStatus: make(map[models.Status]int)}
	for rows.Next() {
		var status string
		var count int
		var sum int64
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return models.Stats{}, fmt.Errorf("scan claim stats: %w", err)
		}
		stats.Add(models.Status(status), count, id.Amount(sum))
	}
	return stats, rows.Err()
}

// Execute locks the row with SELECT ... FOR UPDATE, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, claimID id.ClaimID, mutate func(*models.Claim) error) (*models.Claim, error) {
	var out *models.Claim
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		c, err := scanClaim(q.QueryRowContext(ctx,
			`SELECT `+claimColumns+` FROM claims WHERE id = $1 FOR UPDATE`, int64(claimID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock claim: %w", err)
		}
		if err := mutate(c); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE claims
			SET status = $2, notes = $3, compliance_approved = $4, compliance_notes = $5, updated_at = $6
			WHERE id = $1
		`, int64(c.ID), string(c.Status), c.Notes, c.ComplianceApproved, c.ComplianceNotes, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
