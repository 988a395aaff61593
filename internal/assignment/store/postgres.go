package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"insureflow/internal/assignment/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists assignments. Creation relies on the unique
// (client_id, policy_id, hospital_id) constraint for idempotence.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const assignmentColumns = `id, client_id, policy_id, hospital_id, assigned_by, status,
	compliance_approved, compliance_notes, claim_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	var aid, cid, pid, hid int64
	var assignedBy, claimID sql.NullInt64
	var status string
	if err := row.Scan(&aid, &cid, &pid, &hid, &assignedBy, &status,
		&a.ComplianceApproved, &a.ComplianceNotes, &claimID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AssignmentID(aid)
	a.ClientID = id.ClientID(cid)
	a.PolicyID = id.PolicyID(pid)
	a.HospitalID = id.HospitalID(hid)
	a.Status = models.Status(status)
	if assignedBy.Valid {
		a.AssignedBy = id.UserID(assignedBy.Int64)
	}
	if claimID.Valid {
		a.ClaimID = id.ClaimID(claimID.Int64)
	}
	return &a, nil
}

func nullable(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// CreateOrGet inserts with ON CONFLICT DO NOTHING. When a concurrent caller won the race
// the existing row is selected instead.
func (s *PostgresStore) CreateOrGet(ctx context.Context, a *models.Assignment) (*models.Assignment, bool, error) {
	q := txcontext.Querier(ctx, s.db)
	var aid int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO assignments (client_id, policy_id, hospital_id, assigned_by, status,
			compliance_approved, compliance_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_id, policy_id, hospital_id) DO NOTHING
		RETURNING id
	`, int64(a.ClientID), int64(a.PolicyID), int64(a.HospitalID), nullable(int64(a.AssignedBy)), string(a.Status),
		a.ComplianceApproved, a.ComplianceNotes, a.CreatedAt, a.UpdatedAt,
	).Scan(&aid)
	if err == nil {
		a.ID = id.AssignmentID(aid)
		cp := *a
		return &cp, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert assignment: %w", err)
	}

	existing, err := scanAssignment(q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE client_id = $1 AND policy_id = $2 AND hospital_id = $3
	`, int64(a.ClientID), int64(a.PolicyID), int64(a.HospitalID)))
	if err != nil {
		return nil, false, fmt.Errorf("select existing assignment: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	a, err := scanAssignment(txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, int64(assignmentID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Assignment, error) {
	var conds []string
	var args []any
	if !filter.HospitalID.IsNil() {
		args = append(args, int64(filter.HospitalID))
		conds = append(conds, "hospital_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assignments: %w", err)
	}
	return n, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, assignmentID id.AssignmentID, mutate func(*models.Assignment) error) (*models.Assignment, error) {
	var out *models.Assignment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		a, err := scanAssignment(q.QueryRowContext(ctx,
			`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, int64(assignmentID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock assignment: %w", err)
		}
		if err := mutate(a); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE assignments
			SET status = $2, compliance_approved = $3, compliance_notes = $4, claim_id = $5, updated_at = $6
			WHERE id = $1
		`, int64(a.ID), string(a.Status), a.ComplianceApproved, a.ComplianceNotes, nullable(int64(a.ClaimID)), a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
