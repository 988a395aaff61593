package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"insureflow/internal/platform/postgres"
	"insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists policies and insured persons in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const policyColumns = `id, client_id, policy_number, policy_type, payment_mode, coverage_level,
	nric_or_passport, coverage_details, premium_cents, start_date, expiry_date, is_active,
	max_claim_cents, deductible_cents, waiting_period_days, created_by, created_at, updated_at`

const insuredColumns = `id, policy_id, full_name, relationship, gender, date_of_birth, sealed_template,
	fingerprint_verified, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var p models.Policy
	var pid, cid int64
	var policyType, paymentMode, coverage string
	var premium, maxClaim, deductible int64
	var createdBy sql.NullInt64
	if err := row.Scan(&pid, &cid, &p.PolicyNumber, &policyType, &paymentMode, &coverage,
		&p.NRICOrPassport, &p.CoverageDetails, &premium, &p.StartDate, &p.ExpiryDate, &p.Active,
		&maxClaim, &deductible, &p.WaitingPeriodDays, &createdBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PolicyID(pid)
	p.ClientID = id.ClientID(cid)
	p.Type = models.Type(policyType)
	p.PaymentMode = models.PaymentMode(paymentMode)
	p.CoverageLevel = models.CoverageLevel(coverage)
	p.Premium = id.Amount(premium)
	p.MaxClaim = id.Amount(maxClaim)
	p.Deductible = id.Amount(deductible)
	if createdBy.Valid {
		p.CreatedBy = id.UserID(createdBy.Int64)
	}
	return &p, nil
}

func scanInsured(row rowScanner) (*models.InsuredPerson, error) {
	var p models.InsuredPerson
	var iid, pid int64
	if err := row.Scan(&iid, &pid, &p.FullName, &p.Relationship, &p.Gender, &p.DateOfBirth,
		&p.SealedTemplate, &p.FingerprintVerified, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.InsuredPersonID(iid)
	p.PolicyID = id.PolicyID(pid)
	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Policy) error {
	query := `
		INSERT INTO policies (client_id, policy_number, policy_type, payment_mode, coverage_level,
			nric_or_passport, coverage_details, premium_cents, start_date, expiry_date, is_active,
			max_claim_cents, deductible_cents, waiting_period_days, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`
	createdBy := sql.NullInt64{Int64: int64(p.CreatedBy), Valid: !p.CreatedBy.IsNil()}
	var pid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		int64(p.ClientID), p.PolicyNumber, string(p.Type), string(p.PaymentMode), string(p.CoverageLevel),
		p.NRICOrPassport, p.CoverageDetails, int64(p.Premium), p.StartDate, p.ExpiryDate, p.Active,
		int64(p.MaxClaim), int64(p.Deductible), p.WaitingPeriodDays, createdBy, p.CreatedAt, p.UpdatedAt,
	).Scan(&pid)
	if postgres.IsUniqueViolation(err, "policies_policy_number_key") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	p.ID = id.PolicyID(pid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	p, err := scanPolicy(txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, int64(policyID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Policy, error) {
	var conds []string
	var args []any
	if !filter.ClientID.IsNil() {
		args = append(args, int64(filter.ClientID))
		conds = append(conds, "client_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Scoped {
		ids := make([]int64, len(filter.ClientIDs))
		for i, c := range filter.ClientIDs {
			ids[i] = int64(c)
		}
		args = append(args, pq.Array(ids))
		conds = append(conds, "client_id = ANY($"+strconv.Itoa(len(args))+")")
	}
	query := `SELECT ` + policyColumns + ` FROM policies`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, policyID id.PolicyID, validate func(*models.Policy) error, mutate func(*models.Policy)) (*models.Policy, error) {
	var out *models.Policy
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		p, err := scanPolicy(q.QueryRowContext(ctx,
			`SELECT `+policyColumns+` FROM policies WHERE id = $1 FOR UPDATE`, int64(policyID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock policy: %w", err)
		}
		if err := validate(p); err != nil {
			return err
		}
		mutate(p)
		_, err = q.ExecContext(ctx, `
			UPDATE policies
			SET is_active = $2, coverage_details = $3, updated_at = $4
			WHERE id = $1
		`, int64(p.ID), p.Active, p.CoverageDetails, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AddInsured(ctx context.Context, p *models.InsuredPerson) error {
	query := `
		INSERT INTO insured_persons (policy_id, full_name, relationship, gender, date_of_birth,
			sealed_template, fingerprint_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var iid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		int64(p.PolicyID), p.FullName, p.Relationship, p.Gender, p.DateOfBirth,
		p.SealedTemplate, p.FingerprintVerified, p.CreatedAt,
	).Scan(&iid)
	if err != nil {
		return fmt.Errorf("insert insured person: %w", err)
	}
	p.ID = id.InsuredPersonID(iid)
	return nil
}

func (s *PostgresStore) FindInsured(ctx context.Context, insuredID id.InsuredPersonID) (*models.InsuredPerson, error) {
	p, err := scanInsured(txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+insuredColumns+` FROM insured_persons WHERE id = $1`, int64(insuredID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find insured person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListInsured(ctx context.Context, policyID id.PolicyID) ([]*models.InsuredPerson, error) {
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx,
		`SELECT `+insuredColumns+` FROM insured_persons WHERE policy_id = $1 ORDER BY id`, int64(policyID))
	if err != nil {
		return nil, fmt.Errorf("list insured persons: %w", err)
	}
	defer rows.Close()

	var out []*models.InsuredPerson
	for rows.Next() {
		p, err := scanInsured(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insured person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExecuteInsured(ctx context.Context, insuredID id.InsuredPersonID, mutate func(*models.InsuredPerson) error) (*models.InsuredPerson, error) {
	var out *models.InsuredPerson
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		p, err := scanInsured(q.QueryRowContext(ctx,
			`SELECT `+insuredColumns+` FROM insured_persons WHERE id = $1 FOR UPDATE`, int64(insuredID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock insured person: %w", err)
		}
		if err := mutate(p); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE insured_persons
			SET full_name = $2, relationship = $3, gender = $4, date_of_birth = $5,
			    sealed_template = $6, fingerprint_verified = $7
			WHERE id = $1
		`, int64(p.ID), p.FullName, p.Relationship, p.Gender, p.DateOfBirth, p.SealedTemplate, p.FingerprintVerified)
		if err != nil {
			return fmt.Errorf("update insured person: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteInsured removes an insured person. A person referenced by a claim is kept and
// sentinel.ErrConflict is returned.
func (s *PostgresStore) DeleteInsured(ctx context.Context, insuredID id.InsuredPersonID) error {
	res, err := txcontext.Querier(ctx, s.db).ExecContext(ctx,
		`DELETE FROM insured_persons WHERE id = $1`, int64(insuredID))
	if postgres.IsForeignKeyViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("delete insured person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete insured person: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count policies: %w", err)
	}
	return n, nil
}
