package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"insureflow/internal/hospital/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists hospitals in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const hospitalColumns = `id, name, address, email, phone, is_verified, compliance_approved, compliance_notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHospital(row rowScanner) (*models.Hospital, error) {
	var h models.Hospital
	var hid int64
	if err := row.Scan(&hid, &h.Name, &h.Address, &h.Email, &h.Phone, &h.Verified,
		&h.ComplianceApproved, &h.ComplianceNotes, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.ID = id.HospitalID(hid)
	return &h, nil
}

func (s *PostgresStore) Create(ctx context.Context, h *models.Hospital) error {
	query := `
		INSERT INTO hospitals (name, address, email, phone, is_verified, compliance_approved, compliance_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var hid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		h.Name, h.Address, h.Email, h.Phone, h.Verified, h.ComplianceApproved, h.ComplianceNotes, h.CreatedAt, h.UpdatedAt,
	).Scan(&hid)
	if err != nil {
		return fmt.Errorf("insert hospital: %w", err)
	}
	h.ID = id.HospitalID(hid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, hospitalID id.HospitalID) (*models.Hospital, error) {
	row := txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, int64(hospitalID))
	h, err := scanHospital(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find hospital: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) List(ctx context.Context, verifiedOnly bool) ([]*models.Hospital, error) {
	query := `SELECT ` + hospitalColumns + ` FROM hospitals`
	if verifiedOnly {
		query += ` WHERE is_verified`
	}
	query += ` ORDER BY id`
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()

	var out []*models.Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hospital: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hospitals: %w", err)
	}
	return n, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, hospitalID id.HospitalID, validate func(*models.Hospital) error, mutate func(*models.Hospital)) (*models.Hospital, error) {
	var out *models.Hospital
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		h, err := scanHospital(q.QueryRowContext(ctx,
			`SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1 FOR UPDATE`, int64(hospitalID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock hospital: %w", err)
		}
		if err := validate(h); err != nil {
			return err
		}
		mutate(h)
		_, err = q.ExecContext(ctx, `
			UPDATE hospitals
			SET name = $2, address = $3, email = $4, phone = $5, is_verified = $6,
			    compliance_approved = $7, compliance_notes = $8, updated_at = $9
			WHERE id = $1
		`, int64(h.ID), h.Name, h.Address, h.Email, h.Phone, h.Verified, h.ComplianceApproved, h.ComplianceNotes, h.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update hospital: %w", err)
		}
		out = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
