package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"insureflow/internal/access"
	"insureflow/internal/account/models"
	"insureflow/internal/platform/postgres"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const userColumns = `id, email, name, password_hash, role, is_superuser, is_active, hospital_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var uid int64
	var role string
	var hospitalID sql.NullInt64
	if err := row.Scan(&uid, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Superuser, &u.Active,
		&hospitalID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ID = id.UserID(uid)
	u.Role = access.Role(role)
	if hospitalID.Valid {
		u.HospitalID = id.HospitalID(hospitalID.Int64)
	}
	return &u, nil
}

func nullableHospital(h id.HospitalID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(h), Valid: !h.IsNil()}
}

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (email, name, password_hash, role, is_superuser, is_active, hospital_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var uid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		u.Email, u.Name, u.PasswordHash, string(u.Role), u.Superuser, u.Active,
		nullableHospital(u.HospitalID), u.CreatedAt, u.UpdatedAt,
	).Scan(&uid)
	if postgres.IsUniqueViolation(err, "users_email_key") || postgres.IsUniqueViolation(err, "users_hospital_id_key") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id.UserID(uid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, int64(userID))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, address string) (*models.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, address)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	var out *models.User
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		u, err := scanUser(q.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, int64(userID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if err := validate(u); err != nil {
			return err
		}
		mutate(u)
		_, err = q.ExecContext(ctx, `
			UPDATE users
			SET name = $2, password_hash = $3, role = $4, is_superuser = $5, is_active = $6, updated_at = $7
			WHERE id = $1
		`, int64(u.ID), u.Name, u.PasswordHash, string(u.Role), u.Superuser, u.Active, u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
