package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"insureflow/internal/platform/postgres"
	"insureflow/internal/task/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	txcontext "insureflow/pkg/platform/tx"
)

// PostgresStore persists tasks in PostgreSQL. The overdue status is resolved in queries
// against the caller's date and never written.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, 0)}
}

const taskColumns = `id, title, description, assigned_to, assignee_name, status, priority, due_date, week, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var tid int64
	var assignee sql.NullInt64
	var completedAt sql.NullTime
	if err := row.Scan(&tid, &t.Title, &t.Description, &assignee, &t.AssigneeName, &t.Status, &t.Priority,
		&t.DueDate, &t.Week, &completedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ID = id.TaskID(tid)
	if assignee.Valid {
		t.AssignedTo = id.UserID(assignee.Int64)
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return &t, nil
}

func nullUser(u id.UserID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(u), Valid: !u.IsNil()}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ErrUnknownAssignee is returned when assigned_to names no user.
var ErrUnknownAssignee = errors.New("assigned user does not exist")

func writeErr(op string, err error) error {
	if postgres.IsForeignKeyViolation(err) {
		return ErrUnknownAssignee
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) Create(ctx context.Context, t *models.Task) error {
	query := `
		INSERT INTO tasks (title, description, assigned_to, assignee_name, status, priority, due_date, week, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	var tid int64
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, query,
		t.Title, t.Description, nullUser(t.AssignedTo), t.AssigneeName, string(t.Status), string(t.Priority),
		t.DueDate, t.Week, nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt,
	).Scan(&tid)
	if err != nil {
		return writeErr("insert task", err)
	}
	t.ID = id.TaskID(tid)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error) {
	row := txcontext.Querier(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, int64(taskID))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return t, nil
}

func overdue(today string) string {
	return `(status <> 'completed' AND due_date IS NOT NULL AND due_date < ` + today + `::date)`
}

// List returns matching tasks, newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Task, error) {
	where := []string{"TRUE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch filter.Status {
	case "":
	case models.StatusOverdue:
		where = append(where, overdue(arg(filter.Today)))
	default:
		where = append(where, "status = "+arg(string(filter.Status))+" AND NOT "+overdue(arg(filter.Today)))
	}
	if filter.Priority != "" {
		where = append(where, "priority = "+arg(string(filter.Priority)))
	}
	if filter.Week != 0 {
		where = append(where, "week = "+arg(filter.Week))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+" OR assignee_name ILIKE "+p+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) Counts(ctx context.Context, today id.Date) (models.Counts, error) {
	var c models.Counts
	err := txcontext.Querier(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending' AND NOT `+overdue("$1")+`),
			COUNT(*) FILTER (WHERE status = 'in_progress' AND NOT `+overdue("$1")+`),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE `+overdue("$1")+`)
		FROM tasks
	`, today).Scan(&c.Total, &c.Pending, &c.InProgress, &c.Completed, &c.Overdue)
	if err != nil {
		return models.Counts{}, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, mutates and persists it.
func (s *PostgresStore) Execute(ctx context.Context, taskID id.TaskID, mutate func(*models.Task) error) (*models.Task, error) {
	var out *models.Task
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		t, err := scanTask(q.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, int64(taskID)))
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if err := mutate(t); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE tasks
			SET title = $2, description = $3, assigned_to = $4, assignee_name = $5, status = $6,
			    priority = $7, due_date = $8, week = $9, completed_at = $10, updated_at = $11
			WHERE id = $1
		`, int64(t.ID), t.Title, t.Description, nullUser(t.AssignedTo), t.AssigneeName, string(t.Status),
			string(t.Priority), t.DueDate, t.Week, nullTime(t.CompletedAt), t.UpdatedAt)
		if err != nil {
			return writeErr("update task", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, taskID id.TaskID) error {
	res, err := txcontext.Querier(ctx, s.db).ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, int64(taskID))
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
