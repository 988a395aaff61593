// Package service runs the back-office task board: staff create, assign, progress and
// close work items, and the board reports per-status totals.
package service

import (
	"context"
	"errors"
	"log/slog"

	"insureflow/internal/access"
	"insureflow/internal/task/models"
	"insureflow/internal/task/store"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, t *models.Task) error
	FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Task, error)
	Counts(ctx context.Context, today id.Date) (models.Counts, error)
	Execute(ctx context.Context, taskID id.TaskID, mutate func(*models.Task) error) (*models.Task, error)
	Delete(ctx context.Context, taskID id.TaskID) error
}

// Directory resolves assignees. It rejects unknown, suspended and non-staff accounts with
// a validation error.
type Directory interface {
	StaffName(ctx context.Context, userID id.UserID) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// MaxBulk bounds the number of tasks one bulk action may touch.
const MaxBulk = 100

var (
	staffRoles = []access.Role{
		access.RoleAdmin, access.RoleAgent, access.RoleClaimOfficer,
		access.RoleFinanceOfficer, access.RoleReportOfficer, access.RoleComplianceOfficer,
	}
	deleteRoles = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
)

// Service manages staff tasks.
type Service struct {
	store     Store
	directory Directory
	runner    tx.Runner
	gate      *access.Gate
	audit     AuditPublisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// WithDirectory checks assignees and records their names for search.
func WithDirectory(d Directory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

func New(store Store, runner tx.Runner, gate *access.Gate, opts ...Option) *Service {
	s := &Service{store: store, runner: runner, gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request carries task fields. Nil pointers and empty values keep the current value on
// update and take the default on create.
type Request struct {
	Title       string
	Description *string
	AssignedTo  *id.UserID
	Status      models.Status
	Priority    models.Priority
	DueDate     *id.Date
	Week        int
}

func (s *Service) fields(ctx context.Context, req Request) (models.Fields, error) {
	f := models.Fields{
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		Week:        req.Week,
	}
	if req.AssignedTo != nil && !req.AssignedTo.IsNil() && s.directory != nil {
		name, err := s.directory.StaffName(ctx, *req.AssignedTo)
		if err != nil {
			return models.Fields{}, err
		}
		f.AssigneeName = name
	}
	return f, nil
}

func (s *Service) Create(ctx context.Context, actor access.Actor, req Request) (*models.Task, error) {
	if err := s.gate.Authorize(ctx, actor, "create task", staffRoles...); err != nil {
		return nil, err
	}
	f, err := s.fields(ctx, req)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	t, err := models.NewTask(f, now)
	if err != nil {
		return nil, toValidation(err)
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, t); err != nil {
			return wrapErr(err)
		}
		return s.emit(ctx, actor, t, audit.EventTaskCreated, "", t.Status)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "task created",
		"request_id", requestcontext.RequestID(ctx),
		"task_id", t.ID,
		"assigned_to", t.AssignedTo,
	)
	return s.resolve(ctx, t), nil
}

// Update edits a task. An update that changes nothing emits no event.
func (s *Service) Update(ctx context.Context, actor access.Actor, taskID id.TaskID, req Request) (*models.Task, error) {
	if err := s.gate.Authorize(ctx, actor, "update task", staffRoles...); err != nil {
		return nil, err
	}
	f, err := s.fields(ctx, req)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, taskID, func(t *models.Task) (bool, error) {
		changed, err := t.ApplyEdit(f, now)
		return changed, toValidation(err)
	})
}

// Complete marks one task done. Completing twice is a no-op.
func (s *Service) Complete(ctx context.Context, actor access.Actor, taskID id.TaskID) (*models.Task, error) {
	if err := s.gate.Authorize(ctx, actor, "complete task", staffRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, taskID, func(t *models.Task) (bool, error) {
		return t.Complete(now), nil
	})
}

func (s *Service) update(ctx context.Context, actor access.Actor, taskID id.TaskID, apply func(*models.Task) (bool, error)) (*models.Task, error) {
	var out *models.Task
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var from models.Status
		changed := false
		t, err := s.store.Execute(ctx, taskID, func(t *models.Task) error {
			from = t.Status
			var err error
			changed, err = apply(t)
			return err
		})
		if err != nil {
			return wrapErr(err)
		}
		out = t
		if !changed {
			return nil
		}
		event := audit.EventTaskUpdated
		if from != models.StatusCompleted && t.Status == models.StatusCompleted {
			event = audit.EventTaskCompleted
		}
		return s.emit(ctx, actor, t, event, from, t.Status)
	})
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, out), nil
}

func (s *Service) Delete(ctx context.Context, actor access.Actor, taskID id.TaskID) error {
	if err := s.gate.Authorize(ctx, actor, "delete task", deleteRoles...); err != nil {
		return err
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		return s.delete(ctx, actor, taskID)
	})
}

func (s *Service) delete(ctx context.Context, actor access.Actor, taskID id.TaskID) error {
	t, err := s.store.FindByID(ctx, taskID)
	if err != nil {
		return wrapErr(err)
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return wrapErr(err)
	}
	return s.emit(ctx, actor, t, audit.EventTaskDeleted, t.Status, "")
}

// BulkResult reports how many of the selected tasks a bulk action changed.
type BulkResult struct {
	Selected int `json:"selected"`
	Affected int `json:"affected"`
}

// BulkComplete completes the selected tasks in one transaction. Tasks that are already
// complete are skipped. An unknown id fails the whole action.
func (s *Service) BulkComplete(ctx context.Context, actor access.Actor, taskIDs []id.TaskID) (BulkResult, error) {
	if err := s.gate.Authorize(ctx, actor, "complete tasks", staffRoles...); err != nil {
		return BulkResult{}, err
	}
	ids, err := selection(taskIDs)
	if err != nil {
		return BulkResult{}, err
	}
	now := requestcontext.Now(ctx)
	res := BulkResult{Selected: len(ids)}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireAll(ctx, ids); err != nil {
			return err
		}
		for _, taskID := range ids {
			changed := false
			var from models.Status
			t, err := s.store.Execute(ctx, taskID, func(t *models.Task) error {
				from = t.Status
				changed = t.Complete(now)
				return nil
			})
			if err != nil {
				return wrapErr(err)
			}
			if !changed {
				continue
			}
			res.Affected++
			if err := s.emit(ctx, actor, t, audit.EventTaskCompleted, from, t.Status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	return res, nil
}

// BulkDelete removes the selected tasks in one transaction. An unknown id fails the whole
// action.
func (s *Service) BulkDelete(ctx context.Context, actor access.Actor, taskIDs []id.TaskID) (BulkResult, error) {
	if err := s.gate.Authorize(ctx, actor, "delete tasks", deleteRoles...); err != nil {
		return BulkResult{}, err
	}
	ids, err := selection(taskIDs)
	if err != nil {
		return BulkResult{}, err
	}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireAll(ctx, ids); err != nil {
			return err
		}
		for _, taskID := range ids {
			if err := s.delete(ctx, actor, taskID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	return BulkResult{Selected: len(ids), Affected: len(ids)}, nil
}

// requireAll fails before any write when one of ids is unknown.
func (s *Service) requireAll(ctx context.Context, ids []id.TaskID) error {
	for _, taskID := range ids {
		if _, err := s.store.FindByID(ctx, taskID); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// selection drops duplicate ids and enforces the bulk limits.
func selection(taskIDs []id.TaskID) ([]id.TaskID, error) {
	seen := make(map[id.TaskID]struct{}, len(taskIDs))
	out := make([]id.TaskID, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		if _, ok := seen[taskID]; ok {
			continue
		}
		seen[taskID] = struct{}{}
		out = append(out, taskID)
	}
	switch {
	case len(out) == 0:
		return nil, dErrors.New(dErrors.CodeValidation, "no tasks selected")
	case len(out) > MaxBulk:
		return nil, dErrors.New(dErrors.CodeValidation, "too many tasks selected")
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, taskID id.TaskID) (*models.Task, error) {
	if err := s.gate.Authorize(ctx, actor, "view task", staffRoles...); err != nil {
		return nil, err
	}
	t, err := s.store.FindByID(ctx, taskID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return s.resolve(ctx, t), nil
}

// Board is a filtered task listing with the board-wide totals.
type Board struct {
	Tasks  []*models.Task `json:"tasks"`
	Counts models.Counts  `json:"kpis"`
}

// List returns the tasks matching filter and the totals over every task. The overdue
// status is resolved against the request date.
func (s *Service) List(ctx context.Context, actor access.Actor, filter models.Filter) (*Board, error) {
	if err := s.gate.Authorize(ctx, actor, "list tasks", staffRoles...); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status: "+string(filter.Status))
	}
	if filter.Priority != "" && !filter.Priority.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown priority: "+string(filter.Priority))
	}
	today := id.DateOf(requestcontext.Now(ctx))
	filter.Today = today

	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tasks")
	}
	counts, err := s.store.Counts(ctx, today)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count tasks")
	}
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.resolve(ctx, t))
	}
	return &Board{Tasks: out, Counts: counts}, nil
}

// resolve reports the overdue status in place of the stored one.
func (s *Service) resolve(ctx context.Context, t *models.Task) *models.Task {
	cp := *t
	cp.Status = t.EffectiveStatus(id.DateOf(requestcontext.Now(ctx)))
	return &cp
}

func (s *Service) emit(ctx context.Context, actor access.Actor, t *models.Task, event audit.AuditEvent, from, to models.Status) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   t.Subject(),
		Action:    string(event),
		FromState: string(from),
		ToState:   string(to),
		Detail:    t.Title,
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "task not found")
	case errors.Is(err, store.ErrUnknownAssignee):
		return dErrors.New(dErrors.CodeValidation, "assigned user does not exist")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "task store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
