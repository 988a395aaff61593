package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/platform/middleware"
	"insureflow/internal/task/models"
	"insureflow/internal/task/service"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, actor access.Actor, req service.Request) (*models.Task, error)
	Update(ctx context.Context, actor access.Actor, taskID id.TaskID, req service.Request) (*models.Task, error)
	Complete(ctx context.Context, actor access.Actor, taskID id.TaskID) (*models.Task, error)
	Delete(ctx context.Context, actor access.Actor, taskID id.TaskID) error
	BulkComplete(ctx context.Context, actor access.Actor, taskIDs []id.TaskID) (service.BulkResult, error)
	BulkDelete(ctx context.Context, actor access.Actor, taskIDs []id.TaskID) (service.BulkResult, error)
	Get(ctx context.Context, actor access.Actor, taskID id.TaskID) (*models.Task, error)
	List(ctx context.Context, actor access.Actor, filter models.Filter) (*service.Board, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the task board routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	staff := middleware.RequireRoles(h.logger,
		access.RoleAdmin, access.RoleAgent, access.RoleClaimOfficer,
		access.RoleFinanceOfficer, access.RoleReportOfficer, access.RoleComplianceOfficer,
	)
	managers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer)

	r.Group(func(r chi.Router) {
		r.Use(staff)
		r.Get("/tasks", h.HandleList)
		r.Post("/tasks", h.HandleCreate)
		r.Post("/tasks/bulk", h.HandleBulk)
		r.Get("/tasks/{id}", h.HandleGet)
		r.Patch("/tasks/{id}", h.HandleUpdate)
		r.Post("/tasks/{id}/complete", h.HandleComplete)
		r.With(managers).Delete("/tasks/{id}", h.HandleDelete)
	})
}

type taskRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	AssignedTo   *int64   `json:"assigned_to,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	DueDate      *id.Date `json:"due_date,omitempty"`
	ClearDueDate bool     `json:"clear_due_date,omitempty"`
	Week         int      `json:"week"`
	assignee     *id.UserID
}

func (r *taskRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.Priority = strings.ToLower(strings.TrimSpace(r.Priority))
	if r.Week < 0 {
		return dErrors.New(dErrors.CodeValidation, "week must be at least 1")
	}
	if r.Description != nil && len(*r.Description) > 5000 {
		return dErrors.New(dErrors.CodeValidation, "description must be at most 5000 characters")
	}
	if r.AssignedTo != nil {
		if *r.AssignedTo < 0 {
			return dErrors.New(dErrors.CodeValidation, "invalid assigned_to")
		}
		u := id.UserID(*r.AssignedTo)
		r.assignee = &u
	}
	if r.ClearDueDate {
		if r.DueDate != nil {
			return dErrors.New(dErrors.CodeValidation, "due_date and clear_due_date are exclusive")
		}
		r.DueDate = &id.Date{}
	}
	return nil
}

func (r *taskRequest) toService() service.Request {
	return service.Request{
		Title:       r.Title,
		Description: r.Description,
		AssignedTo:  r.assignee,
		Status:      models.Status(r.Status),
		Priority:    models.Priority(r.Priority),
		DueDate:     r.DueDate,
		Week:        r.Week,
	}
}

type bulkRequest struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
}

func (r *bulkRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	switch r.Action {
	case "complete", "delete":
	default:
		return dErrors.New(dErrors.CodeValidation, "action must be complete or delete")
	}
	if len(r.IDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "no tasks selected")
	}
	for _, v := range r.IDs {
		if v <= 0 {
			return dErrors.New(dErrors.CodeValidation, "invalid task id")
		}
	}
	return nil
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[taskRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	t, err := h.service.Create(ctx, actor, req.toService())
	if err != nil {
		h.fail(ctx, w, "create task", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[taskRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	t, err := h.service.Update(ctx, actor, taskID, req.toService())
	if err != nil {
		h.fail(ctx, w, "update task", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.service.Complete(ctx, actor, taskID)
	if err != nil {
		h.fail(ctx, w, "complete task", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(ctx, actor, taskID); err != nil {
		h.fail(ctx, w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[bulkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	ids := make([]id.TaskID, len(req.IDs))
	for i, v := range req.IDs {
		ids[i] = id.TaskID(v)
	}

	var res service.BulkResult
	var err error
	if req.Action == "delete" {
		res, err = h.service.BulkDelete(ctx, actor, ids)
	} else {
		res, err = h.service.BulkComplete(ctx, actor, ids)
	}
	if err != nil {
		h.fail(ctx, w, "bulk "+req.Action+" tasks", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.service.Get(ctx, actor, taskID)
	if err != nil {
		h.fail(ctx, w, "get task", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	q := r.URL.Query()
	filter := models.Filter{
		Search:   q.Get("search"),
		Status:   models.Status(q.Get("status")),
		Priority: models.Priority(q.Get("priority")),
	}
	if raw := q.Get("week"); raw != "" {
		week, err := strconv.Atoi(raw)
		if err != nil || week < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid week"))
			return
		}
		filter.Week = week
	}
	board, err := h.service.List(ctx, actor, filter)
	if err != nil {
		h.fail(ctx, w, "list tasks", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, board)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
